package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaKPIRules holds the rule catalog. position keeps catalog order stable
// across restarts.
const schemaKPIRules = `
CREATE TABLE IF NOT EXISTS kpi_rules (
    name TEXT PRIMARY KEY,
    description TEXT,
    category TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    position INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_kpi_rules_position ON kpi_rules(position);
`

const schemaSyntheses = `
CREATE TABLE IF NOT EXISTS syntheses (
    id TEXT PRIMARY KEY,
    city TEXT NOT NULL,
    date TEXT,
    status TEXT NOT NULL,
    total_alarms INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    counts TEXT NOT NULL,
    skipped TEXT,
    categories TEXT,
    triggered TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_syntheses_city ON syntheses(city, timestamp);
CREATE INDEX IF NOT EXISTS idx_syntheses_status ON syntheses(status);
CREATE INDEX IF NOT EXISTS idx_syntheses_timestamp ON syntheses(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaKPIRules,
		schemaSyntheses,
	}
}
