// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleDefinition inserts or updates a rule by name.
// New rules are appended to the end of the catalog.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, rule *domain.RuleDefinition) error {
	if rule == nil || rule.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	if rule.Expression == "" {
		return fmt.Errorf("%w: rule %s has no expression", ErrInvalidInput, rule.Name)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO kpi_rules (
			name, description, category, expression, enabled, position, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM kpi_rules), ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			category = excluded.category,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, rule.Category, rule.Expression, enabled,
		now, now,
	)
	return err
}

// GetRuleDefinition retrieves a rule by name, enabled or not.
func (r *SQLRepository) GetRuleDefinition(ctx context.Context, name string) (*domain.RuleDefinition, error) {
	query := `
		SELECT name, description, category, expression, enabled, created_at, updated_at
		FROM kpi_rules
		WHERE name = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRuleDefinitions returns every stored rule in catalog order.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context) ([]*domain.RuleDefinition, error) {
	query := `
		SELECT name, description, category, expression, enabled, created_at, updated_at
		FROM kpi_rules
		ORDER BY position, name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleDefinition
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RuleDefinition, error) {
	var rule domain.RuleDefinition
	var description, category sql.NullString
	var enabled int

	if err := row.Scan(
		&rule.Name, &description, &category, &rule.Expression, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Category = category.String
	rule.Enabled = enabled == 1
	return &rule, nil
}

// SaveSynthesis stores a synthesis.
func (r *SQLRepository) SaveSynthesis(ctx context.Context, s *domain.Synthesis) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: synthesis id is required", ErrInvalidInput)
	}

	counts, err := json.Marshal(s.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	skipped, _ := json.Marshal(s.Skipped)
	categories, _ := json.Marshal(s.Categories)
	triggered, _ := json.Marshal(s.Triggered)
	metadata, _ := json.Marshal(s.Metadata)

	query := `
		INSERT INTO syntheses (
			id, city, date, status, total_alarms, timestamp,
			counts, skipped, categories, triggered, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.City, s.Date, s.Status, s.TotalAlarms, s.Timestamp.UTC(),
		string(counts), string(skipped), string(categories), string(triggered), string(metadata),
	)
	return err
}

const synthesisColumns = `
	id, city, date, status, total_alarms, timestamp,
	counts, skipped, categories, triggered, metadata
`

// GetSynthesis retrieves a synthesis by ID.
func (r *SQLRepository) GetSynthesis(ctx context.Context, id string) (*domain.Synthesis, error) {
	query := `SELECT ` + synthesisColumns + ` FROM syntheses WHERE id = ?`

	s, err := scanSynthesis(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSyntheses returns the most recent syntheses matching filter, newest first.
func (r *SQLRepository) ListSyntheses(ctx context.Context, filter domain.SynthesisFilter) ([]*domain.Synthesis, error) {
	var where []string
	var args []any

	if filter.City != "" {
		where = append(where, "city = ?")
		args = append(args, filter.City)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	query := `SELECT ` + synthesisColumns + ` FROM syntheses`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY timestamp DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	syntheses := make([]*domain.Synthesis, 0)
	for rows.Next() {
		s, err := scanSynthesis(rows)
		if err != nil {
			return nil, err
		}
		syntheses = append(syntheses, s)
	}

	return syntheses, rows.Err()
}

func scanSynthesis(row rowScanner) (*domain.Synthesis, error) {
	var s domain.Synthesis
	var date, skipped, categories, triggered sql.NullString
	var counts, metadata string

	if err := row.Scan(
		&s.ID, &s.City, &date, &s.Status, &s.TotalAlarms, &s.Timestamp,
		&counts, &skipped, &categories, &triggered, &metadata,
	); err != nil {
		return nil, err
	}

	s.Date = date.String
	if err := json.Unmarshal([]byte(counts), &s.Counts); err != nil {
		return nil, fmt.Errorf("failed to parse counts of synthesis %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of synthesis %s: %w", s.ID, err)
	}
	if skipped.Valid {
		json.Unmarshal([]byte(skipped.String), &s.Skipped)
	}
	if categories.Valid {
		json.Unmarshal([]byte(categories.String), &s.Categories)
	}
	if triggered.Valid {
		json.Unmarshal([]byte(triggered.String), &s.Triggered)
	}

	return &s, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
