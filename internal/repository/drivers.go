package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kestrel-noc/kestrel/internal/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath   = "./kestrel.db"
	defaultPostgresHost = "localhost"
	defaultPostgresPort = 5432
	defaultPostgresDB   = "kestrel"
	defaultSSLMode      = "disable"
)

// sqlitePragmas keep the synthesis store usable from the API and the worker at once.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openDB opens the configured driver and checks the connection.
func openDB(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case "sqlite":
		path := sqlitePath(cfg)
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		driverName, dsn = "sqlite", sqliteDSN(path)
	case "postgres":
		driverName, dsn = "postgres", postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}
	return db, nil
}

func sqlitePath(cfg domain.RepositoryConfig) string {
	if cfg.SQLitePath == "" {
		return defaultSQLitePath
	}
	return cfg.SQLitePath
}

// sqliteDSN builds a modernc.org/sqlite URI for path.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// postgresDSN builds a lib/pq connection URL. Credentials are escaped so
// passwords with spaces or '@' survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = defaultPostgresPort
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = defaultPostgresDB
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = defaultSSLMode
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}
