// Package database provides the SQL binding of go-rangeview: connection setup, migrations,
// the range-queryable table source and seeding.
package database

import (
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/go-while/go-rangeview/internal/config"
)

// Dialect is the SQL flavour of the bound database, named after its database/sql driver
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Database wraps the primary database connection pool
type Database struct {
	db       *sql.DB
	dialect  Dialect
	dsn      string // as passed to the driver
	dbconfig *DBConfig
}

// DBConfig represents database configuration
type DBConfig struct {
	Driver string // sqlite3 or postgres
	DSN    string // file path for sqlite3, connection string for postgres

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SQLite performance settings
	WALMode     bool   // Write-Ahead Logging
	SyncMode    string // OFF, NORMAL, FULL
	CacheSize   int    // KB when negative
	BusyTimeout time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		Driver:          string(DialectSQLite),
		DSN:             "./data/rangeview.sq3",
		MaxOpenConns:    16,
		MaxIdleConns:    4,
		ConnMaxLifetime: 0, // Unlimited for SQLite - connections don't need to be recycled
		WALMode:         true,
		SyncMode:        "NORMAL",
		CacheSize:       -16384, // -16384 == 1024 KB * 16384 = 16MB cache
		BusyTimeout:     30 * time.Second,
	}
}

// NewDBConfig builds the connection settings from the application config
func NewDBConfig(c config.DatabaseConfig) *DBConfig {
	dbconfig := DefaultDBConfig()
	dbconfig.Driver = c.Driver
	dbconfig.DSN = c.DSN
	if c.MaxOpenConns > 0 {
		dbconfig.MaxOpenConns = c.MaxOpenConns
		if dbconfig.MaxIdleConns > c.MaxOpenConns {
			dbconfig.MaxIdleConns = c.MaxOpenConns
		}
	}
	if Dialect(c.Driver) == DialectPostgres {
		// recycle server connections behind poolers and failovers
		dbconfig.ConnMaxLifetime = 30 * time.Minute
	}
	return dbconfig
}

// Open connects to the configured database and verifies the connection
func Open(dbconfig *DBConfig) (*Database, error) {
	if dbconfig == nil {
		dbconfig = DefaultDBConfig()
	}
	dialect := Dialect(dbconfig.Driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", dbconfig.Driver)
	}
	if dbconfig.DSN == "" {
		return nil, fmt.Errorf("empty DSN for driver %s", dialect)
	}

	dsn := dbconfig.DSN
	if dialect == DialectSQLite {
		if path := sqlitePath(dsn); path != "" {
			if err := createDirIfNotExists(filepath.Dir(path)); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn, dbconfig)
	}

	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(dbconfig.MaxOpenConns)
	conn.SetMaxIdleConns(dbconfig.MaxIdleConns)
	conn.SetConnMaxLifetime(dbconfig.ConnMaxLifetime)

	// Test connection
	if err := conn.Ping(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			return nil, fmt.Errorf("failed to ping database: %w; also failed to close: %v", err, cerr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[DB]: opened %s database (max_open_conns=%d)", dialect, dbconfig.MaxOpenConns)
	return &Database{db: conn, dialect: dialect, dsn: dsn, dbconfig: dbconfig}, nil
}

// DB returns the underlying connection pool for direct access
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect returns the SQL flavour of the connection
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// Close closes the connection pool
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// sqliteDSN appends the per-connection pragmas as go-sqlite3 DSN parameters so every pooled connection gets them
func sqliteDSN(dsn string, cfg *DBConfig) string {
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=" + strconv.FormatInt(cfg.BusyTimeout.Milliseconds(), 10),
	}
	if cfg.SyncMode != "" {
		params = append(params, "_synchronous="+cfg.SyncMode)
	}
	if cfg.CacheSize != 0 {
		params = append(params, "_cache_size="+strconv.Itoa(cfg.CacheSize))
	}
	if cfg.WALMode {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// sqlitePath returns the file path of a sqlite DSN, or "" for in-memory databases
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// rebind rewrites ? placeholders into the dialect's form
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
