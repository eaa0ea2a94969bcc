package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	mdatabase "github.com/golang-migrate/migrate/v4/database"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/go-while/go-rangeview/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// tablePlaceholder is replaced with the quoted table name in every migration file
const tablePlaceholder = "{{table}}"

// tableMigrations serves the embedded migrations with the placeholder bound to one table
type tableMigrations struct {
	source.Driver
	quoted string
}

func (s *tableMigrations) ReadUp(version uint) (io.ReadCloser, string, error) {
	r, identifier, err := s.Driver.ReadUp(version)
	if err != nil {
		return nil, identifier, err
	}
	body, err := s.bind(r)
	return body, identifier, err
}

func (s *tableMigrations) ReadDown(version uint) (io.ReadCloser, string, error) {
	r, identifier, err := s.Driver.ReadDown(version)
	if err != nil {
		return nil, identifier, err
	}
	body, err := s.bind(r)
	return body, identifier, err
}

func (s *tableMigrations) bind(r io.ReadCloser) (io.ReadCloser, error) {
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(strings.ReplaceAll(string(raw), tablePlaceholder, s.quoted))), nil
}

// migrationsTable names the version table of one scanned table, so every table migrates on its own
func migrationsTable(table string) string {
	return table + "_schema_migrations"
}

// newMigrate builds a migrator for table on a dedicated connection; closing the migrator closes it.
// The shared pool stays untouched since the migrate drivers pin and close their *sql.DB.
func (d *Database) newMigrate(table string) (*migrate.Migrate, error) {
	if !config.ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	fsrc, err := iofs.New(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	src := &tableMigrations{Driver: fsrc, quoted: quoteIdent(table)}

	conn, err := sql.Open(string(d.dialect), d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	var drv mdatabase.Driver
	switch d.dialect {
	case DialectSQLite:
		drv, err = msqlite3.WithInstance(conn, &msqlite3.Config{MigrationsTable: migrationsTable(table)})
	case DialectPostgres:
		drv, err = mpostgres.WithInstance(conn, &mpostgres.Config{MigrationsTable: migrationsTable(table)})
	default:
		err = fmt.Errorf("no migrations for driver %s", d.dialect)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d.dialect), drv)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Printf("[DB]: closing migrator: source=%v db=%v", srcErr, dbErr)
	}
}

// Migrate creates table or applies its pending schema migrations
func (d *Database) Migrate(table string) error {
	m, err := d.newMigrate(table)
	if err != nil {
		return err
	}
	defer closeMigrate(m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations for %s: %w", table, err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	log.Printf("[DB]: table %s schema at version %d (dirty=%t)", table, version, dirty)
	return nil
}

// MigrateDown rolls back every migration of table, dropping it
func (d *Database) MigrateDown(table string) error {
	m, err := d.newMigrate(table)
	if err != nil {
		return err
	}
	defer closeMigrate(m)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations for %s: %w", table, err)
	}
	return nil
}

// SchemaVersion returns the applied migration version of table, 0 when none ran yet
func (d *Database) SchemaVersion(table string) (uint, bool, error) {
	m, err := d.newMigrate(table)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrate(m)
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
