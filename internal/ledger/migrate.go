package ledger

import (
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// Migration is one embedded schema file.
type Migration struct {
	Version string
	SQL     string
}

// Migrate applies the embedded migrations for driver in version order and
// returns the versions it applied. Versions already recorded are skipped.
func Migrate(db *sql.DB, driver DBDriver) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(dialect.createTable); err != nil {
		return nil, fmt.Errorf("create %s: %w", dialect.table, err)
	}

	migrations, err := Migrations(driver)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	now := time.Now().UTC()
	for _, m := range migrations {
		ok, err := applyMigration(db, dialect, m, now)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

// Migrations lists the embedded migrations for driver, sorted by version.
func Migrations(driver DBDriver) ([]Migration, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir(dialect.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		contents, err := migrationsFS.ReadFile(path.Join(dialect.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(e.Name(), ".sql"),
			SQL:     string(contents),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type migrationDialect struct {
	dir         string
	table       string
	createTable string
	insert      string
	appliedAt   func(time.Time) any
}

func dialectFor(driver DBDriver) (migrationDialect, error) {
	switch driver {
	case DBSQLite:
		return migrationDialect{
			dir:   "migrations/sqlite",
			table: "schema_migrations",
			createTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TEXT NOT NULL
)`,
			insert:    `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING`,
			appliedAt: func(t time.Time) any { return t.Format(time.RFC3339) },
		}, nil
	case DBPostgres:
		return migrationDialect{
			dir:   "migrations/postgres",
			table: "curator_schema_migrations",
			createTable: `CREATE TABLE IF NOT EXISTS curator_schema_migrations (
  version TEXT PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL
)`,
			insert:    `INSERT INTO curator_schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING`,
			appliedAt: func(t time.Time) any { return t },
		}, nil
	default:
		return migrationDialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
}

// applyMigration claims the version row and runs the file in one transaction,
// so a concurrent migrator that loses the claim skips the file.
func applyMigration(db *sql.DB, dialect migrationDialect, m Migration, now time.Time) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	res, err := tx.Exec(dialect.insert, m.Version, dialect.appliedAt(now))
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("apply migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
