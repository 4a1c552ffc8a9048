package ledger

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applied, err := Migrate(db, DBSQLite)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 migrations applied, got %v", applied)
	}
	again, err := Migrate(db, DBSQLite)
	if err != nil {
		t.Fatalf("migrate second: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing applied on rerun, got %v", again)
	}

	for _, table := range []string{"contributions", "wallets", "keys", "decision_receipts", "event_outbox"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", count)
	}
}

func TestMigrationsListing(t *testing.T) {
	for _, driver := range []DBDriver{DBSQLite, DBPostgres} {
		migrations, err := Migrations(driver)
		if err != nil {
			t.Fatalf("%s: list migrations: %v", driver, err)
		}
		if len(migrations) != 2 || migrations[0].Version != "0001_init" {
			t.Fatalf("%s: unexpected migrations: %+v", driver, migrations)
		}
		if migrations[1].SQL == "" {
			t.Fatalf("%s: empty migration body", driver)
		}
	}

	if _, err := Migrations(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for missing db")
	}
}
