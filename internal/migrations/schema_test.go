package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(sqlFS, "sql")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file in migrations: %s", name)
		}
	}
	for v := range ups {
		if !downs[v] {
			t.Fatalf("migration %s has no down file", v)
		}
	}
}

func TestInitMigrationCreatesEngineTables(t *testing.T) {
	raw, err := fs.ReadFile(sqlFS, "sql/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	body := string(raw)
	for _, table := range []string{"bundles", "perks", "users", "jobs"} {
		if !strings.Contains(body, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("init migration does not create %s", table)
		}
	}
	if !strings.Contains(body, "CHECK (credits_available >= 0)") {
		t.Fatal("expected non-negative balance constraint on users")
	}
}

func TestNewMigrateRejectsNilDB(t *testing.T) {
	if _, err := newMigrate(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
