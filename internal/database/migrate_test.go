package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
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
			t.Errorf("unexpected file %q in migrations", name)
		}
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
	for v := range downs {
		if !ups[v] {
			t.Errorf("migration %s has no up file", v)
		}
	}
}

func TestInitMigrationDeclaresRunningSessionIndex(t *testing.T) {
	raw, err := fs.ReadFile(migrationFS, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := string(raw)
	if !strings.Contains(sql, "uniq_exam_sessions_running") || !strings.Contains(sql, "WHERE status = 'RUNNING'") {
		t.Error("init migration must declare the partial unique index on running sessions")
	}
}
