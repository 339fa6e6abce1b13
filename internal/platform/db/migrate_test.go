package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"003_pharmacy.sql":  "CREATE TABLE pharmacy_inventory (id UUID PRIMARY KEY);",
		"001_core.sql":      "CREATE TABLE admissions (id SERIAL PRIMARY KEY);",
		"002_bloodbank.sql": "CREATE TABLE blood_unit (id UUID PRIMARY KEY);",
		"README.md":         "not a migration",
		"notes.sql":         "-- no numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []string{"001_core.sql", "002_bloodbank.sql", "003_pharmacy.sql"} {
		if migrations[i].Name != want {
			t.Errorf("migration %d: expected %s, got %s", i, want, migrations[i].Name)
		}
		if migrations[i].Version != i+1 {
			t.Errorf("migration %d: expected version %d, got %d", i, i+1, migrations[i].Version)
		}
		if len(migrations[i].Checksum) != 64 {
			t.Errorf("migration %d: expected sha256 hex checksum, got %q", i, migrations[i].Checksum)
		}
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql":  "SELECT 1;",
		"001_other.sql": "SELECT 2;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestPending_SkipsAppliedAndRespectsTarget(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	done := map[int]appliedMigration{1: {}, 3: {}}

	all := pending(migrations, done, 0)
	if len(all) != 2 || all[0].Version != 2 || all[1].Version != 4 {
		t.Fatalf("unexpected pending set: %+v", all)
	}

	upTo3 := pending(migrations, done, 3)
	if len(upTo3) != 1 || upTo3[0].Version != 2 {
		t.Fatalf("unexpected pending set up to 3: %+v", upTo3)
	}
}

func TestStatusOf_DetectsModifiedFiles(t *testing.T) {
	appliedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql", Checksum: checksum("a")},
		{Version: 2, Name: "002_views.sql", Checksum: checksum("b-edited")},
		{Version: 3, Name: "003_new.sql", Checksum: checksum("c")},
	}
	done := map[int]appliedMigration{
		1: {checksum: checksum("a"), appliedAt: appliedAt},
		2: {checksum: checksum("b"), appliedAt: appliedAt},
	}

	st := statusOf(migrations, done)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].Modified {
		t.Errorf("001 should be applied and unmodified: %+v", st[0])
	}
	if !st[1].Applied || !st[1].Modified {
		t.Errorf("002 should be flagged modified: %+v", st[1])
	}
	if st[2].Applied || st[2].AppliedAt != nil {
		t.Errorf("003 should be pending: %+v", st[2])
	}
	if !st[0].AppliedAt.Equal(appliedAt) {
		t.Errorf("expected applied_at %v, got %v", appliedAt, st[0].AppliedAt)
	}
}

func TestEnsureMigrationsTable_RejectsBadSchema(t *testing.T) {
	m := NewMigrator(nil, t.TempDir())
	if err := m.EnsureMigrationsTable(context.Background(), "hmis; DROP TABLE x"); err == nil {
		t.Fatal("expected error for invalid schema name")
	}
}
