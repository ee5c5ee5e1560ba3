package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

// withMigrations swaps the registered migration set for the duration of a test.
func withMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = files, "."
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "sub", "nested", "flyport.db")

		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // test cleanup

		if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
			t.Errorf("database directory not created: %v", err)
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
		}
	})

	t.Run("health check", func(t *testing.T) {
		db := openTestDB(t)
		if err := db.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck() error = %v", err)
		}
	})

	t.Run("close is idempotent on nil", func(t *testing.T) {
		var db *DB
		if err := db.Close(); err != nil {
			t.Errorf("Close() on nil = %v", err)
		}
	})
}

func TestDSN(t *testing.T) {
	got := dsn(Config{Path: "/tmp/x.db", BusyTimeout: 2, WALMode: true})
	for _, want := range []string{"file:/tmp/x.db", "_busy_timeout=2000", "_foreign_keys=on", "_journal_mode=WAL"} {
		if !strings.Contains(got, want) {
			t.Errorf("dsn %q missing %q", got, want)
		}
	}
	if strings.Contains(dsn(Config{Path: "/tmp/x.db"}), "WAL") {
		t.Error("WAL pragma present with WALMode=false")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name    string
		version string
		isUp    bool
		ok      bool
	}{
		{"20260118_120000_line_events.up.sql", "20260118_120000", true, true},
		{"20260118_120000_line_events.down.sql", "20260118_120000", false, true},
		{"20260118_120000_line_events.sql", "", false, false},
		{"README.md", "", false, false},
		{"nounderscore.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.name)
			if version != tt.version || isUp != tt.isUp || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
					tt.name, version, isUp, ok, tt.version, tt.isUp, tt.ok)
			}
		})
	}
}

func TestMigrationName(t *testing.T) {
	if got := migrationName("20260118_120000_line_events.up.sql"); got != "line_events" {
		t.Errorf("migrationName() = %q, want line_events", got)
	}
}

func TestMigrate_ApplyAndRollback(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260101_000000_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER PRIMARY KEY);")},
		"20260101_000000_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"20260102_000000_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER PRIMARY KEY);")},
		"20260102_000000_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"notes.txt":                       {Data: []byte("ignored")},
	})

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Idempotent.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='second'").Scan(&name)
	if err == nil {
		t.Error("table second should be dropped after MigrateDown")
	}

	applied, pending, err = db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 || pending[0].Name != "second" {
		t.Errorf("after rollback applied=%d pending=%v", len(applied), pending)
	}
}

func TestMigrate_FailureStopsAndKeepsEarlier(t *testing.T) {
	withMigrations(t, fstest.MapFS{
		"20260101_000000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260102_000000_bad.up.sql":  {Data: []byte("THIS IS NOT SQL;")},
	})

	db := openTestDB(t)
	ctx := context.Background()

	err := db.Migrate(ctx)
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("Migrate() error = %v, want failure naming the bad migration", err)
	}

	applied, _, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260101_000000" {
		t.Errorf("applied = %v, want only the good migration", applied)
	}
}

func TestMigrate_NoFilesystem(t *testing.T) {
	origFS := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = origFS })

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations = %v", err)
	}
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() with nothing applied = %v", err)
	}
}
