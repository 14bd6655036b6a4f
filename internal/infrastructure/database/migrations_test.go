package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = files
	MigrationsDir = "."
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"0001_first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"0001_first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"0002_second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER);")},
		"0002_second.down.sql": {Data: []byte("DROP TABLE second;")},
		"README.md":            {Data: []byte("ignored")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "first") || !tableExists(t, db, "second") {
		t.Fatal("tables not created")
	}

	pending, err := db.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("Pending() = %v, %v; want none", pending, err)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "second") {
		t.Error("second table survived rollback")
	}
	if !tableExists(t, db, "first") {
		t.Error("first table rolled back too")
	}

	pending, _ = db.Pending(ctx)
	if len(pending) != 1 || pending[0].Version != "0002" || pending[0].Name != "second" {
		t.Errorf("Pending() after rollback = %+v", pending)
	}
}

func TestMigrateStopsOnFailure(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"0001_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"0002_broken.up.sql": {Data: []byte("CREATE TABL broken;")},
		"0003_later.up.sql":  {Data: []byte("CREATE TABLE later (id INTEGER);")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() with broken SQL should fail")
	}
	if !tableExists(t, db, "ok") {
		t.Error("migration before the failure was not kept")
	}
	if tableExists(t, db, "later") {
		t.Error("migration after the failure was applied")
	}
}

func TestMigrateWithoutFS(t *testing.T) {
	useMigrations(t, nil)
	MigrationsFS = nil
	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations = %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"0001_readings.up.sql", "0001", "readings", true, true},
		{"0001_readings.down.sql", "0001", "readings", false, true},
		{"0002_device_info.up.sql", "0002", "device_info", true, true},
		{"0001_readings.sql", "", "", false, false},
		{"readings.up.sql", "", "", false, false},
		{"0001_x.up.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			v, n, up, ok := parseMigrationFilename(tt.file)
			if ok != tt.wantOK || v != tt.wantVersion || n != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v, %v)", v, n, up, ok)
			}
		})
	}
}
