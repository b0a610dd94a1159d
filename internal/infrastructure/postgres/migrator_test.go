package postgres

import (
	"io/fs"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}

	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	if len(ups) != len(downs) {
		t.Fatalf("expected every up migration to have a down migration: %v / %v", ups, downs)
	}
}
