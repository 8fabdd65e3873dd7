package migrations

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	dbmigrations "github.com/solroute/solroute/db/migrations"
)

func TestEmbeddedMigrationsWellFormed(t *testing.T) {
	files, err := fs.Glob(dbmigrations.Files, "*.sql")
	if err != nil {
		t.Fatalf("glob embedded migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}

	names := make(map[string]bool, len(files))
	for _, name := range files {
		names[name] = true
	}
	for _, name := range files {
		if strings.HasSuffix(name, ".up.sql") {
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			if !names[down] {
				t.Errorf("migration %s has no matching down migration", name)
			}
		}
	}
}

func TestApplyRejectsMalformedDSN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Apply(ctx, "://not-a-dsn"); err == nil {
		t.Fatal("expected error for malformed dsn")
	}
}
