package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMigrationsTable(t *testing.T) {
	got, err := withMigrationsTable("postgres://u:p@db:5432/devis?sslmode=disable", "schema_migrations_devis")
	require.NoError(t, err)
	assert.Contains(t, got, "sslmode=disable")
	assert.Contains(t, got, "x-migrations-table=schema_migrations_devis")
	assert.True(t, strings.HasPrefix(got, "postgres://u:p@db:5432/devis?"))
}

func TestMigrationSetsArePaired(t *testing.T) {
	for _, set := range []string{SetDevis, SetNotification, SetReceiver} {
		entries, err := fs.ReadDir(migrationsFS, "migrations/"+set)
		require.NoError(t, err, set)
		require.NotEmpty(t, entries, set)

		ups, downs := 0, 0
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".up.sql"):
				ups++
			case strings.HasSuffix(e.Name(), ".down.sql"):
				downs++
			}
		}
		assert.Equal(t, ups, downs, set)
	}
}

func TestDevisMigrationsSeedCatalog(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/devis/000001_catalog.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "'BP-001'")
}
