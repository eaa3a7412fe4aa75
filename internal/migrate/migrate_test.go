package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		body, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", e.Name())
		assert.Contains(t, string(body), "-- +goose Down", e.Name())
		assert.True(t, strings.HasSuffix(e.Name(), ".sql"))
	}
}

func TestSeededNamesAreUnique(t *testing.T) {
	var all strings.Builder
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)
	for _, e := range entries {
		body, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		require.NoError(t, err)
		all.Write(body)
	}

	// Seeding runs on every start and relies on these to skip existing rows.
	assert.Contains(t, all.String(), "CREATE UNIQUE INDEX clients_name_upper_idx ON clients (upper(name))")
	assert.Contains(t, all.String(), "CREATE UNIQUE INDEX providers_name_upper_idx ON providers (upper(name))")
}
