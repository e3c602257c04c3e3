package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "project:abc", escapeLike("project:abc"))
	assert.Equal(t, `project:a\_b\%c\\`, escapeLike(`project:a_b%c\`))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := fs.ReadFile(migrations, migrationsDir+"/"+entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "PRIMARY KEY (subscription_id, correlation_key, discriminator)")
}

func TestAttemptQueryGuardsCooldown(t *testing.T) {
	// The guard must compare against the excluded row so that a single
	// statement decides insert, advance or no-op.
	assert.True(t, strings.Contains(queryAttemptTrigger, "ON CONFLICT (subscription_id, correlation_key, discriminator)"))
	assert.True(t, strings.Contains(queryAttemptTrigger, "WHERE subscription_triggers.last_trigger <= EXCLUDED.last_trigger - $5"))
	assert.True(t, strings.Contains(queryAttemptTrigger, "RETURNING"))
}
