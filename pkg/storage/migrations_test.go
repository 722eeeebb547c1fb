package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrations_VersionsAreOrderedAndUnique(t *testing.T) {
	migrations := Migrations()
	assert.NotEmpty(t, migrations)

	seen := map[int]bool{}
	last := 0
	for _, m := range migrations {
		assert.False(t, seen[m.Version], "duplicate version %d", m.Version)
		assert.Greater(t, m.Version, last, "versions must be ascending")
		assert.NotEmpty(t, m.Description)
		assert.NotEmpty(t, m.SQL)
		seen[m.Version] = true
		last = m.Version
	}
}

func TestMigrations_CoverAllTables(t *testing.T) {
	var all strings.Builder
	for _, m := range Migrations() {
		all.WriteString(m.SQL)
	}

	for _, table := range []string{
		"users", "users_by_username", "users_by_email", "users_by_api_key",
		"roles", "roles_by_name",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table, "missing table %s", table)
	}
}
