// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EveryUpHasDown(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		assert.True(t, pattern.MatchString(entry.Name()),
			"file %s should match NNNNNN_name.(up|down).sql", entry.Name())
		names[entry.Name()] = true
	}
	for name := range names {
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[base+".down.sql"], "%s has no down migration", name)
		}
	}
}

func TestMigrationsFS_AccountsSchema(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000001_accounts.up.sql")
	require.NoError(t, err)
	sql := string(up)

	assert.Contains(t, sql, "START WITH 11")
	assert.Contains(t, sql, "username                TEXT NOT NULL UNIQUE")
	assert.Contains(t, sql, "quota                   INTEGER NOT NULL DEFAULT 30")
	assert.Contains(t, sql, "WHERE psn_id IS NOT NULL")
	assert.Contains(t, sql, "WHERE rpcn_id IS NOT NULL")
}

func TestMigrationVersions(t *testing.T) {
	versions, err := migrationVersions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, versions)
}
