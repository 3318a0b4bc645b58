// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package whitelist_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gamesession/internal/whitelist"
	"github.com/holomush/gamesession/pkg/errutil"
)

func writeList(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	wl := whitelist.New(path)

	names, err := wl.Load()
	require.NoError(t, err)
	assert.Empty(t, names)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	writeList(t, path, `["Bob","Alice"]`)

	names, err := whitelist.New(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Alice"}, names)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	writeList(t, path, `{"not":"a list"}`)

	_, err := whitelist.New(path).Load()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "WHITELIST_INVALID")
}

func TestContains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	writeList(t, path, `["Bob"]`)
	wl := whitelist.New(path)

	ok, err := wl.Contains("Bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = wl.Contains("Carol")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = wl.Contains("bob")
	require.NoError(t, err)
	assert.False(t, ok, "matching is case sensitive")
}

func TestRename(t *testing.T) {
	t.Run("replaces in place", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "whitelist.json")
		writeList(t, path, `["Bob","Alice","Carol"]`)
		wl := whitelist.New(path)

		require.NoError(t, wl.Rename("Alice", "Alicia"))

		names, err := wl.Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"Bob", "Alicia", "Carol"}, names)
	})

	t.Run("absent name is a no-op", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "whitelist.json")
		writeList(t, path, `["Bob"]`)
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		require.NoError(t, whitelist.New(path).Rename("Alice", "Alicia"))

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "whitelist.json")
		err := whitelist.New(path).Rename("Alice", "Alicia")
		require.Error(t, err)
		assert.ErrorIs(t, err, whitelist.ErrMissing)
		errutil.AssertErrorCode(t, err, "WHITELIST_MISSING")

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr), "rename must not create the file")
	})
}

func TestAddRemoveList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	wl := whitelist.New(path)

	names, err := wl.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "list must not create the file")

	added, err := wl.Add("Bob")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = wl.Add("Bob")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = wl.Add("Carol")
	require.NoError(t, err)

	names, err = wl.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Carol"}, names)

	removed, err := wl.Remove("Bob")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = wl.Remove("Bob")
	require.NoError(t, err)
	assert.False(t, removed)

	names, err = wl.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Carol"}, names)
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	writeList(t, path, `["seed"]`)

	// Two handles on the same file model two processes; they only share
	// the flock, not the in-process mutex.
	a := whitelist.New(path)
	b := whitelist.New(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := a.Add(fmt.Sprintf("a%d", i))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := b.Add(fmt.Sprintf("b%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.Rename("seed", "renamed"))
	}()
	wg.Wait()

	names, err := a.Load()
	require.NoError(t, err)
	assert.Len(t, names, 41)
	assert.Contains(t, names, "renamed")
	assert.NotContains(t, names, "seed")
}

func TestNew_DefaultPath(t *testing.T) {
	assert.Equal(t, whitelist.DefaultPath, whitelist.New("").Path())
}
