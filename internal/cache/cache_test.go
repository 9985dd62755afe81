package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/bedtime/internal/planner"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	file, err := NewFileStore(filepath.Join(t.TempDir(), "file"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", SQLiteFile))
	require.NoError(t, err)
	out := map[string]Store{
		DriverFile:   file,
		DriverSQLite: sqlite,
		DriverMemory: NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range out {
			s.Close()
		}
	})
	return out
}

func TestStoresGetSetDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get("missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set("k", []byte(`{"a":1}`)))
			got, err := store.Get("k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":1}`, string(got))

			require.NoError(t, store.Set("k", []byte(`{"a":2}`)))
			got, err = store.Get("k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(got))

			require.NoError(t, store.Delete("k"))
			_, err = store.Get("k")
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, store.Delete("k"), "deleting twice is fine")
		})
	}
}

func TestFileStoreEscapesKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("../escape/attempt", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].IsDir())

	got, err := store.Get("../escape/attempt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), SQLiteFile)
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(StateKey, []byte(`{"bedtime":"23:00"}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(StateKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bedtime":"23:00"}`, string(got))
}

func TestOpenDrivers(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"", DriverFile, DriverSQLite, DriverMemory, " SQLite "} {
		store, err := Open(driver, dir)
		require.NoError(t, err, driver)
		require.NoError(t, store.Close())
	}
	_, err := Open("redis", dir)
	require.Error(t, err)
}

func TestStateCacheRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	n := planner.Normalizer{Now: func() time.Time { return now }}
	c := NewStateCache(NewMemoryStore(), n)

	state, ok := c.Load()
	assert.False(t, ok)
	assert.Equal(t, planner.DefaultState(now.UnixMilli()), state)

	saved := planner.State{
		Bedtime:   "23:10",
		UpdatedAt: 4242,
		Tasks: []planner.Task{{
			ID:         "a",
			Title:      "pack bag",
			PlannedMin: 10,
			CreatedAt:  now,
			UpdatedAt:  now,
		}},
	}
	require.NoError(t, c.Save(saved))

	state, ok = c.Load()
	assert.True(t, ok)
	assert.Equal(t, saved, state)

	require.NoError(t, c.Clear())
	_, ok = c.Load()
	assert.False(t, ok)
}

func TestStateCacheToleratesGarbage(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	require.NoError(t, store.Set(StateKey, []byte("{not json")))
	c := NewStateCache(store, planner.Normalizer{Now: func() time.Time { return now }})

	state, ok := c.Load()
	assert.True(t, ok)
	assert.Equal(t, planner.DefaultState(now.UnixMilli()), state)
}

func TestStateCacheWritesEmptyTaskArray(t *testing.T) {
	store := NewMemoryStore()
	c := NewStateCache(store, planner.DefaultNormalizer)
	require.NoError(t, c.Save(planner.State{Bedtime: "22:30", UpdatedAt: 1}))
	raw, err := store.Get(StateKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bedtime":"22:30","tasks":[],"updatedAt":1}`, string(raw))
}
