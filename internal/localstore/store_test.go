package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)

	in := []fakeRecord{{ID: "pat_1", Name: "Ada"}, {ID: "pat_2", Name: "Grace"}}
	store.Save(BucketPatients, in)

	var out []fakeRecord
	require.True(t, store.Load(BucketPatients, &out))
	assert.Equal(t, in, out)
}

func TestLoadMissingBucketLeavesDefault(t *testing.T) {
	store := openTestStore(t)

	out := []fakeRecord{{ID: "preset"}}
	assert.False(t, store.Load(BucketEncounters, &out))
	assert.Equal(t, []fakeRecord{{ID: "preset"}}, out, "out must stay untouched")
}

func TestLoadCorruptBucketDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.Exec(
		`INSERT INTO buckets(name, payload, updated_at) VALUES(?, ?, ?)`,
		BucketPatients, []byte("{not json"), "2025-01-01T00:00:00Z")
	require.NoError(t, err)

	var out []fakeRecord
	assert.False(t, store.Load(BucketPatients, &out))
	assert.Empty(t, out)
}

func TestSaveOverwrites(t *testing.T) {
	store := openTestStore(t)

	store.Save(BucketSettings, map[string]string{"theme": "light"})
	store.Save(BucketSettings, map[string]string{"theme": "dark"})

	var out map[string]string
	require.True(t, store.Load(BucketSettings, &out))
	assert.Equal(t, "dark", out["theme"])
}

func TestUnknownBucketIsNoOp(t *testing.T) {
	store := openTestStore(t)

	store.Save("nonsense", "value")
	var out string
	assert.False(t, store.Load("nonsense", &out))
}

func TestSaveAfterCloseIsNoOp(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	store.Save(BucketPatients, []fakeRecord{{ID: "late"}})
	var out []fakeRecord
	assert.False(t, store.Load(BucketPatients, &out))
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	store.Save(BucketEpisodes, []fakeRecord{{ID: "ses_1"}})
	require.NoError(t, store.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	var out []fakeRecord
	require.True(t, reopened.Load(BucketEpisodes, &out))
	assert.Equal(t, "ses_1", out[0].ID)
}
