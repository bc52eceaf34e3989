package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func runStoreSuite(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	part, err := st.Open(ctx, "static@v1")
	require.NoError(t, err)
	require.Equal(t, "static@v1", part.Name())

	_, err = st.Open(ctx, "")
	require.ErrorIs(t, err, ErrInvalidInput)

	// Opened-but-empty partitions must be visible to enumeration.
	names, err := st.ListPartitions(ctx)
	require.NoError(t, err)
	require.Contains(t, names, "static@v1")

	_, err = part.Get(ctx, "/app.js")
	require.ErrorIs(t, err, ErrNotFound)

	entry, err := DocumentEntry(map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.NoError(t, part.Put(ctx, "/app.js", entry))

	got, err := part.Get(ctx, "/app.js")
	require.NoError(t, err)
	require.JSONEq(t, `{"hello":"world"}`, string(got.Document))

	require.Error(t, part.Put(ctx, "", entry))

	keys, err := part.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"/app.js"}, keys)

	deleted, err := part.Delete(ctx, "/app.js")
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = part.Delete(ctx, "/app.js")
	require.NoError(t, err)
	require.False(t, deleted)

	other, err := st.Open(ctx, "dynamic@v1")
	require.NoError(t, err)
	require.NoError(t, other.Put(ctx, "/api/tools", entry))

	removed, err := st.DeletePartition(ctx, "dynamic@v1")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = st.DeletePartition(ctx, "dynamic@v1")
	require.NoError(t, err)
	require.False(t, removed)

	names, err = st.ListPartitions(ctx)
	require.NoError(t, err)
	require.NotContains(t, names, "dynamic@v1")
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()
	runStoreSuite(t, st)
	require.NoError(t, st.Close())
}

func TestFileStore(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runStoreSuite(t, st)
	require.NoError(t, st.Close())
}

func TestFileStoreRejectsSecondProcess(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileStore(dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = NewFileStore(dir)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := NewFileStore(dir)
	require.NoError(t, err)
	part, err := st.Open(ctx, "offline-queue@v1")
	require.NoError(t, err)
	entry, err := DocumentEntry(map[string]string{"token": "abc"})
	require.NoError(t, err)
	require.NoError(t, part.Put(ctx, "abc", entry))
	require.NoError(t, st.Close())

	st, err = NewFileStore(dir)
	require.NoError(t, err)
	defer st.Close()
	part, err = st.Open(ctx, "offline-queue@v1")
	require.NoError(t, err)
	got, err := part.Get(ctx, "abc")
	require.NoError(t, err)
	require.JSONEq(t, `{"token":"abc"}`, string(got.Document))
}

func TestBuildFromDSN(t *testing.T) {
	st, err := BuildFromDSN("", nil)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, st)

	st, err = BuildFromDSN("memory://", nil)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, st)

	st, err = BuildFromDSN(t.TempDir(), nil)
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, st)
	require.NoError(t, st.Close())

	st, err = BuildFromDSN("file://"+t.TempDir(), nil)
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, st)
	require.NoError(t, st.Close())

	_, err = BuildFromDSN("gopher://nope", nil)
	require.Error(t, err)
}

func TestNames(t *testing.T) {
	names := Names{Version: "v3"}
	require.Equal(t, "static@v3", names.Static())
	require.Equal(t, "offline-queue@v3", names.OfflineQueue())
	require.Len(t, names.All(), 7)

	require.True(t, names.Current("dynamic@v3"))
	require.False(t, names.Current("dynamic@v2"))
	require.False(t, names.Current("dynamic"))

	purpose, version := PartitionPurpose("tool-data@v3")
	require.Equal(t, "tool-data", purpose)
	require.Equal(t, "v3", version)

	purpose, version = PartitionPurpose("legacy")
	require.Equal(t, "legacy", purpose)
	require.Equal(t, "", version)
}
