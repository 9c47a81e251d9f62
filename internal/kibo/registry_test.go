package kibo

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedManifest(t *testing.T, root, name string, createdAt int64, fileCount int, totalSize int64) {
	t.Helper()
	files := make([]FileEntry, fileCount)
	for i := range files {
		files[i] = FileEntry{Path: string(rune('a' + i)), Digest: "d", Size: totalSize / int64(max(fileCount, 1))}
	}
	m := NewManifest(name, files, nil, nil, nil, nil, time.Unix(createdAt, 0))
	require.NoError(t, m.Save(root))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestListManifestNamesStripsJSONSuffix(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	seedManifest(t, root, "alpha", 1, 1, 10)
	seedManifest(t, root, "beta", 2, 1, 10)

	names, err := listManifestNames(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, names)
}

func TestListManifestNamesOnMissingDirIsEmpty(t *testing.T) {
	root := t.TempDir()
	names, err := listManifestNames(root)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestListSnapshotsSortsByCreatedDescendingByDefault(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	seedManifest(t, root, "old", 100, 1, 10)
	seedManifest(t, root, "new", 200, 1, 10)

	infos, err := ListSnapshots(root, SortByCreated)
	require.NoError(t, err)
	require.Equal(t, []string{"new", "old"}, []string{infos[0].Name, infos[1].Name})
}

func TestListSnapshotsSortsByNameAscending(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	seedManifest(t, root, "zeta", 1, 1, 10)
	seedManifest(t, root, "alpha", 2, 1, 10)

	infos, err := ListSnapshots(root, SortByName)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "zeta"}, []string{infos[0].Name, infos[1].Name})
}

func TestListSnapshotsSortsBySizeDescending(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	seedManifest(t, root, "small", 1, 1, 10)
	seedManifest(t, root, "big", 2, 1, 1000)

	infos, err := ListSnapshots(root, SortBySize)
	require.NoError(t, err)
	require.Equal(t, "big", infos[0].Name)
}

func TestListSnapshotsSkipsCorruptManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	seedManifest(t, root, "good", 1, 1, 10)
	require.NoError(t, os.WriteFile(ManifestPath(root, "bad"), []byte("{not json"), 0644))

	infos, err := ListSnapshots(root, SortByCreated)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "good", infos[0].Name)
}

func TestRemoveSnapshotDeletesManifestOnly(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	store := NewStore(root, 0)
	digest, err := store.Put([]byte("still referenced by nobody after rm, but rm must not touch it"))
	require.NoError(t, err)

	m := NewManifest("s1", []FileEntry{{Path: "a", Digest: digest, Size: 1}}, nil, nil, nil, nil, time.Unix(1, 0))
	require.NoError(t, m.Save(root))

	require.NoError(t, RemoveSnapshot(root, "s1"))
	require.False(t, Exists(root, "s1"))

	have, err := store.Has(digest)
	require.NoError(t, err)
	require.True(t, have) // rm never touches the blob store; only prune reclaims
}
