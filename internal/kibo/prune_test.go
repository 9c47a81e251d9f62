package kibo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPruneUnionsLiveSetAcrossManifests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	store := NewStore(root, 0)

	liveDigest, err := store.Put([]byte("referenced by s1"))
	require.NoError(t, err)
	sharedDigest, err := store.Put([]byte("referenced by both"))
	require.NoError(t, err)
	orphanDigest, err := store.Put([]byte("referenced by nobody"))
	require.NoError(t, err)

	m1 := NewManifest("s1", []FileEntry{
		{Path: "a", Digest: liveDigest, Size: 1},
		{Path: "b", Digest: sharedDigest, Size: 1},
	}, nil, nil, nil, nil, time.Unix(1, 0))
	require.NoError(t, m1.Save(root))

	m2 := NewManifest("s2", []FileEntry{
		{Path: "c", Digest: sharedDigest, Size: 1},
	}, nil, nil, nil, nil, time.Unix(2, 0))
	require.NoError(t, m2.Save(root))

	res, err := Prune(root)
	require.NoError(t, err)
	require.Equal(t, 1, res.BlobsDeleted)

	have, err := store.Has(orphanDigest)
	require.NoError(t, err)
	require.False(t, have)

	have, err = store.Has(liveDigest)
	require.NoError(t, err)
	require.True(t, have)

	have, err = store.Has(sharedDigest)
	require.NoError(t, err)
	require.True(t, have)
}

func TestPruneSkipsUnreadableManifestRatherThanAborting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	store := NewStore(root, 0)

	digest, err := store.Put([]byte("kept"))
	require.NoError(t, err)
	m := NewManifest("good", []FileEntry{{Path: "a", Digest: digest, Size: 1}}, nil, nil, nil, nil, time.Unix(1, 0))
	require.NoError(t, m.Save(root))

	badPath := filepath.Join(manifestsDir(root), "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("not json"), 0644))

	res, err := Prune(root)
	require.NoError(t, err)
	require.Equal(t, 0, res.BlobsDeleted)
}

func TestPruneRemovesUnreferencedDumpSidecars(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))

	m := NewManifest("s1", nil, nil, nil, nil, nil, time.Unix(1, 0))
	m.DatabaseDump = "s1-app-1.sql"
	require.NoError(t, m.Save(root))
	require.NoError(t, os.WriteFile(DumpSidecarPath(root, m.DatabaseDump), []byte("dump"), 0644))
	require.NoError(t, os.WriteFile(DumpSidecarPath(root, "orphan-app-0.sql"), []byte("old"), 0644))

	res, err := Prune(root)
	require.NoError(t, err)
	require.Equal(t, 1, res.DumpsDeleted)

	_, statErr := os.Stat(DumpSidecarPath(root, m.DatabaseDump))
	require.NoError(t, statErr)
	_, statErr = os.Stat(DumpSidecarPath(root, "orphan-app-0.sql"))
	require.True(t, os.IsNotExist(statErr))
}

func TestPruneOnEmptyWorkspaceIsNoop(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))

	res, err := Prune(root)
	require.NoError(t, err)
	require.Equal(t, 0, res.BlobsDeleted)
	require.Equal(t, 0, res.DumpsDeleted)
}
