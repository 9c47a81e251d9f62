package kibo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) (root string, cfg *Config) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, EnsureLayout(root))
	cfg = DefaultConfig()
	cfg.Directories = []string{"build"}
	cfg.Files = nil
	cfg.Ignore = []string{".git", ".kibo"}
	cfg.CompressionLevel = 0
	return root, cfg
}

func saveNoDB(t *testing.T, root string, cfg *Config, name string, overwrite bool) *Manifest {
	t.Helper()
	m, err := Save(context.Background(), root, cfg, name, SaveOptions{Overwrite: overwrite, NoProgress: true}, time.Unix(1700000000, 0))
	require.NoError(t, err)
	return m
}

func TestSaveDedupsIdenticalContent(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "a.o"), content, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "b.o"), content, 0644))

	m := saveNoDB(t, root, cfg, "s1", false)
	require.Equal(t, 2, m.FileCount)
	require.Equal(t, m.Files[0].Digest, m.Files[1].Digest)

	blobCount := 0
	shards, err := os.ReadDir(storeDir(root))
	require.NoError(t, err)
	for _, shard := range shards {
		entries, err := os.ReadDir(filepath.Join(storeDir(root), shard.Name()))
		require.NoError(t, err)
		blobCount += len(entries)
	}
	require.Equal(t, 1, blobCount)
}

func TestSaveRejectsOverwriteWithoutFlag(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "a.o"), []byte("x"), 0644))

	saveNoDB(t, root, cfg, "s1", false)
	_, err := Save(context.Background(), root, cfg, "s1", SaveOptions{NoProgress: true}, time.Now())
	require.Error(t, err)
	require.Equal(t, KindSnapshotExists, KindOf(err))
}

func TestLoadDeletesExtraneousTrackedFiles(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "x"), []byte("keep"), 0644))

	saveNoDB(t, root, cfg, "s1", false)

	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "y"), []byte("extra"), 0644))

	res, err := Load(context.Background(), root, cfg, "s1", LoadOptions{NoProgress: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.FilesDeleted)

	_, statErr := os.Stat(filepath.Join(root, "build", "y"))
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(root, "build", "x"))
	require.NoError(t, statErr)
}

func TestLoadRestoresExactMtime(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	path := filepath.Join(root, "build", "x")
	require.NoError(t, os.WriteFile(path, []byte("stable"), 0644))

	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, want, want))

	saveNoDB(t, root, cfg, "s1", false)

	touched := time.Now()
	require.NoError(t, os.Chtimes(path, touched, touched))

	_, err := Load(context.Background(), root, cfg, "s1", LoadOptions{NoProgress: true})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, want.Unix(), info.ModTime().Unix())
}

func TestLoadDetectsBlobCorruption(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "x"), []byte("original content here"), 0644))

	m := saveNoDB(t, root, cfg, "s1", false)

	path, err := BlobPath(root, m.Files[0].Digest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("corrupted content!!!!"), 0644))

	require.NoError(t, os.Remove(filepath.Join(root, "build", "x"))) // force the slow path, which rehashes and fetches the blob

	_, err = Load(context.Background(), root, cfg, "s1", LoadOptions{NoProgress: true})
	require.Error(t, err)
	require.Equal(t, KindBlobCorrupt, KindOf(err))
}

func TestPruneReclaimsOnlyUnreferencedBlobs(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "a"), []byte("AAAA"), 0644))
	saveNoDB(t, root, cfg, "s1", false)

	require.NoError(t, os.Remove(filepath.Join(root, "build", "a")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "a"), []byte("BBBB"), 0644))
	saveNoDB(t, root, cfg, "s2", false)

	require.NoError(t, RemoveSnapshot(root, "s1"))

	res, err := Prune(root)
	require.NoError(t, err)
	require.Equal(t, 1, res.BlobsDeleted)

	names, err := listManifestNames(root)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s2"}, names)
}

func TestSaveOverwriteReplacesManifestDeterministically(t *testing.T) {
	root, cfg := newTestWorkspace(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "a"), []byte("same"), 0644))

	m1 := saveNoDB(t, root, cfg, "s1", false)
	m2 := saveNoDB(t, root, cfg, "s1", true)

	require.Equal(t, m1.Files, m2.Files)
	require.Equal(t, m1.TotalSize, m2.TotalSize)
}
