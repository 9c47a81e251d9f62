package kibo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureLayoutCreatesFixedSubdirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))

	for _, sub := range []string{StoreDir, ManifestsDir, DbSnapshotsDir} {
		info, err := os.Stat(filepath.Join(root, KiboDir, sub))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestFindRepoRootWalksUpToMarkerFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFile), []byte(""), 0644))

	nested := filepath.Join(root, "build", "deep", "dir")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := FindRepoRoot(nested)
	require.NoError(t, err)

	wantAbs, err := filepath.Abs(root)
	require.NoError(t, err)
	require.Equal(t, wantAbs, found)
}

func TestFindRepoRootMissingMarkerIsWorkspaceMissing(t *testing.T) {
	root := t.TempDir()
	_, err := FindRepoRoot(root)
	require.Error(t, err)
	require.Equal(t, KindWorkspaceMissing, KindOf(err))
}
