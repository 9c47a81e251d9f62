package kibo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	}
}

func relPaths(files []walkedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestWalkFindsFilesUnderTrackedDirectoryNames(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"build/a.o":         "1",
		"build/nested/b.o":  "2",
		"src/main.go":       "not tracked",
		"other/build/c.o":   "3", // "build" anywhere in the tree counts, by base name
	})

	wr, err := Walk(root, []string{"build"}, nil, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"build/a.o", "build/nested/b.o", "other/build/c.o"}, relPaths(wr.Files))
}

func TestWalkRespectsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"build/a.o":      "1",
		"build/keep.tmp": "2",
	})

	wr, err := Walk(root, []string{"build"}, nil, []string{"*.tmp"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"build/a.o"}, relPaths(wr.Files))
}

func TestWalkMatchesFilePatternsWithDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"reports/2024/jan.log": "1",
		"reports/2024/feb.log": "2",
		"reports/summary.txt":  "3",
	})

	wr, err := Walk(root, nil, []string{"reports/**/*.log"}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"reports/2024/jan.log", "reports/2024/feb.log"}, relPaths(wr.Files))
}

func TestWalkMatchesPlainFilePatternAtAnyDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/CHANGELOG.md":   "1",
		"b/c/CHANGELOG.md": "2",
		"a/README.md":      "3",
	})

	wr, err := Walk(root, nil, []string{"CHANGELOG.md"}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a/CHANGELOG.md", "b/c/CHANGELOG.md"}, relPaths(wr.Files))
}

func TestWalkRecordsSymlinkTarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"build/real.o": "content"})
	linkPath := filepath.Join(root, "build", "link.o")
	require.NoError(t, os.Symlink("real.o", linkPath))

	wr, err := Walk(root, []string{"build"}, nil, nil)
	require.NoError(t, err)

	var found bool
	for _, f := range wr.Files {
		if f.RelPath == "build/link.o" {
			found = true
			require.Equal(t, "real.o", f.LinkTarget)
		}
	}
	require.True(t, found)
}

func TestWalkSkipsKiboDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureLayout(root))
	writeTree(t, root, map[string]string{"build/a.o": "1"})

	wr, err := Walk(root, []string{"build"}, []string{"**/*"}, nil)
	require.NoError(t, err)
	for _, f := range wr.Files {
		require.NotContains(t, f.RelPath, KiboDir)
	}
}

func TestMatchSegmentsDoubleStar(t *testing.T) {
	require.True(t, matchSegments([]string{"a", "b", "c"}, []string{"a", "**", "c"}))
	require.True(t, matchSegments([]string{"a", "c"}, []string{"a", "**", "c"}))
	require.False(t, matchSegments([]string{"a", "b"}, []string{"a", "**", "c"}))
	require.True(t, matchSegments([]string{"x", "y", "z"}, []string{"**"}))
}
