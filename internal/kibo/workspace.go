package kibo

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"
)

// Layout names the fixed set of directories and files kibo keeps under a
// workspace's .kibo directory. Unlike the teacher's Db.Depth-configurable
// block/stream/tree layout, these names and the store's shard depth are
// fixed by the manifest format -- see 4.B in SPEC_FULL.md.
const (
	KiboDir          = ".kibo"
	ConfigFile       = ".kibo.toml"
	StoreDir         = "store"
	ManifestsDir     = "manifests"
	DbSnapshotsDir   = "db_snapshots"
	HistoryLogFile   = "history.log"
	HashCacheFile    = "hashcache.msgpack"
)

// FindRepoRoot walks upward from start looking for .kibo.toml, mirroring
// original_source/src/config.rs's find_repo_root. Returns KindWorkspaceMissing
// if no ancestor carries the marker file.
func FindRepoRoot(start string) (root string, err error) {
	defer Return(&err)

	abs, err := filepath.Abs(start)
	Ck(err)

	dir := abs
	for {
		marker := filepath.Join(dir, ConfigFile)
		if _, statErr := os.Stat(marker); statErr == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", Wrap(KindWorkspaceMissing, abs, errors.New("no .kibo.toml found in any ancestor directory"))
		}
		dir = parent
	}
}

// EnsureLayout creates the fixed .kibo subdirectory structure under root if
// it does not already exist. Grounded on the teacher's Db.Create() -- one
// mkdir per fixed subdirectory -- generalized to kibo's fixed three dirs.
func EnsureLayout(root string) (err error) {
	defer Return(&err)

	for _, sub := range []string{StoreDir, ManifestsDir, DbSnapshotsDir} {
		dir := filepath.Join(root, KiboDir, sub)
		err = os.MkdirAll(dir, 0755)
		Ck(err)
	}
	return
}

func storeDir(root string) string       { return filepath.Join(root, KiboDir, StoreDir) }
func manifestsDir(root string) string   { return filepath.Join(root, KiboDir, ManifestsDir) }
func dbSnapshotsDir(root string) string { return filepath.Join(root, KiboDir, DbSnapshotsDir) }
func historyLogPath(root string) string { return filepath.Join(root, KiboDir, HistoryLogFile) }
func hashCachePath(root string) string  { return filepath.Join(root, KiboDir, HashCacheFile) }
