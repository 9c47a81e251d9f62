package kibo

import (
	"fmt"
	"path/filepath"
)

// BlobPath returns the on-disk path for a blob given its digest, using the
// two-level prefix/rest shard scheme from original_source/src/store.rs's
// blob_path(): the first two hex characters become a subdirectory, the
// remaining 62 the filename. This supersedes the teacher's path.go, which
// shards on a configurable Db.Depth of three-character segments -- depth
// is fixed here because the manifest format (SPEC_FULL.md 4.D) does not
// carry a shard-depth field, so the layout must be a format constant, not
// a per-store setting.
func BlobPath(root, digest string) (string, error) {
	if len(digest) < 3 {
		return "", fmt.Errorf("malformed digest: %q", digest)
	}
	return filepath.Join(storeDir(root), digest[:2], digest[2:]), nil
}

// DumpSidecarPath returns the on-disk path for a database dump basename.
func DumpSidecarPath(root, basename string) string {
	return filepath.Join(dbSnapshotsDir(root), basename)
}

// ManifestPath returns the on-disk path of the manifest for snapshot name.
func ManifestPath(root, name string) string {
	return filepath.Join(manifestsDir(root), name+".json")
}
