package kibo

import (
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// SnapshotInfo is the summary row `list` prints for one snapshot, grounded
// on original_source/src/manifest.rs's list_snapshots.
type SnapshotInfo struct {
	Name         string
	CreatedAt    Timestamp
	FileCount    int
	TotalSize    int64
	DatabaseDump string
}

// SortKey selects the column `list --sort` orders by.
type SortKey int

const (
	SortByCreated SortKey = iota
	SortByName
	SortBySize
	SortByFiles
)

// listManifestNames returns every snapshot name with a manifest on disk,
// derived from the .json basenames under manifests/.
func listManifestNames(root string) (names []string, err error) {
	defer Return(&err)

	entries, readErr := os.ReadDir(manifestsDir(root))
	if os.IsNotExist(readErr) {
		return nil, nil
	}
	Ck(readErr)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// ListSnapshots enumerates all snapshots and sorts them by key: ascending
// for SortByName, descending for SortBySize, SortByFiles and the default
// SortByCreated (newest first) -- matching manifest.rs's list_snapshots
// ordering. A manifest that fails to
// load is skipped with a warning rather than failing the whole listing.
func ListSnapshots(root string, key SortKey) (infos []SnapshotInfo, err error) {
	defer Return(&err)

	names, listErr := listManifestNames(root)
	Ck(listErr)

	for _, name := range names {
		m, loadErr := LoadManifest(root, name)
		if loadErr != nil {
			log.Warnf("list: skipping unreadable manifest %s: %v", name, loadErr)
			continue
		}
		infos = append(infos, SnapshotInfo{
			Name:         m.Name,
			CreatedAt:    m.CreatedAt,
			FileCount:    m.FileCount,
			TotalSize:    m.TotalSize,
			DatabaseDump: m.DatabaseDump,
		})
	}

	switch key {
	case SortByName:
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	case SortBySize:
		sort.Slice(infos, func(i, j int) bool { return infos[i].TotalSize > infos[j].TotalSize })
	case SortByFiles:
		sort.Slice(infos, func(i, j int) bool { return infos[i].FileCount > infos[j].FileCount })
	default:
		sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Secs > infos[j].CreatedAt.Secs })
	}
	return infos, nil
}

// RemoveSnapshot deletes a manifest and its database dump sidecar (if
// any), but never touches blobs -- that reclaim happens only via Prune,
// per spec.md 4.I: "rm never touches the blob store."
func RemoveSnapshot(root, name string) error {
	return DeleteManifest(root, name)
}
