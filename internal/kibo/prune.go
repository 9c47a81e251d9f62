package kibo

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// PruneResult reports what prune reclaimed.
type PruneResult struct {
	BlobsDeleted     int
	BlobBytesFreed   int64
	DumpsDeleted     int
	DumpBytesFreed   int64
}

// Prune implements the garbage collector, spec.md 4.H, grounded on
// original_source/src/store.rs's garbage_collect: the live set is the
// union of every manifest's file digests and database_dump basename, and
// anything under store/ or db_snapshots/ outside that union is reclaimed.
// A manifest that fails to parse is skipped with a warning rather than
// aborting the whole prune -- one corrupt manifest should not block
// reclaiming space referenced by every other one.
func Prune(root string) (res *PruneResult, err error) {
	defer Return(&err)

	names, listErr := listManifestNames(root)
	Ck(listErr)

	liveDigests := map[string]bool{}
	liveDumps := map[string]bool{}
	for _, name := range names {
		m, loadErr := LoadManifest(root, name)
		if loadErr != nil {
			log.Warnf("prune: skipping unreadable manifest %s: %v", name, loadErr)
			continue
		}
		for _, fe := range m.Files {
			liveDigests[fe.Digest] = true
		}
		if m.DatabaseDump != "" {
			liveDumps[m.DatabaseDump] = true
		}
	}

	res = &PruneResult{}

	blobDeleted, blobBytes, blobErr := pruneBlobs(root, liveDigests)
	Ck(blobErr)
	res.BlobsDeleted, res.BlobBytesFreed = blobDeleted, blobBytes

	dumpDeleted, dumpBytes, dumpErr := pruneDumps(root, liveDumps)
	Ck(dumpErr)
	res.DumpsDeleted, res.DumpBytesFreed = dumpDeleted, dumpBytes

	return res, nil
}

func pruneBlobs(root string, live map[string]bool) (deleted int, bytesFreed int64, err error) {
	defer Return(&err)

	base := storeDir(root)
	shards, readErr := os.ReadDir(base)
	if os.IsNotExist(readErr) {
		return 0, 0, nil
	}
	Ck(readErr)

	for _, shard := range shards {
		if !shard.IsDir() {
			continue // stray files at store/ top level (e.g. leftover spool files) are not this function's job
		}
		shardPath := filepath.Join(base, shard.Name())
		entries, entriesErr := os.ReadDir(shardPath)
		Ck(entriesErr)
		for _, e := range entries {
			digest := shard.Name() + e.Name()
			if live[digest] {
				continue
			}
			info, statErr := e.Info()
			Ck(statErr)
			Ck(os.Remove(filepath.Join(shardPath, e.Name())))
			deleted++
			bytesFreed += info.Size()
		}
		// remove the shard directory itself if it is now empty, keeping
		// store/ tidy the way store.rs's garbage_collect does.
		if remaining, _ := os.ReadDir(shardPath); len(remaining) == 0 {
			os.Remove(shardPath)
		}
	}
	return
}

func pruneDumps(root string, live map[string]bool) (deleted int, bytesFreed int64, err error) {
	defer Return(&err)

	base := dbSnapshotsDir(root)
	entries, readErr := os.ReadDir(base)
	if os.IsNotExist(readErr) {
		return 0, 0, nil
	}
	Ck(readErr)

	for _, e := range entries {
		if live[e.Name()] {
			continue
		}
		info, statErr := e.Info()
		Ck(statErr)
		Ck(os.Remove(filepath.Join(base, e.Name())))
		deleted++
		bytesFreed += info.Size()
	}
	return
}
