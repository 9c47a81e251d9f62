package kibo

import (
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	. "github.com/stevegt/goadapt"
)

// cacheEntry mirrors original_source/src/file_hash.rs's CacheEntry: the
// (size, mtime) fingerprint a file had when it was last hashed, plus the
// digest that hash produced.
type cacheEntry struct {
	Size  int64     `msgpack:"size"`
	Mtime Timestamp `msgpack:"mtime"`
	Digest string   `msgpack:"digest"`
}

// HashCache memoizes per-path (size,mtime)->digest so re-saving an
// unchanged workspace can skip rehashing large unchanged files. It is not
// part of the manifest compatibility boundary (SPEC_FULL.md 10.O) and can
// be deleted at any time without affecting correctness, only speed.
//
// The teacher's db/account.go names msgpack in a comment as the intended
// format for exactly this kind of small auxiliary side-cache but never
// wires it up (github.com/vmihailenco/msgpack); this is that wiring.
type HashCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]cacheEntry
	dirty   bool
}

// LoadHashCache reads root/.kibo/hashcache.msgpack, tolerating a missing
// or corrupt cache by starting fresh -- it is an optimization, not a
// correctness requirement.
func LoadHashCache(root string) *HashCache {
	hc := &HashCache{path: hashCachePath(root), entries: map[string]cacheEntry{}}
	buf, err := os.ReadFile(hc.path)
	if err != nil {
		return hc
	}
	var entries map[string]cacheEntry
	if err := msgpack.Unmarshal(buf, &entries); err != nil {
		return hc
	}
	hc.entries = entries
	return hc
}

// Get returns the cached digest for relPath if its recorded size and
// mtime still match.
func (hc *HashCache) Get(relPath string, size int64, mtime Timestamp) (digest string, ok bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	e, found := hc.entries[relPath]
	if !found || e.Size != size || e.Mtime != mtime {
		return "", false
	}
	return e.Digest, true
}

// Insert records a fresh (size,mtime)->digest fingerprint for relPath.
func (hc *HashCache) Insert(relPath string, size int64, mtime Timestamp, digest string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.entries[relPath] = cacheEntry{Size: size, Mtime: mtime, Digest: digest}
	hc.dirty = true
}

// Save persists the cache if it changed since load, via the same
// atomic-rename discipline as the blob store and manifest writers.
func (hc *HashCache) Save() (err error) {
	defer Return(&err)

	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.dirty {
		return nil
	}

	buf, marshalErr := msgpack.Marshal(hc.entries)
	Ck(marshalErr)

	tmp := hc.path + ".tmp"
	Ck(os.WriteFile(tmp, buf, 0644))
	Ck(os.Rename(tmp, hc.path))
	hc.dirty = false
	return
}
