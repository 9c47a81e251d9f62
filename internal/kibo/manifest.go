package kibo

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	. "github.com/stevegt/goadapt"
)

// FormatVersion is bumped whenever the on-disk manifest schema changes in
// a way old readers cannot tolerate -- spec.md 4.D: "an unrecognized
// format version is a hard error."
const FormatVersion = 1

// Timestamp is the {secs, nanos} encoding spec.md 4.D requires for all
// manifest times.
type Timestamp struct {
	Secs  int64 `json:"secs"`
	Nanos int32 `json:"nanos"`
}

// TimestampFromTime converts a time.Time to the manifest's wire format.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Secs: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Secs, int64(ts.Nanos)).UTC()
}

// FileEntry is one tracked regular file or symlink. Field order here is
// the manifest's on-disk key order, since encoding/json emits struct
// fields in declaration order -- see SPEC_FULL.md 4.D for why that
// satisfies "stable key order" without a third-party codec.
type FileEntry struct {
	Path      string    `json:"path"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	Mode      uint32    `json:"mode"`
	Mtime     Timestamp `json:"mtime"`
	IsSymlink bool      `json:"is_symlink,omitempty"`
}

// DirEntry is one tracked directory, including empty ones.
type DirEntry struct {
	Path  string    `json:"path"`
	Mode  uint32    `json:"mode"`
	Mtime Timestamp `json:"mtime"`
}

// Manifest is the JSON document describing one snapshot. Grounded on
// original_source/src/manifest.rs's Manifest/FileEntry/DirectoryEntry.
type Manifest struct {
	Name             string      `json:"name"`
	FormatVersion    int         `json:"format_version"`
	CreatedAt        Timestamp   `json:"created_at"`
	Directories      []DirEntry  `json:"directories"`
	Files            []FileEntry `json:"files"`
	TrackedDirectories []string  `json:"tracked_directories"`
	TrackedFiles     []string    `json:"tracked_files"`
	IgnoredPatterns  []string    `json:"ignored_patterns"`
	DatabaseDump     string      `json:"database_dump,omitempty"`

	// FileCount and TotalSize are derived summary fields recomputed on
	// save, kept on the struct (rather than computed ad hoc by every
	// caller) because both list and save output need them.
	FileCount int   `json:"file_count"`
	TotalSize int64 `json:"total_size"`
}

var validSnapshotName = regexp.MustCompile(`^[^/\\\x00]{1,255}$`)

// ValidateSnapshotName enforces spec.md 3's "≤255 chars, must not contain
// path separators or null."
func ValidateSnapshotName(name string) error {
	if !validSnapshotName.MatchString(name) {
		return fmt.Errorf("invalid snapshot name %q: must be 1-255 characters with no path separators or null bytes", name)
	}
	return nil
}

// NewManifest builds a manifest from already-walked entries, sorting both
// slices lexicographically by path so save is deterministic across runs
// (spec.md 4.C's ordering clause).
func NewManifest(name string, files []FileEntry, dirs []DirEntry, trackedDirs, trackedFiles, ignored []string, createdAt time.Time) *Manifest {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })

	var total int64
	for _, f := range files {
		total += f.Size
	}

	return &Manifest{
		Name:               name,
		FormatVersion:      FormatVersion,
		CreatedAt:          TimestampFromTime(createdAt),
		Directories:        dirs,
		Files:              files,
		TrackedDirectories: trackedDirs,
		TrackedFiles:       trackedFiles,
		IgnoredPatterns:    ignored,
		FileCount:          len(files),
		TotalSize:          total,
	}
}

// Exists reports whether a manifest named name is already on disk.
func Exists(root, name string) bool {
	_, err := os.Stat(ManifestPath(root, name))
	return err == nil
}

// Save atomically writes the manifest to manifests/<name>.json. Only after
// this rename is the snapshot visible to list and load -- spec.md 4.F
// step 7.
func (m *Manifest) Save(root string) (err error) {
	defer Return(&err)

	buf, marshalErr := json.MarshalIndent(m, "", "  ")
	Ck(marshalErr)

	dest := ManifestPath(root, m.Name)
	t, createErr := renameio.TempFile(manifestsDir(root), dest)
	Ck(createErr)
	defer t.Cleanup()

	_, writeErr := t.Write(buf)
	Ck(writeErr)
	Ck(t.CloseAtomicallyReplace())
	return
}

// LoadManifest reads and validates manifests/<name>.json.
func LoadManifest(root, name string) (m *Manifest, err error) {
	defer Return(&err)

	path := ManifestPath(root, name)
	buf, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, Wrap(KindSnapshotNotFound, path, readErr)
		}
		return nil, Wrap(KindIoError, path, readErr)
	}

	m = &Manifest{}
	if decErr := json.Unmarshal(buf, m); decErr != nil {
		return nil, Wrap(KindManifestCorrupt, path, decErr)
	}
	if m.FormatVersion != FormatVersion {
		return nil, Wrap(KindVersionUnsupported, path, fmt.Errorf("manifest format version %d unsupported (want %d)", m.FormatVersion, FormatVersion))
	}
	return m, nil
}

// DeleteManifest removes manifests/<name>.json and, if it referenced a
// database dump, that sidecar too -- but never blobs (that is prune's
// job, per spec.md 4.I).
func DeleteManifest(root, name string) (err error) {
	defer Return(&err)

	m, loadErr := LoadManifest(root, name)
	if loadErr != nil && KindOf(loadErr) != KindManifestCorrupt {
		Ck(loadErr)
	}

	path := ManifestPath(root, name)
	if rmErr := os.Remove(path); rmErr != nil {
		return Wrap(KindIoError, path, rmErr)
	}

	if m != nil && m.DatabaseDump != "" {
		sidecar := DumpSidecarPath(root, m.DatabaseDump)
		if rmErr := os.Remove(sidecar); rmErr != nil && !os.IsNotExist(rmErr) {
			return Wrap(KindIoError, sidecar, rmErr)
		}
	}
	return nil
}

// HumanSize renders m.TotalSize the way original_source/src/manifest.rs's
// format_size does: KB/MB/GB/TB with two decimals, falling back to a bare
// byte count below 1024.
func (m *Manifest) HumanSize() string {
	return FormatSize(m.TotalSize)
}

// FormatSize is the standalone byte-count formatter manifest.rs exposes.
func FormatSize(size int64) string {
	const unit = 1024.0
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := unit, 0
	for n := size / 1024; n >= 1024; n /= 1024 {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return fmt.Sprintf("%.2f %s", float64(size)/div, units[exp])
}

// ShouldIgnore reports whether relPath matches any of the manifest's
// recorded ignore patterns, used by the load pipeline when recomputing
// the target tracked set against the *saved* patterns rather than the
// live config -- spec.md 4.G step 2.
func (m *Manifest) ShouldIgnore(relPath string) bool {
	return matchesAnyIgnorePattern(relPath, m.IgnoredPatterns)
}

func matchesAnyIgnorePattern(relPath string, patterns []string) bool {
	norm := strings.ReplaceAll(relPath, "\\", "/")
	for _, p := range patterns {
		if matchIgnorePattern(norm, p) {
			return true
		}
	}
	return false
}
