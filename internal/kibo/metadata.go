package kibo

import (
	"os"
	"time"

	. "github.com/stevegt/goadapt"
)

// SetMode restores POSIX permission bits verbatim -- spec.md 4.E: "the
// saved mode is restored verbatim," not masked by the current umask.
// Grounded on original_source/src/fs_utils.rs's set_file_mode.
func SetMode(path string, mode uint32) error {
	fm := os.FileMode(mode & 0o777)
	if mode&0o4000 != 0 {
		fm |= os.ModeSetuid
	}
	if mode&0o2000 != 0 {
		fm |= os.ModeSetgid
	}
	if mode&0o1000 != 0 {
		fm |= os.ModeSticky
	}
	return os.Chmod(path, fm)
}

// SetMtime restores a file's modification time from the manifest's
// {secs,nanos} encoding. atime is left equal to mtime, the conventional
// choice when only mtime is tracked. Grounded on
// original_source/src/fs_utils.rs's set_file_mtime.
func SetMtime(path string, ts Timestamp) error {
	t := ts.Time()
	return os.Chtimes(path, t, t)
}

// CaptureMode and CaptureMtime read back the metadata SetMode/SetMtime
// write, used by both the save pipeline (to populate manifest entries)
// and the load pipeline's fast path (to decide whether a file already
// matches its manifest record without rehashing).
func CaptureMode(info os.FileInfo) uint32 {
	return uint32(info.Mode().Perm()) | execBits(info)
}

// execBits preserves setuid/setgid/sticky bits that info.Mode().Perm()
// strips, since spec.md 3 asks for "POSIX mode bits (permissions,
// including executable bit)" in full.
func execBits(info os.FileInfo) uint32 {
	var extra uint32
	mode := info.Mode()
	if mode&os.ModeSetuid != 0 {
		extra |= 0o4000
	}
	if mode&os.ModeSetgid != 0 {
		extra |= 0o2000
	}
	if mode&os.ModeSticky != 0 {
		extra |= 0o1000
	}
	return extra
}

func CaptureMtime(info os.FileInfo) Timestamp {
	return TimestampFromTime(info.ModTime())
}

// EnsureDir creates path (and parents) if it does not already exist.
func EnsureDir(path string) (err error) {
	defer Return(&err)
	if _, statErr := os.Stat(path); statErr == nil {
		return nil
	}
	return os.MkdirAll(path, 0755)
}

// sameMtime compares two timestamps at one-second granularity, matching
// the fast-path comparison spec.md 4.G step 4 describes ("compare size
// and mtime; if they match, trust").
func sameMtime(a Timestamp, b time.Time) bool {
	return a.Secs == b.Unix()
}
