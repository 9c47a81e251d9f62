package kibo

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for exit-code mapping and caller dispatch. It is
// deliberately a small closed set rather than a type hierarchy -- callers
// switch on Kind, not on Go type.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigInvalid
	KindWorkspaceMissing
	KindSnapshotExists
	KindSnapshotNotFound
	KindManifestCorrupt
	KindBlobMissing
	KindBlobCorrupt
	KindIoError
	KindPermissionDenied
	KindInterrupted
	KindDbToolMissing
	KindDbCommandFailed
	KindVersionUnsupported
	// KindPartialFailure marks a load where the filesystem was fully
	// restored but the trailing --include-db restore step failed.
	KindPartialFailure
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "ConfigInvalid"
	case KindWorkspaceMissing:
		return "WorkspaceMissing"
	case KindSnapshotExists:
		return "SnapshotExists"
	case KindSnapshotNotFound:
		return "SnapshotNotFound"
	case KindManifestCorrupt:
		return "ManifestCorrupt"
	case KindBlobMissing:
		return "BlobMissing"
	case KindBlobCorrupt:
		return "BlobCorrupt"
	case KindIoError:
		return "IoError"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindInterrupted:
		return "Interrupted"
	case KindDbToolMissing:
		return "DbToolMissing"
	case KindDbCommandFailed:
		return "DbCommandFailed"
	case KindVersionUnsupported:
		return "VersionUnsupported"
	case KindPartialFailure:
		return "PartialFailure"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind and a path (when relevant) around a cause.
type Error struct {
	Kind  Kind
	Path  string
	Cause error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds an *Error of the given kind around cause, nil-safe.
func Wrap(kind Kind, path string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Path: path, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, else KindUnknown.
func KindOf(err error) Kind {
	var ke *Error
	if !errors.As(err, &ke) {
		return KindUnknown
	}
	return ke.Kind
}

// ExitCode maps an error to the process exit code documented in the CLI
// surface: 0 success, 1 generic failure, 2 usage error, 3 corruption
// detected, 4 partial failure (filesystem restored but DB step failed),
// 130 interrupted.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindInterrupted:
		return 130
	case KindBlobCorrupt, KindManifestCorrupt:
		return 3
	case KindConfigInvalid, KindSnapshotExists, KindSnapshotNotFound, KindVersionUnsupported:
		return 2
	case KindPartialFailure:
		return 4
	default:
		return 1
	}
}
