package kibo

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapIsNilSafe(t *testing.T) {
	require.Nil(t, Wrap(KindIoError, "x", nil))
}

func TestKindOfUnwrapsThroughPlainWrappedErrors(t *testing.T) {
	base := Wrap(KindBlobCorrupt, "deadbeef", io.ErrUnexpectedEOF)
	wrapped := errors.Wrap(base, "while restoring")
	require.Equal(t, KindBlobCorrupt, KindOf(wrapped))
}

func TestKindOfOnPlainErrorIsUnknown(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{Wrap(KindIoError, "", io.ErrUnexpectedEOF), 1},
		{Wrap(KindInterrupted, "", io.ErrUnexpectedEOF), 130},
		{Wrap(KindBlobCorrupt, "", io.ErrUnexpectedEOF), 3},
		{Wrap(KindManifestCorrupt, "", io.ErrUnexpectedEOF), 3},
		{Wrap(KindConfigInvalid, "", io.ErrUnexpectedEOF), 2},
		{Wrap(KindSnapshotExists, "", io.ErrUnexpectedEOF), 2},
		{Wrap(KindSnapshotNotFound, "", io.ErrUnexpectedEOF), 2},
		{Wrap(KindVersionUnsupported, "", io.ErrUnexpectedEOF), 2},
		{Wrap(KindPartialFailure, "", io.ErrUnexpectedEOF), 4},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ExitCode(c.err))
	}
}

func TestErrorMessageIncludesPathWhenPresent(t *testing.T) {
	err := Wrap(KindBlobCorrupt, "/root/.kibo/store/ab/cdef", io.ErrUnexpectedEOF)
	require.Contains(t, err.Error(), "/root/.kibo/store/ab/cdef")
	require.Contains(t, err.Error(), "BlobCorrupt")
}
