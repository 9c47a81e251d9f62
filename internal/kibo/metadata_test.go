package kibo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetModeAndCaptureModeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	require.NoError(t, SetMode(path, 0755))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, uint32(0755), CaptureMode(info))
}

func TestSetMtimeAndCaptureMtimeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	ts := TimestampFromTime(time.Date(2022, 6, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, SetMtime(path, ts))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, ts.Secs, CaptureMtime(info).Secs)
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestSameMtimeComparesAtSecondGranularity(t *testing.T) {
	ts := Timestamp{Secs: 1000}
	require.True(t, sameMtime(ts, time.Unix(1000, 500)))
	require.False(t, sameMtime(ts, time.Unix(1001, 0)))
}
