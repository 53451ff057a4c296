//go:build unix

package mmio_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/axisdr/sdrlab/mmio"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// backingFile stands in for /dev/mem; a shared mapping of a regular file
// behaves the same for loads and stores
func backingFile(t *testing.T, size int) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "mem")
	require.NoError(t, os.WriteFile(fn, make([]byte, size), 0o600))
	return fn
}

func TestRegionReadWrite(t *testing.T) {
	page := unix.Getpagesize()
	fn := backingFile(t, 2*page)
	r, err := mmio.Open(fn, int64(page), page)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, page, r.Len())
	require.NoError(t, r.Write32(0x18, 0x1F000000))
	v, err := r.Read32(0x18)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1F000000), v)

	_, err = r.Read32(page)
	require.True(t, errors.Is(err, mmio.ErrOffset))
}

func TestRegionCloseIsIdempotent(t *testing.T) {
	fn := backingFile(t, unix.Getpagesize())
	r, err := mmio.Open(fn, 0, unix.Getpagesize())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Read32(0)
	require.True(t, errors.Is(err, mmio.ErrClosed))
	require.True(t, errors.Is(r.Write32(0, 1), mmio.ErrClosed))
}

func TestRegionOpenFailures(t *testing.T) {
	_, err := mmio.Open(filepath.Join(t.TempDir(), "missing"), 0, 4096)
	require.True(t, errors.Is(err, mmio.ErrDeviceOpen), "got %v", err)

	fn := backingFile(t, unix.Getpagesize())
	_, err = mmio.Open(fn, 4, 4096)
	require.True(t, errors.Is(err, mmio.ErrMap), "got %v", err)

	_, err = mmio.Open(fn, 0, 0)
	require.True(t, errors.Is(err, mmio.ErrMap), "got %v", err)
}
