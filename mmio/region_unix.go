//go:build unix

package mmio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a window of physical address space mapped for shared
// read/write access.  It is either fully mapped or closed.
type Region struct {
	mu   sync.RWMutex
	phys int64
	fd   int
	mem  []byte
}

// Open maps [phys, phys+length) of device, usually DevMem.
// phys must be page aligned.
func Open(device string, phys int64, length int) (*Region, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMap, length)
	}
	if phys < 0 || phys%int64(unix.Getpagesize()) != 0 {
		return nil, fmt.Errorf("%w: base 0x%X is not page aligned", ErrMap, phys)
	}
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceOpen, device, err)
	}
	mem, err := unix.Mmap(fd, phys, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: 0x%X+0x%X: %v", ErrMap, phys, length, err)
	}
	return &Region{phys: phys, fd: fd, mem: mem}, nil
}

// Phys returns the physical base address of the region
func (r *Region) Phys() int64 {
	return r.phys
}

// Len returns the size of the region in bytes, zero once closed
func (r *Region) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mem)
}

func (r *Region) word(off int) (*uint32, error) {
	if r.mem == nil {
		return nil, ErrClosed
	}
	if err := checkOffset(off, len(r.mem)); err != nil {
		return nil, err
	}
	return (*uint32)(unsafe.Pointer(&r.mem[off])), nil
}

// Read32 performs a single 32-bit load at off
func (r *Region) Read32(off int) (uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.word(off)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// Write32 performs a single 32-bit store at off
func (r *Region) Write32(off int, v uint32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.word(off)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, v)
	return nil
}

// Close unmaps the region and releases the device handle.
// Calling Close more than once is a no-op.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if err2 := unix.Close(r.fd); err == nil {
		err = err2
	}
	r.fd = -1
	return err
}
