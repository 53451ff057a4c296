//go:build !unix

package mmio

import "fmt"

// Region is unavailable on this platform
type Region struct{}

// Open always fails on platforms without mmap
func Open(device string, phys int64, length int) (*Region, error) {
	return nil, fmt.Errorf("%w: %s: physical memory mapping not supported on this platform", ErrDeviceOpen, device)
}

// Phys returns zero
func (r *Region) Phys() int64 { return 0 }

// Len returns zero
func (r *Region) Len() int { return 0 }

// Read32 always returns ErrClosed
func (r *Region) Read32(off int) (uint32, error) { return 0, ErrClosed }

// Write32 always returns ErrClosed
func (r *Region) Write32(off int, v uint32) error { return ErrClosed }

// Close is a no-op
func (r *Region) Close() error { return nil }
