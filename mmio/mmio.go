/*Package mmio provides ordered 32-bit access to memory mapped peripherals.

Two implementations of Bus are provided.  Region maps a window of physical
address space through /dev/mem and is what talks to hardware.  Mem is a
plain block of words in the Go heap, used by tests and the simulator.

Basic usage is as followed:
 r, err := mmio.Open(mmio.DevMem, 0x40400000, 0x10000)
 if err != nil {
 	log.Fatal(err)
 }
 defer r.Close()
 status, err := r.Read32(0x04)

Every access is bounds and alignment checked.  There is no caching or
buffering; a Write32 is visible to the peripheral before the next Read32
on the same Bus is issued.
*/
package mmio

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DevMem is the device node that exposes physical memory on linux
const DevMem = "/dev/mem"

var (
	// ErrDeviceOpen is generated when the memory device cannot be opened
	ErrDeviceOpen = errors.New("cannot open memory device")

	// ErrMap is generated when the mapping request is rejected
	ErrMap = errors.New("cannot map physical region")

	// ErrOffset is generated when an access is misaligned or out of range
	ErrOffset = errors.New("register offset misaligned or out of range")

	// ErrClosed is generated when a closed region is accessed
	ErrClosed = errors.New("region is closed")
)

// Bus is a window of 32-bit registers or memory words addressed by byte offset
type Bus interface {
	// Read32 reads the word at byte offset off
	Read32(off int) (uint32, error)

	// Write32 writes v to the word at byte offset off
	Write32(off int, v uint32) error

	// Len is the size of the window in bytes
	Len() int
}

// checkOffset returns a wrapped ErrOffset if off cannot address a word
// inside a window of length bytes
func checkOffset(off, length int) error {
	if off < 0 || off%4 != 0 || off+4 > length {
		return fmt.Errorf("%w: 0x%X in window of 0x%X bytes", ErrOffset, off, length)
	}
	return nil
}

// Mem is a Bus backed by ordinary memory.  The zero value is an empty,
// unusable window; use NewMem.
type Mem struct {
	words []uint32
}

// NewMem returns a zeroed Mem of length bytes, rounded down to a whole word
func NewMem(length int) *Mem {
	return &Mem{words: make([]uint32, length/4)}
}

// Read32 reads the word at off
func (m *Mem) Read32(off int) (uint32, error) {
	if err := checkOffset(off, m.Len()); err != nil {
		return 0, err
	}
	return atomic.LoadUint32(&m.words[off/4]), nil
}

// Write32 writes the word at off
func (m *Mem) Write32(off int, v uint32) error {
	if err := checkOffset(off, m.Len()); err != nil {
		return err
	}
	atomic.StoreUint32(&m.words[off/4], v)
	return nil
}

// Len returns the size of the window in bytes
func (m *Mem) Len() int {
	return len(m.words) * 4
}

// Words returns a copy of the contents of the window
func (m *Mem) Words() []uint32 {
	out := make([]uint32, len(m.words))
	for i := range m.words {
		out[i] = atomic.LoadUint32(&m.words[i])
	}
	return out
}

// WriteWords writes words to b starting at byte offset off.
// The destination range is checked before anything is written.
func WriteWords(b Bus, off int, words []uint32) error {
	if len(words) == 0 {
		return nil
	}
	if err := checkOffset(off, b.Len()); err != nil {
		return err
	}
	if err := checkOffset(off+4*(len(words)-1), b.Len()); err != nil {
		return err
	}
	for i, w := range words {
		if err := b.Write32(off+4*i, w); err != nil {
			return err
		}
	}
	return nil
}

// ReadWords reads n words from b starting at byte offset off
func ReadWords(b Bus, off, n int) ([]uint32, error) {
	if n == 0 {
		return []uint32{}, nil
	}
	if err := checkOffset(off, b.Len()); err != nil {
		return nil, err
	}
	if err := checkOffset(off+4*(n-1), b.Len()); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := b.Read32(off + 4*i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Close is a no-op so Mem satisfies Mapping
func (m *Mem) Close() error {
	return nil
}

// Mapping is a Bus that must be released when no longer needed
type Mapping interface {
	Bus
	Close() error
}

// Mapper maps windows of physical address space
type Mapper interface {
	Map(phys int64, length int) (Mapping, error)
}

// DevMapper maps windows through a memory device node such as DevMem
type DevMapper struct {
	Device string
}

// Map opens a Region of the device
func (d DevMapper) Map(phys int64, length int) (Mapping, error) {
	dev := d.Device
	if dev == "" {
		dev = DevMem
	}
	r, err := Open(dev, phys, length)
	if err != nil {
		return nil, err
	}
	return r, nil
}
