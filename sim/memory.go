package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/axisdr/sdrlab/mmio"
)

type region struct {
	base int64
	mem  *mmio.Mem
}

func (r region) end() int64 {
	return r.base + int64(r.mem.Len())
}

// Memory is simulated DDR made of the regions mapped so far
type Memory struct {
	mu      sync.Mutex
	regions []region
}

// NewMemory returns an empty memory
func NewMemory() *Memory {
	return &Memory{}
}

// Map returns the region at phys, creating it if needed.  Mapping the same
// base again returns the same words, as /dev/mem would.
func (m *Memory) Map(phys int64, length int) (mmio.Mapping, error) {
	if length <= 0 || length%4 != 0 || phys < 0 {
		return nil, fmt.Errorf("%w: 0x%X+0x%X", mmio.ErrMap, phys, length)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regions {
		if r.base == phys && length <= r.mem.Len() {
			return r.mem, nil
		}
		if phys < r.end() && r.base < phys+int64(length) {
			return nil, fmt.Errorf("%w: 0x%X+0x%X overlaps 0x%X+0x%X", mmio.ErrMap, phys, length, r.base, r.mem.Len())
		}
	}
	r := region{base: phys, mem: mmio.NewMem(length)}
	m.regions = append(m.regions, r)
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].base < m.regions[j].base })
	return r.mem, nil
}

func (m *Memory) find(addr uint32, n int) (*mmio.Mem, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := int64(addr)
	for _, r := range m.regions {
		if a >= r.base && a+int64(4*n) <= r.end() {
			return r.mem, int(a - r.base), nil
		}
	}
	return nil, 0, fmt.Errorf("no memory at 0x%08X+0x%X", addr, 4*n)
}

func (m *Memory) read(addr uint32, n int) ([]uint32, error) {
	mem, off, err := m.find(addr, n)
	if err != nil {
		return nil, err
	}
	return mmio.ReadWords(mem, off, n)
}

func (m *Memory) write(addr uint32, words []uint32) error {
	mem, off, err := m.find(addr, len(words))
	if err != nil {
		return err
	}
	return mmio.WriteWords(mem, off, words)
}
