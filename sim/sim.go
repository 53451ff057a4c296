/*Package sim simulates an AXI DMA engine in simple mode together with the
DDR it moves data through.

The engine honors the register semantics the controller depends on: reset
self clears, the length write starts a transfer, IOC and ERR latch until
written back with ones.  The transmit (MM2S) channel streams into an
internal FIFO and the receive (S2MM) channel drains it, so a transmit
followed by a receive is a loopback.  A receive that finds fewer words
queued than its length ends early, as a stream with TLAST would, and only
the words received are written.

System implements mmio.Mapper so everything above the register layer runs
unmodified against it.
*/
package sim

import (
	"fmt"
	"sync"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/mmio"
)

// Fault selects how a channel finishes its transfers
type Fault int

const (
	// FaultNone completes normally
	FaultNone Fault = iota

	// FaultError latches the error bit instead of IOC
	FaultError

	// FaultHang never finishes
	FaultHang

	// FaultErrorAndComplete moves the data and latches both IOC and ERR
	FaultErrorAndComplete
)

// Script is the behavior of one channel
type Script struct {
	// Latency is the number of status reads after the length write that
	// report the transfer as still in flight
	Latency int

	// Fault is how the transfer ends
	Fault Fault

	// Faults is the number of transfers Fault applies to before the channel
	// behaves normally again.  Zero means every transfer
	Faults int
}

// Write is one register write seen by the engine
type Write struct {
	Off   int
	Value uint32
}

type channel struct {
	regs      axidma.ChannelRegs
	dir       axidma.Direction
	ctrl      uint32
	status    uint32
	addr      uint32
	length    uint32
	busy      bool
	reads     int
	fault     Fault
	faulted   int
	transfers int
	script    Script
}

// Engine is a simulated AXI DMA register window
type Engine struct {
	mu     sync.Mutex
	span   int
	ch     [2]*channel
	mem    *Memory
	fifo   []uint32
	writes []Write
}

// NewEngine creates an engine with a register window of span bytes that
// moves data through mem
func NewEngine(span int, layout axidma.Layout, mem *Memory) *Engine {
	e := &Engine{span: span, mem: mem}
	for _, d := range []axidma.Direction{axidma.MM2S, axidma.S2MM} {
		e.ch[d] = &channel{regs: layout.Regs(d), dir: d, status: axidma.StatusHalted}
	}
	return e
}

// SetScript replaces the behavior of a channel
func (e *Engine) SetScript(d axidma.Direction, s Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch[d].script = s
	e.ch[d].faulted = 0
}

// Transfers returns the number of transfers a channel has finished
func (e *Engine) Transfers(d axidma.Direction) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch[d].transfers
}

// Writes returns the register writes seen so far, oldest first
func (e *Engine) Writes() []Write {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Write, len(e.writes))
	copy(out, e.writes)
	return out
}

// ClearWrites empties the write log
func (e *Engine) ClearWrites() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = e.writes[:0]
}

// Pending returns the number of words streamed by MM2S not yet drained by S2MM
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fifo)
}

// Len returns the size of the register window
func (e *Engine) Len() int {
	return e.span
}

// Close is a no-op
func (e *Engine) Close() error {
	return nil
}

func (e *Engine) check(off int) error {
	if off < 0 || off%4 != 0 || off+4 > e.span {
		return fmt.Errorf("%w: 0x%X in window of 0x%X bytes", mmio.ErrOffset, off, e.span)
	}
	return nil
}

// lookup finds the channel register at off
func (e *Engine) lookup(off int) (*channel, *uint32) {
	for _, c := range e.ch {
		switch off {
		case c.regs.Control:
			return c, &c.ctrl
		case c.regs.Status:
			return c, &c.status
		case c.regs.Address:
			return c, &c.addr
		case c.regs.Length:
			return c, &c.length
		}
	}
	return nil, nil
}

// Read32 reads a register.  Reading a status register advances the
// channel's transfer by one step.
func (e *Engine) Read32(off int) (uint32, error) {
	if err := e.check(off); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, reg := e.lookup(off)
	if c == nil {
		return 0, nil
	}
	if off == c.regs.Status {
		e.tick(c)
	}
	return *reg, nil
}

// Write32 writes a register with AXI DMA side effects
func (e *Engine) Write32(off int, v uint32) error {
	if err := e.check(off); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writes = append(e.writes, Write{Off: off, Value: v})
	c, _ := e.lookup(off)
	if c == nil {
		return nil
	}
	switch off {
	case c.regs.Control:
		e.control(c, v)
	case c.regs.Status:
		c.status &^= v & (axidma.StatusIOC | axidma.StatusErr)
	case c.regs.Address:
		c.addr = v
	case c.regs.Length:
		c.length = v
		if c.ctrl&axidma.CtrlRunStop == 0 || c.busy {
			return nil
		}
		c.busy = true
		c.reads = 0
		c.fault = c.script.Fault
		if c.script.Faults > 0 && c.faulted >= c.script.Faults {
			c.fault = FaultNone
		}
		if c.fault != FaultNone {
			c.faulted++
		}
		c.status &^= axidma.StatusIdle
	}
	return nil
}

func (e *Engine) control(c *channel, v uint32) {
	if v&axidma.CtrlReset != 0 {
		// reset completes instantly and self clears
		c.ctrl = 0
		c.status = axidma.StatusHalted
		c.busy = false
		return
	}
	c.ctrl = v
	if v&axidma.CtrlRunStop == 0 {
		c.status |= axidma.StatusHalted
		return
	}
	c.status &^= axidma.StatusHalted
	if !c.busy {
		c.status |= axidma.StatusIdle
	}
}

func (e *Engine) tick(c *channel) {
	if !c.busy {
		return
	}
	c.reads++
	if c.reads <= c.script.Latency {
		return
	}
	switch c.fault {
	case FaultHang:
		return
	case FaultError:
		c.status |= axidma.StatusErr | axidma.StatusIntErr | axidma.StatusHalted
		c.busy = false
		return
	}
	err := e.move(c)
	c.busy = false
	c.transfers++
	if err != nil {
		c.status |= axidma.StatusErr | axidma.StatusDecErr | axidma.StatusHalted
		return
	}
	c.status |= axidma.StatusIOC | axidma.StatusIdle
	if c.fault == FaultErrorAndComplete {
		c.status |= axidma.StatusErr | axidma.StatusIntErr
	}
}

// move performs the data movement of a finished transfer
func (e *Engine) move(c *channel) error {
	n := int(c.length / 4)
	if c.dir == axidma.MM2S {
		words, err := e.mem.read(c.addr, n)
		if err != nil {
			return err
		}
		e.fifo = append(e.fifo, words...)
		return nil
	}
	if _, _, err := e.mem.find(c.addr, n); err != nil {
		return err
	}
	// the stream ends at TLAST once the FIFO runs dry; the tail of the
	// destination is left as it was and the length register reports the
	// bytes actually received
	k := n
	if len(e.fifo) < k {
		k = len(e.fifo)
	}
	words := append([]uint32(nil), e.fifo[:k]...)
	e.fifo = e.fifo[k:]
	c.length = uint32(4 * k)
	return e.mem.write(c.addr, words)
}

// System is an engine at a fixed base address plus the memory it serves.
// Further engines sharing the memory may be added at other bases.
type System struct {
	Base   int64
	Engine *Engine
	Memory *Memory

	span    int
	layout  axidma.Layout
	engines map[int64]*Engine
}

// NewSystem builds a simulated engine at base with a span byte window
func NewSystem(base int64, span int, layout axidma.Layout) *System {
	mem := NewMemory()
	e := NewEngine(span, layout, mem)
	return &System{
		Base:    base,
		Engine:  e,
		Memory:  mem,
		span:    span,
		layout:  layout,
		engines: map[int64]*Engine{base: e},
	}
}

// AddEngine places another engine at base and returns it.  The existing
// engine is returned if base already has one
func (s *System) AddEngine(base int64) *Engine {
	if e, ok := s.engines[base]; ok {
		return e
	}
	e := NewEngine(s.span, s.layout, s.Memory)
	s.engines[base] = e
	return e
}

// Map returns the engine for its base address and DDR for anything else
func (s *System) Map(phys int64, length int) (mmio.Mapping, error) {
	if e, ok := s.engines[phys]; ok {
		if length > e.Len() {
			return nil, fmt.Errorf("%w: 0x%X bytes requested of a 0x%X byte register window", mmio.ErrMap, length, e.Len())
		}
		return e, nil
	}
	return s.Memory.Map(phys, length)
}
