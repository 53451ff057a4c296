package axidma

import (
	"fmt"

	"github.com/axisdr/sdrlab/util"
)

// Direction is the direction of a DMA channel
type Direction int

const (
	// MM2S is memory-mapped to stream, the transmit direction
	MM2S Direction = iota

	// S2MM is stream to memory-mapped, the receive direction
	S2MM
)

func (d Direction) String() string {
	switch d {
	case MM2S:
		return "MM2S"
	case S2MM:
		return "S2MM"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// control register bits
const (
	runStopBit = 0

	// CtrlRunStop starts the channel when set, stops it when cleared
	CtrlRunStop uint32 = 1 << runStopBit

	// CtrlReset soft resets the channel.  It self clears when the reset completes
	CtrlReset uint32 = 1 << 2
)

// status register bits.  StatusIOC and StatusErr are write-one-to-clear,
// the rest are read only
const (
	StatusHalted uint32 = 1 << 0
	StatusIdle   uint32 = 1 << 1
	StatusIntErr uint32 = 1 << 4
	StatusSlvErr uint32 = 1 << 5
	StatusDecErr uint32 = 1 << 6
	StatusIOC    uint32 = 1 << 12
	StatusErr    uint32 = 1 << 14

	// StatusClearAll is written to the status register to drop every latched bit
	StatusClearAll uint32 = 0xFFFFFFFF

	// statusIRQ are the latched, write-one-to-clear bits
	statusIRQ = StatusIOC | StatusErr
)

var statusNames = map[uint]string{
	0:  "HALTED",
	1:  "IDLE",
	4:  "DMA_INT_ERR",
	5:  "DMA_SLV_ERR",
	6:  "DMA_DEC_ERR",
	12: "IOC_IRQ",
	14: "ERR_IRQ",
}

// Status is the raw content of a DMASR register
type Status uint32

// Halted is true when the channel is stopped
func (s Status) Halted() bool { return uint32(s)&StatusHalted != 0 }

// Idle is true when the channel has no transfer in flight
func (s Status) Idle() bool { return uint32(s)&StatusIdle != 0 }

// Complete is true when the transfer complete bit is latched
func (s Status) Complete() bool { return uint32(s)&StatusIOC != 0 }

// Error is true when the error bit is latched
func (s Status) Error() bool { return uint32(s)&StatusErr != 0 }

// String formats the status as hex followed by the names of its set bits
func (s Status) String() string {
	return fmt.Sprintf("0x%08X [%s]", uint32(s), util.BitNames(uint32(s), statusNames))
}

// ChannelRegs holds the byte offsets of one channel's registers
// within the engine's address window
type ChannelRegs struct {
	// Control is the DMACR register
	Control int `koanf:"control" yaml:"control"`

	// Status is the DMASR register
	Status int `koanf:"status" yaml:"status"`

	// Address is the source (MM2S) or destination (S2MM) address register
	Address int `koanf:"address" yaml:"address"`

	// Length is the transfer length register.  Writing it starts the transfer
	Length int `koanf:"length" yaml:"length"`
}

func (c ChannelRegs) offsets() []int {
	return []int{c.Control, c.Status, c.Address, c.Length}
}

// Layout is the register map of an engine with both channels
type Layout struct {
	MM2S ChannelRegs `koanf:"mm2s" yaml:"mm2s"`
	S2MM ChannelRegs `koanf:"s2mm" yaml:"s2mm"`
}

// DefaultLayout is the register map of the Xilinx AXI DMA in simple
// (register direct) mode
var DefaultLayout = Layout{
	MM2S: ChannelRegs{Control: 0x00, Status: 0x04, Address: 0x18, Length: 0x28},
	S2MM: ChannelRegs{Control: 0x30, Status: 0x34, Address: 0x48, Length: 0x58},
}

// Regs returns the register set of a direction
func (l Layout) Regs(d Direction) ChannelRegs {
	if d == S2MM {
		return l.S2MM
	}
	return l.MM2S
}

// Validate ensures every offset is aligned, fits in a window of span bytes
// and that the two channels do not share a register
func (l Layout) Validate(span int) error {
	seen := map[int]string{}
	for _, d := range []Direction{MM2S, S2MM} {
		for _, off := range l.Regs(d).offsets() {
			if off < 0 || off%4 != 0 || off+4 > span {
				return fmt.Errorf("%s register offset 0x%X invalid for a 0x%X byte window", d, off, span)
			}
			if other, ok := seen[off]; ok {
				return fmt.Errorf("register offset 0x%X used by both %s and %s", off, other, d)
			}
			seen[off] = d.String()
		}
	}
	return nil
}
