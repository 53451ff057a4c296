/*Package axidma drives one channel of a Xilinx AXI DMA engine in simple
(register direct) mode by polling its status register.

A transfer goes through reset, configure, run, wait and acknowledge:
 ch, err := axidma.New(regs, axidma.DefaultLayout, axidma.MM2S, axidma.SystemClock)
 if err != nil {
 	log.Fatal(err)
 }
 err = ch.Reset(ctx)
 err = ch.Start(axidma.Descriptor{Addr: 0x1F000000, Length: 16384})
 outcome, err := ch.Wait(ctx, time.Millisecond, time.Second)
 err = ch.Acknowledge(ctx, outcome)

The status bits of the engine latch until written back, so every outcome
must be acknowledged before the next transfer; otherwise the next Wait sees
the stale completion immediately.  Acknowledge only accepts the outcome the
last Wait returned.  Transfer wraps the whole sequence with
a retry policy.
*/
package axidma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/axisdr/sdrlab/mmio"
	"github.com/axisdr/sdrlab/util"
)

// State is the controller state of a channel
type State int

const (
	// Idle means no transfer is in flight and no outcome is pending
	Idle State = iota
	// Resetting means the reset bit has been written and the channel is settling
	Resetting
	// Configured means the address and run bit are written but not the length
	Configured
	// Running means the length is written and the engine is moving data
	Running
	// Completed means the transfer complete bit was observed and not yet acknowledged
	Completed
	// Errored means the error bit was observed and not yet acknowledged
	Errored
	// TimedOut means the poll deadline passed with neither bit observed
	TimedOut
)

var stateNames = [...]string{"Idle", "Resetting", "Configured", "Running", "Completed", "Errored", "TimedOut"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

const (
	// SettleSimple is the reset hold used for single channel transfers
	SettleSimple = 10 * time.Microsecond

	// SettleFull is the reset hold used when bringing the engine up from cold
	SettleFull = time.Millisecond

	// MaxLength is the largest value the length register accepts (26 bits)
	MaxLength = 1<<26 - 1

	// maxResetPolls bounds the wait for the reset bit to self clear
	maxResetPolls = 100
)

var (
	// ErrTimedOut is generated when a transfer does not finish before its deadline
	ErrTimedOut = errors.New("DMA transfer timed out")

	// ErrBusy is generated when a transfer is started on a channel that is not idle
	ErrBusy = errors.New("DMA channel busy: previous outcome not acknowledged")

	// ErrNotRunning is generated when Wait is called without a transfer in flight
	ErrNotRunning = errors.New("DMA channel has no transfer in flight")

	// ErrDescriptor is generated for a transfer length the engine cannot accept
	ErrDescriptor = errors.New("invalid transfer descriptor")

	// ErrResetStuck is generated when the reset bit does not self clear
	ErrResetStuck = errors.New("DMA channel reset did not complete")

	// ErrOutcomeMismatch is generated when Acknowledge is given an outcome
	// other than the one the last Wait returned
	ErrOutcomeMismatch = errors.New("outcome does not match the last wait")
)

// TransferError is generated when the engine latches its error bit
type TransferError struct {
	Channel Direction
	Status  Status
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s DMA error: DMASR=%s", e.Channel, e.Status)
}

// Descriptor is the buffer a single transfer moves
type Descriptor struct {
	// Addr is the physical address of the buffer
	Addr uint32

	// Length is the number of bytes to move
	Length uint32
}

// Validate checks that the length is a positive whole number of 4-byte
// samples no larger than bufSize.  bufSize <= 0 skips the size check.
func (d Descriptor) Validate(bufSize int) error {
	switch {
	case d.Length == 0:
		return fmt.Errorf("%w: zero length", ErrDescriptor)
	case d.Length%4 != 0:
		return fmt.Errorf("%w: length %d is not a multiple of 4", ErrDescriptor, d.Length)
	case d.Length > MaxLength:
		return fmt.Errorf("%w: length %d exceeds the length register", ErrDescriptor, d.Length)
	case bufSize > 0 && int64(d.Length) > int64(bufSize):
		return fmt.Errorf("%w: length %d exceeds buffer of %d bytes", ErrDescriptor, d.Length, bufSize)
	}
	return nil
}

// OutcomeKind is the way a transfer finished
type OutcomeKind int

const (
	// OutcomeCompleted is a transfer that latched the IOC bit
	OutcomeCompleted OutcomeKind = iota
	// OutcomeErrored is a transfer that latched the error bit
	OutcomeErrored
	// OutcomeTimedOut is a transfer that latched neither before the deadline
	OutcomeTimedOut
)

// Outcome is the result of Wait
type Outcome struct {
	Kind OutcomeKind

	// Status is the raw DMASR value that ended the wait
	Status Status

	dir Direction
}

// Bits are the latched status bits that produced the outcome.  A transfer
// that errored may also have latched IOC on the same poll; both belong to it.
func (o Outcome) Bits() uint32 {
	switch o.Kind {
	case OutcomeCompleted:
		return uint32(o.Status) & StatusIOC
	case OutcomeErrored:
		return uint32(o.Status) & statusIRQ
	default:
		return 0
	}
}

// Err converts the outcome to an error, nil for a completed transfer
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeCompleted:
		return nil
	case OutcomeErrored:
		return &TransferError{Channel: o.dir, Status: o.Status}
	default:
		return fmt.Errorf("%w: %s DMASR=%s", ErrTimedOut, o.dir, o.Status)
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeCompleted:
		return "completed " + o.Status.String()
	case OutcomeErrored:
		return "errored " + o.Status.String()
	default:
		return "timed out " + o.Status.String()
	}
}

// Channel is one direction of one DMA engine.  It is safe for concurrent
// use; each call holds the channel for its duration.
type Channel struct {
	mu    sync.Mutex
	bus   mmio.Bus
	regs  ChannelRegs
	dir   Direction
	clock Clock
	state State
	last  Descriptor
	seen  Outcome

	// SettleDelay is how long the reset bit is held before status is cleared
	SettleDelay time.Duration

	// MaxLength bounds the descriptor length, usually the buffer size.
	// Zero means only the length register width applies
	MaxLength int
}

// New creates a channel controller for direction dir of the engine
// whose registers are reachable through bus
func New(bus mmio.Bus, layout Layout, dir Direction, clock Clock) (*Channel, error) {
	if err := layout.Validate(bus.Len()); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Channel{
		bus:         bus,
		regs:        layout.Regs(dir),
		dir:         dir,
		clock:       clock,
		SettleDelay: SettleSimple,
	}, nil
}

// Direction returns the direction of the channel
func (c *Channel) Direction() Direction {
	return c.dir
}

// State returns the current controller state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status reads the raw status register
func (c *Channel) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.bus.Read32(c.regs.Status)
	return Status(v), err
}

// Reset soft resets the channel and clears every latched status bit.
// It may be called from any state and leaves the channel Idle.
func (c *Channel) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset(ctx)
}

func (c *Channel) reset(ctx context.Context) error {
	c.state = Resetting
	if err := c.bus.Write32(c.regs.Control, CtrlReset); err != nil {
		return err
	}
	c.clock.Sleep(c.SettleDelay)
	// the reset bit self clears once the channel is quiesced
	for tries := 0; ; tries++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ctrl, err := c.bus.Read32(c.regs.Control)
		if err != nil {
			return err
		}
		if ctrl&CtrlReset == 0 {
			break
		}
		if tries >= maxResetPolls {
			return fmt.Errorf("%w: %s DMACR=0x%08X", ErrResetStuck, c.dir, ctrl)
		}
		c.clock.Sleep(c.SettleDelay)
	}
	if err := c.bus.Write32(c.regs.Status, StatusClearAll); err != nil {
		return err
	}
	c.state = Idle
	return nil
}

// Start arms the channel for d.  The address and run bit are written
// before the length, since writing the length starts the engine.  Other
// DMACR bits, such as interrupt enables, are preserved.
func (c *Channel) Start(d Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%w: %s is %s", ErrBusy, c.dir, c.state)
	}
	if err := d.Validate(c.MaxLength); err != nil {
		return err
	}
	if err := c.bus.Write32(c.regs.Address, d.Addr); err != nil {
		return err
	}
	ctrl, err := c.bus.Read32(c.regs.Control)
	if err != nil {
		return err
	}
	if err := c.bus.Write32(c.regs.Control, util.SetBit(ctrl, runStopBit, true)); err != nil {
		return err
	}
	c.state = Configured
	if err := c.bus.Write32(c.regs.Length, d.Length); err != nil {
		return err
	}
	c.last = d
	c.state = Running
	return nil
}

// Restart re-arms an idle, running channel with the previous descriptor by
// writing only the length.  The continuous transmit loop uses it to replay
// the same buffer without a reset between transfers.
func (c *Channel) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%w: %s is %s", ErrBusy, c.dir, c.state)
	}
	if c.last.Length == 0 {
		return fmt.Errorf("%w: no previous transfer to restart", ErrDescriptor)
	}
	if err := c.bus.Write32(c.regs.Length, c.last.Length); err != nil {
		return err
	}
	c.state = Running
	return nil
}

// Wait polls the status register every poll until the transfer errors,
// completes, or timeout elapses.  The error bit wins over the complete bit
// when both are seen on the same poll.  A timeout <= 0 waits until ctx is
// done.  The returned error is only non-nil for bus faults or ctx.
func (c *Channel) Wait(ctx context.Context, poll, timeout time.Duration) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrNotRunning, c.dir, c.state)
	}
	deadline := c.clock.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		v, err := c.bus.Read32(c.regs.Status)
		if err != nil {
			return Outcome{}, err
		}
		st := Status(v)
		switch {
		case st.Error():
			c.state = Errored
			c.seen = Outcome{Kind: OutcomeErrored, Status: st, dir: c.dir}
			return c.seen, nil
		case st.Complete():
			c.state = Completed
			c.seen = Outcome{Kind: OutcomeCompleted, Status: st, dir: c.dir}
			return c.seen, nil
		case timeout > 0 && !c.clock.Now().Before(deadline):
			c.state = TimedOut
			c.seen = Outcome{Kind: OutcomeTimedOut, Status: st, dir: c.dir}
			return c.seen, nil
		}
		c.clock.Sleep(poll)
	}
}

// Acknowledge clears the status bits that produced o and returns the
// channel to Idle.  o must be the outcome the last Wait returned, else
// ErrOutcomeMismatch and the channel is left as it was.  A timed out
// transfer has no latched bit, so the channel is reset instead.
func (c *Channel) Acknowledge(ctx context.Context, o Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Completed, Errored, TimedOut:
	default:
		return fmt.Errorf("nothing to acknowledge: %s is %s", c.dir, c.state)
	}
	if o != c.seen {
		return fmt.Errorf("%w: %s saw %s, got %s", ErrOutcomeMismatch, c.dir, c.seen, o)
	}
	if c.seen.Kind == OutcomeTimedOut {
		return c.reset(ctx)
	}
	if err := c.bus.Write32(c.regs.Status, c.seen.Bits()); err != nil {
		return err
	}
	c.state = Idle
	return nil
}
