/*Package radio ties the DMA engine, its buffers and the waveform together
into transmit and receive sessions.

A Radio owns the mappings of the register window and both DDR buffers.
Transmit streams the NBFM waveform through MM2S until cancelled or a buffer
count is reached; Capture runs one S2MM transfer and writes the received
samples out.
*/
package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/config"
	"github.com/axisdr/sdrlab/mmio"
	"github.com/axisdr/sdrlab/sim"
)

var (
	// ErrTxRunning is generated when a transmit session is started while one is active
	ErrTxRunning = errors.New("transmit session already running")

	// ErrTxIdle is generated when stopping a transmit session that is not running
	ErrTxIdle = errors.New("no transmit session running")
)

// NewMapper returns the mapper a configuration asks for: the memory device,
// or a simulated engine with loopback when device.simulate is set
func NewMapper(cfg config.Config) mmio.Mapper {
	if cfg.Device.Simulate {
		sys := sim.NewSystem(cfg.DMA.Base, cfg.DMA.Span, cfg.DMA.Layout)
		for _, e := range cfg.DMA.Inspect {
			sys.AddEngine(e.Base)
		}
		return sys
	}
	return mmio.DevMapper{Device: cfg.Device.Path}
}

// Radio is an SDR front end reached through one AXI DMA engine
type Radio struct {
	cfg    config.Config
	policy axidma.Policy
	clock  axidma.Clock

	regs    mmio.Mapping
	txBuf   mmio.Mapping
	rxBuf   mmio.Mapping
	inspect []mmio.Mapping

	// TX is the transmit (MM2S) channel
	TX *axidma.Channel

	// RX is the receive (S2MM) channel
	RX *axidma.Channel

	mu    sync.Mutex
	stats TxStats
	tx    *session

	rxMu   sync.Mutex
	fileMu sync.Mutex
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Open validates cfg and maps the register window, both buffers and the
// windows of any engines listed for inspection.  Nothing is mapped when the
// configuration is invalid.
func Open(cfg config.Config, m mmio.Mapper, clock axidma.Clock) (*Radio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = axidma.SystemClock
	}
	r := &Radio{cfg: cfg, policy: cfg.Policy(), clock: clock}
	var err error
	r.regs, err = m.Map(cfg.DMA.Base, cfg.DMA.Span)
	if err != nil {
		return nil, fmt.Errorf("mapping %s registers at 0x%08X: %w", cfg.DMA.Name, cfg.DMA.Base, err)
	}
	r.txBuf, err = m.Map(cfg.TX.Buffer.Addr, cfg.TX.Buffer.Size)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("mapping TX buffer at 0x%08X: %w", cfg.TX.Buffer.Addr, err)
	}
	r.rxBuf, err = m.Map(cfg.RX.Buffer.Addr, cfg.RX.Buffer.Size)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("mapping RX buffer at 0x%08X: %w", cfg.RX.Buffer.Addr, err)
	}
	for _, e := range cfg.DMA.Inspect {
		w, err := m.Map(e.Base, cfg.DMA.Span)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("mapping %s registers at 0x%08X: %w", e.Name, e.Base, err)
		}
		r.inspect = append(r.inspect, w)
	}
	r.TX, err = r.channel(axidma.MM2S, cfg.TX.Buffer)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.RX, err = r.channel(axidma.S2MM, cfg.RX.Buffer)
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Radio) channel(d axidma.Direction, b config.Buffer) (*axidma.Channel, error) {
	ch, err := axidma.New(r.regs, r.cfg.DMA.Layout, d, r.clock)
	if err != nil {
		return nil, err
	}
	ch.SettleDelay = r.cfg.Poll.Settle
	ch.MaxLength = b.Size
	return ch, nil
}

// Config returns the configuration the radio was opened with
func (r *Radio) Config() config.Config {
	return r.cfg
}

// Status reads the control and status registers of both channels of the
// engine in use, followed by each inspected engine
func (r *Radio) Status() ([]axidma.Snapshot, error) {
	s, err := axidma.ReadSnapshot(r.regs, r.cfg.DMA.Layout, r.cfg.DMA.Name, r.cfg.DMA.Base)
	if err != nil {
		return nil, err
	}
	out := []axidma.Snapshot{s}
	for i, e := range r.cfg.DMA.Inspect {
		s, err := axidma.ReadSnapshot(r.inspect[i], r.cfg.DMA.Layout, e.Name, e.Base)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close stops any transmit session and releases the mappings
func (r *Radio) Close() error {
	r.StopTx()
	var first error
	for _, m := range append([]mmio.Mapping{r.regs, r.txBuf, r.rxBuf}, r.inspect...) {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func descriptor(b config.Buffer) axidma.Descriptor {
	return axidma.Descriptor{Addr: uint32(b.Addr), Length: uint32(b.Size)}
}

func logf(format string, args ...interface{}) {
	log.Printf(format, args...)
}
