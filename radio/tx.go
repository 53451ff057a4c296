package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/mmio"
	"github.com/axisdr/sdrlab/nbfm"
)

// TxStats counts the buffers of the current or last transmit session
type TxStats struct {
	Running  bool          `json:"running"`
	Started  time.Time     `json:"started"`
	Buffers  uint64        `json:"buffers"`
	Errors   uint64        `json:"errors"`
	Timeouts uint64        `json:"timeouts"`
	Status   axidma.Status `json:"status"`
	LastErr  string        `json:"lastErr,omitempty"`
}

// TxStats returns a copy of the transmit counters
func (r *Radio) TxStats() TxStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Radio) update(f func(*TxStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.stats)
}

// Transmit streams the waveform through the transmit channel until ctx is
// done or count buffers have been sent (count <= 0 for no limit).
//
// The buffer is refilled from the same synthesizer after every completed
// transfer, so the signal is continuous across buffers.  Hardware errors
// are acknowledged and the channel re-armed; retry.max_timeouts
// timeouts in a row end the session with axidma.ErrTimedOut.  Cancelling
// ctx halts the channel and returns nil.
func (r *Radio) Transmit(ctx context.Context, count int) error {
	synth, err := nbfm.NewSynth(r.cfg.Waveform)
	if err != nil {
		return err
	}
	r.update(func(s *TxStats) {
		*s = TxStats{Running: true, Started: r.clock.Now()}
	})
	defer r.update(func(s *TxStats) { s.Running = false })

	err = r.transmit(ctx, synth, count)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.update(func(s *TxStats) { s.LastErr = err.Error() })
		return err
	}
	// halt the engine; ctx may already be done
	if rerr := r.TX.Reset(context.Background()); rerr != nil {
		return rerr
	}
	return nil
}

func (r *Radio) fill(synth *nbfm.Synth, words []uint32) error {
	synth.Fill(words)
	return mmio.WriteWords(r.txBuf, 0, words)
}

func (r *Radio) transmit(ctx context.Context, synth *nbfm.Synth, count int) error {
	words := make([]uint32, r.cfg.TX.Buffer.Words())
	d := descriptor(r.cfg.TX.Buffer)
	if err := r.fill(synth, words); err != nil {
		return err
	}
	logf("streaming NBFM %g Hz tone via %s MM2S, %d samples per buffer at 0x%08X",
		r.cfg.Waveform.ToneFreq, r.cfg.DMA.Name, len(words), d.Addr)

	progress := rate.NewLimiter(rate.Every(r.cfg.TX.LogEvery), 1)
	complaints := rate.NewLimiter(rate.Every(r.cfg.TX.LogEvery), 1)

	arm := func() error {
		if err := r.TX.Reset(ctx); err != nil {
			return err
		}
		return r.TX.Start(d)
	}
	if err := arm(); err != nil {
		return err
	}

	var sent uint64
	consecutive := 0
	for {
		o, err := r.TX.Wait(ctx, r.policy.Poll, r.policy.Timeout)
		if err != nil {
			return err
		}
		if err := r.TX.Acknowledge(ctx, o); err != nil {
			return err
		}
		r.update(func(s *TxStats) { s.Status = o.Status })

		switch o.Kind {
		case axidma.OutcomeCompleted:
			consecutive = 0
			sent++
			r.update(func(s *TxStats) { s.Buffers = sent })
			if progress.Allow() {
				logf("tx: %d buffers sent, DMASR=%s", sent, o.Status)
			}
			if count > 0 && sent >= uint64(count) {
				return nil
			}
			if err := r.fill(synth, words); err != nil {
				return err
			}
			if err := r.TX.Restart(); err != nil {
				return err
			}
			continue

		case axidma.OutcomeErrored:
			consecutive = 0
			r.update(func(s *TxStats) { s.Errors++ })
			if complaints.Allow() {
				logf("DMA ERROR: MM2S_DMASR=%s", o.Status)
			}

		case axidma.OutcomeTimedOut:
			consecutive++
			r.update(func(s *TxStats) { s.Timeouts++ })
			limit := r.policy.MaxTimeouts
			if limit < 1 {
				limit = 1
			}
			if consecutive >= limit {
				return fmt.Errorf("%d consecutive timeouts: %w", consecutive, o.Err())
			}
			logf("tx: timeout %d of %d, re-arming", consecutive, limit)
		}
		// acknowledged errors and timeouts leave the channel halted
		if err := arm(); err != nil {
			return err
		}
	}
}

// StartTx runs Transmit in the background
func (r *Radio) StartTx(count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return ErrTxRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel, done: make(chan struct{})}
	r.tx = s
	r.stats.Running = true
	go func() {
		defer close(s.done)
		if err := r.Transmit(ctx, count); err != nil {
			logf("tx session ended: %v", err)
		}
		r.mu.Lock()
		if r.tx == s {
			r.tx = nil
		}
		r.mu.Unlock()
	}()
	return nil
}

// StopTx cancels the background transmit session and waits for it to halt
// the channel
func (r *Radio) StopTx() error {
	r.mu.Lock()
	s := r.tx
	r.mu.Unlock()
	if s == nil {
		return ErrTxIdle
	}
	s.cancel()
	<-s.done
	return nil
}

// Done returns a channel closed when the background transmit session ends,
// or nil if there is none
func (r *Radio) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return nil
	}
	return r.tx.done
}
