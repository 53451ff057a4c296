package radio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/config"
	"github.com/axisdr/sdrlab/iq"
	"github.com/axisdr/sdrlab/mmio"
)

// CaptureResult describes one receive capture
type CaptureResult struct {
	Words  int           `json:"words"`
	Bytes  int64         `json:"bytes"`
	CRC32  uint32        `json:"crc32"`
	Format string        `json:"format"`
	Status axidma.Status `json:"status"`
	Time   time.Time     `json:"time"`
}

// Receive zeroes the receive buffer, runs one S2MM transfer into it and
// returns the words it holds.  A stream that ends early leaves zeros in the
// tail rather than the previous capture.  Timeouts are retried per the
// configured policy, hardware errors abort unless retry.retry_errors is set.
func (r *Radio) Receive(ctx context.Context) ([]uint32, axidma.Outcome, error) {
	r.rxMu.Lock()
	defer r.rxMu.Unlock()
	n := r.cfg.RX.Buffer.Words()
	if err := mmio.WriteWords(r.rxBuf, 0, make([]uint32, n)); err != nil {
		return nil, axidma.Outcome{}, fmt.Errorf("clearing RX buffer: %w", err)
	}
	d := descriptor(r.cfg.RX.Buffer)
	o, err := r.RX.Transfer(ctx, d, r.policy)
	if err != nil {
		return nil, o, err
	}
	words, err := mmio.ReadWords(r.rxBuf, 0, n)
	return words, o, err
}

// Capture receives one buffer and writes it to w in format, config.FormatRaw
// or config.FormatFits
func (r *Radio) Capture(ctx context.Context, w io.Writer, format string) (CaptureResult, error) {
	res := CaptureResult{Format: format}
	if format != config.FormatRaw && format != config.FormatFits {
		return res, fmt.Errorf("%w: capture format %q", config.ErrInvalid, format)
	}
	words, o, err := r.Receive(ctx)
	res.Status = o.Status
	if err != nil {
		return res, err
	}
	res.Words = len(words)
	res.Time = r.clock.Now()

	cw := &countingWriter{w: w}
	switch format {
	case config.FormatFits:
		cards := []fitsio.Card{
			{Name: "SAMPRATE", Value: r.cfg.Waveform.RFRate, Comment: "sample rate, Hz"},
			{Name: "BUFADDR", Value: fmt.Sprintf("0x%08X", r.cfg.RX.Buffer.Addr), Comment: "S2MM buffer physical address"},
			{Name: "DMASR", Value: fmt.Sprintf("0x%08X", uint32(o.Status)), Comment: "S2MM status at completion"},
			{Name: "DATE-OBS", Value: res.Time.UTC().Format(time.RFC3339), Comment: "capture time"},
		}
		err = iq.WriteFits(cw, cards, words)
	default:
		sink := iq.NewSink(cw)
		err = sink.Write(words)
		res.CRC32 = sink.CRC32()
	}
	res.Bytes = cw.n
	return res, err
}

// CaptureFile captures into the file at path, replacing it
func (r *Radio) CaptureFile(ctx context.Context, path, format string) (CaptureResult, error) {
	return r.CaptureFileThen(ctx, path, format, nil)
}

// CaptureFileThen is CaptureFile followed by then, called only on success
// and before any other capture may replace the file
func (r *Radio) CaptureFileThen(ctx context.Context, path, format string, then func(CaptureResult)) (CaptureResult, error) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return CaptureResult{}, err
	}
	res, err := r.Capture(ctx, f, format)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, err
	}
	logf("captured %d samples (%d bytes, crc32 0x%08X) to %s", res.Words, res.Bytes, res.CRC32, path)
	if then != nil {
		then(res)
	}
	return res, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
