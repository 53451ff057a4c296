/*Package config holds the configuration of an SDR front end: where the DMA
engine and its buffers live in physical memory, the waveform to transmit and
how hard to try before giving up on the hardware.

Configuration is layered with koanf.  Defaults come from Default(), then a
yaml file, then environment variables prefixed with SDR_.  Nested keys are
separated by a double underscore in the environment, so
SDR_RETRY__MAX_TIMEOUTS overrides retry.max_timeouts.
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/nbfm"
)

// EnvPrefix prefixes environment variables that override the configuration
const EnvPrefix = "SDR_"

const (
	// FormatRaw is interleaved signed 8-bit I and Q with no header
	FormatRaw = "raw"

	// FormatFits is a 2 x N int16 FITS image
	FormatFits = "fits"
)

// ErrInvalid is generated when a configuration cannot drive the hardware
var ErrInvalid = errors.New("invalid configuration")

// Device selects the memory device
type Device struct {
	// Path is the device node physical memory is mapped through
	Path string `koanf:"path" yaml:"path"`

	// Simulate replaces the hardware with an in-process loopback engine
	Simulate bool `koanf:"simulate" yaml:"simulate"`
}

// DMA locates the engine's register window
type DMA struct {
	// Name labels the engine in status output
	Name string `koanf:"name" yaml:"name"`

	// Base is the physical address of the register window
	Base int64 `koanf:"base" yaml:"base"`

	// Span is the size of the register window in bytes
	Span int `koanf:"span" yaml:"span"`

	// Layout is the register map within the window
	Layout axidma.Layout `koanf:"layout" yaml:"layout"`

	// Inspect lists further engines with the same span and layout whose
	// registers are only read for status
	Inspect []Engine `koanf:"inspect" yaml:"inspect"`
}

// Engine names a DMA engine by its register base
type Engine struct {
	Name string `koanf:"name" yaml:"name"`
	Base int64  `koanf:"base" yaml:"base"`
}

// Buffer is a DDR region a channel reads or writes
type Buffer struct {
	// Addr is the physical address of the buffer
	Addr int64 `koanf:"addr" yaml:"addr"`

	// Size is the size of the buffer in bytes
	Size int `koanf:"size" yaml:"size"`
}

// Words returns the number of samples the buffer holds
func (b Buffer) Words() int {
	return b.Size / 4
}

// TX is the transmit (MM2S) side
type TX struct {
	Buffer Buffer `koanf:"buffer" yaml:"buffer"`

	// Count is the number of buffers a transmit session sends, 0 for no limit
	Count int `koanf:"count" yaml:"count"`

	// LogEvery is the minimum interval between progress lines
	LogEvery time.Duration `koanf:"log_every" yaml:"log_every"`
}

// RX is the receive (S2MM) side
type RX struct {
	Buffer Buffer `koanf:"buffer" yaml:"buffer"`
}

// Poll controls status register polling
type Poll struct {
	// Interval is the time between status reads
	Interval time.Duration `koanf:"interval" yaml:"interval"`

	// Timeout is the deadline for one transfer
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	// Settle is how long the reset bit is held
	Settle time.Duration `koanf:"settle" yaml:"settle"`
}

// Retry controls recovery from failed transfers
type Retry struct {
	// MaxTimeouts is the number of consecutive timeouts tolerated
	MaxTimeouts int `koanf:"max_timeouts" yaml:"max_timeouts"`

	// RetryErrors retries transfers that latched the error bit
	RetryErrors bool `koanf:"retry_errors" yaml:"retry_errors"`

	// Delay is the pause before a retry
	Delay time.Duration `koanf:"delay" yaml:"delay"`
}

// Capture is where received samples go
type Capture struct {
	// Path is the output file
	Path string `koanf:"path" yaml:"path"`

	// Format is FormatRaw or FormatFits
	Format string `koanf:"format" yaml:"format"`
}

// Config is the complete configuration of sdrctl
type Config struct {
	// Addr is the HTTP listen address of the run command
	Addr     string      `koanf:"addr" yaml:"addr"`
	Device   Device      `koanf:"device" yaml:"device"`
	DMA      DMA         `koanf:"dma" yaml:"dma"`
	TX       TX          `koanf:"tx" yaml:"tx"`
	RX       RX          `koanf:"rx" yaml:"rx"`
	Waveform nbfm.Params `koanf:"waveform" yaml:"waveform"`
	Poll     Poll        `koanf:"poll" yaml:"poll"`
	Retry    Retry       `koanf:"retry" yaml:"retry"`
	Capture  Capture     `koanf:"capture" yaml:"capture"`
}

// Default returns the configuration of the reference board: the RF DMA at
// 0x40400000 with the audio DMA at 0x40410000 shown in status, a 16 KiB transmit buffer at 0x1F000000 and a 64 KiB receive
// buffer at 0x1F100000
func Default() Config {
	return Config{
		Addr:   ":8000",
		Device: Device{Path: "/dev/mem"},
		DMA: DMA{
			Name:    "DMA0 (RF)",
			Base:    0x40400000,
			Span:    0x10000,
			Layout:  axidma.DefaultLayout,
			Inspect: []Engine{
				{Name: "DMA_AUDIO (axi_dma_1)", Base: 0x40410000},
			},
		},
		TX: TX{
			Buffer:   Buffer{Addr: 0x1F000000, Size: 16 * 1024},
			LogEvery: time.Second,
		},
		RX: RX{
			Buffer: Buffer{Addr: 0x1F100000, Size: 64 * 1024},
		},
		Waveform: nbfm.DefaultParams,
		Poll: Poll{
			Interval: 100 * time.Microsecond,
			Timeout:  time.Second,
			Settle:   axidma.SettleFull,
		},
		Retry: Retry{
			MaxTimeouts: 3,
			Delay:       10 * time.Millisecond,
		},
		Capture: Capture{
			Path:   "rx_capture.bin",
			Format: FormatRaw,
		},
	}
}

// Policy converts the poll and retry sections to a transfer policy
func (c Config) Policy() axidma.Policy {
	return axidma.Policy{
		Poll:        c.Poll.Interval,
		Timeout:     c.Poll.Timeout,
		MaxTimeouts: c.Retry.MaxTimeouts,
		RetryErrors: c.Retry.RetryErrors,
		RetryDelay:  c.Retry.Delay,
	}
}

// Validate checks that the configuration describes usable hardware
func (c Config) Validate() error {
	if c.DMA.Span <= 0 {
		return fmt.Errorf("%w: dma.span %d", ErrInvalid, c.DMA.Span)
	}
	if err := c.DMA.Layout.Validate(c.DMA.Span); err != nil {
		return fmt.Errorf("%w: dma.layout: %v", ErrInvalid, err)
	}
	seen := map[int64]bool{c.DMA.Base: true}
	for _, e := range c.DMA.Inspect {
		if seen[e.Base] {
			return fmt.Errorf("%w: dma.inspect %q: base 0x%X listed twice", ErrInvalid, e.Name, e.Base)
		}
		seen[e.Base] = true
	}
	for name, b := range map[string]Buffer{"tx.buffer": c.TX.Buffer, "rx.buffer": c.RX.Buffer} {
		if b.Size <= 0 || b.Size%4 != 0 || b.Size > axidma.MaxLength {
			return fmt.Errorf("%w: %s.size %d must be a positive multiple of 4 below 64 MiB", ErrInvalid, name, b.Size)
		}
		if b.Addr < 0 || b.Addr+int64(b.Size) > 1<<32 {
			return fmt.Errorf("%w: %s.addr 0x%X is outside the 32-bit DMA address space", ErrInvalid, name, b.Addr)
		}
	}
	if c.Poll.Interval < 0 || c.Poll.Timeout < 0 {
		return fmt.Errorf("%w: poll interval and timeout must not be negative", ErrInvalid)
	}
	switch c.Capture.Format {
	case FormatRaw, FormatFits:
	default:
		return fmt.Errorf("%w: capture.format %q, expected %q or %q", ErrInvalid, c.Capture.Format, FormatRaw, FormatFits)
	}
	return c.Waveform.Validate()
}

// envKey maps SDR_TX__BUFFER__ADDR to tx.buffer.addr
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// New returns a koanf instance holding the defaults, the yaml file at path
// if it exists, and the environment
func New(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			errtxt := err.Error()
			if !strings.Contains(errtxt, "no such") { // file missing, who cares
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

// Unmarshal extracts the configuration from k
func Unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

// Load is New followed by Unmarshal
func Load(path string) (Config, error) {
	k, err := New(path)
	if err != nil {
		return Config{}, err
	}
	return Unmarshal(k)
}

// Write encodes c as yaml
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
