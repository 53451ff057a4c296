/*Package nbfm synthesizes a narrow-band FM test signal as 8-bit IQ.

A one-period table of an audio tone is held for Upsample RF samples per
entry (zero-order hold) and integrated into the phase of a unit phasor.
The synthesizer keeps its phase, table index and hold counter between
calls to Fill, so consecutive buffers join without a discontinuity:
 s, err := nbfm.NewSynth(nbfm.DefaultParams)
 if err != nil {
 	log.Fatal(err)
 }
 buf := make([]uint32, 4096)
 s.Fill(buf)
*/
package nbfm

import (
	"errors"
	"fmt"
	"math"

	"github.com/axisdr/sdrlab/iq"
)

// ErrInvalidConfiguration is generated when the synthesis parameters cannot
// produce a clean waveform
var ErrInvalidConfiguration = errors.New("invalid waveform configuration")

const twoPi = 2 * math.Pi

// Params are the rates and frequencies of the waveform, all in Hz
type Params struct {
	// RFRate is the output sample rate
	RFRate float64 `koanf:"rf_rate" yaml:"rf_rate"`

	// AudioRate is the rate of the tone table.  RFRate/AudioRate must be an integer
	AudioRate float64 `koanf:"audio_rate" yaml:"audio_rate"`

	// ToneFreq is the frequency of the modulating tone
	ToneFreq float64 `koanf:"tone_freq" yaml:"tone_freq"`

	// Deviation is the peak frequency deviation
	Deviation float64 `koanf:"deviation" yaml:"deviation"`
}

// DefaultParams is a 1 kHz tone at 5 kHz deviation, sampled at 1 MHz
var DefaultParams = Params{
	RFRate:    1e6,
	AudioRate: 50e3,
	ToneFreq:  1e3,
	Deviation: 5e3,
}

// Upsample returns RFRate/AudioRate, the number of RF samples per audio sample
func (p Params) Upsample() (int, error) {
	if p.RFRate <= 0 || p.AudioRate <= 0 {
		return 0, fmt.Errorf("%w: sample rates must be positive, RF=%g audio=%g", ErrInvalidConfiguration, p.RFRate, p.AudioRate)
	}
	u := int(p.RFRate / p.AudioRate)
	if u <= 0 || float64(u)*p.AudioRate != p.RFRate {
		return 0, fmt.Errorf("%w: RF rate %g is not an integer multiple of audio rate %g", ErrInvalidConfiguration, p.RFRate, p.AudioRate)
	}
	return u, nil
}

// TableLen returns the number of audio samples in one period of the tone
func (p Params) TableLen() int {
	return int(math.Round(p.AudioRate / p.ToneFreq))
}

// Validate checks the parameters without building anything
func (p Params) Validate() error {
	if _, err := p.Upsample(); err != nil {
		return err
	}
	if p.ToneFreq <= 0 || p.ToneFreq > p.AudioRate/2 {
		return fmt.Errorf("%w: tone %g Hz not representable at %g Hz", ErrInvalidConfiguration, p.ToneFreq, p.AudioRate)
	}
	if p.Deviation < 0 || p.Deviation >= p.RFRate/2 {
		return fmt.Errorf("%w: deviation %g Hz must be in [0, %g)", ErrInvalidConfiguration, p.Deviation, p.RFRate/2)
	}
	return nil
}

// Quantize scales x in [-1, 1] to a signed byte, truncating toward zero
func Quantize(x float64) int8 {
	return int8(127.0 * x)
}

// Synth is the state of one waveform stream
type Synth struct {
	p     Params
	u     int
	k     float64
	table []float64

	phase float64
	index int
	sub   int
}

// NewSynth validates p and builds the tone table
func NewSynth(p Params) (*Synth, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u, _ := p.Upsample()
	n := p.TableLen()
	table := make([]float64, n)
	for i := range table {
		table[i] = math.Sin(twoPi * p.ToneFreq * float64(i) / p.AudioRate)
	}
	return &Synth{
		p:     p,
		u:     u,
		k:     twoPi * p.Deviation / p.RFRate,
		table: table,
	}, nil
}

// Params returns the parameters the synthesizer was built with
func (s *Synth) Params() Params {
	return s.p
}

// Upsample returns the number of RF samples each audio sample is held for
func (s *Synth) Upsample() int {
	return s.u
}

// Table returns a copy of the tone table
func (s *Synth) Table() []float64 {
	out := make([]float64, len(s.table))
	copy(out, s.table)
	return out
}

// Phase returns the phase accumulator, in (-π, π]
func (s *Synth) Phase() float64 {
	return s.phase
}

// Index returns the current tone table index
func (s *Synth) Index() int {
	return s.index
}

// Sub returns the number of RF samples already emitted for the current
// table entry
func (s *Synth) Sub() int {
	return s.sub
}

// Reset returns the synthesizer to phase zero at the start of the table
func (s *Synth) Reset() {
	s.phase = 0
	s.index = 0
	s.sub = 0
}

// Next returns the next sample of the stream
func (s *Synth) Next() iq.Sample {
	m := s.table[s.index]
	s.phase += s.k * m
	if s.phase > math.Pi {
		s.phase -= twoPi
	} else if s.phase <= -math.Pi {
		s.phase += twoPi
	}
	out := iq.Sample{I: Quantize(math.Cos(s.phase)), Q: Quantize(math.Sin(s.phase))}
	s.sub++
	if s.sub >= s.u {
		s.sub = 0
		s.index++
		if s.index >= len(s.table) {
			s.index = 0
		}
	}
	return out
}

// Fill writes the next len(dst) samples of the stream into dst as packed
// buffer words
func (s *Synth) Fill(dst []uint32) {
	for i := range dst {
		dst[i] = s.Next().Word()
	}
}
