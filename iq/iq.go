/*Package iq holds the 8-bit interleaved IQ sample format used by the DMA
buffers and the capture files written from them.

In a DMA buffer every 32-bit word carries one sample in its low 16 bits,
I in the high byte and Q in the low byte; the upper 16 bits are zero.  On
disk a sample is two signed bytes, I then Q, with no header or framing.
*/
package iq

import (
	"errors"
	"fmt"
	"io"

	"github.com/snksoft/crc"
)

// ErrOddLength is generated when a capture stream ends in the middle of a sample
var ErrOddLength = errors.New("IQ stream has an odd number of bytes")

// Sample is one complex baseband sample
type Sample struct {
	I, Q int8
}

// Pack returns the sample as a 16-bit word, I in the high byte
func (s Sample) Pack() uint16 {
	return uint16(uint8(s.I))<<8 | uint16(uint8(s.Q))
}

// Word returns the sample zero-extended into a DMA buffer word
func (s Sample) Word() uint32 {
	return uint32(s.Pack())
}

// Unpack extracts the sample from the low 16 bits of a buffer word
func Unpack(w uint32) Sample {
	return Sample{I: int8(uint8(w >> 8)), Q: int8(uint8(w))}
}

// Words packs samples into buffer words
func Words(samples []Sample) []uint32 {
	out := make([]uint32, len(samples))
	for i, s := range samples {
		out[i] = s.Word()
	}
	return out
}

// Bytes returns the on-disk encoding of buffer words, 2 bytes per word
func Bytes(words []uint32) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		s := Unpack(w)
		out[2*i] = byte(s.I)
		out[2*i+1] = byte(s.Q)
	}
	return out
}

// Decode reads samples back from the on-disk encoding
func Decode(b []byte) ([]Sample, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddLength, len(b))
	}
	out := make([]Sample, len(b)/2)
	for i := range out {
		out[i] = Sample{I: int8(b[2*i]), Q: int8(b[2*i+1])}
	}
	return out, nil
}

// crcParams is CRC-32 as used by zip and ethernet, so captures can be
// checked with standard tools
var crcParams = crc.CRC32

// Sink appends captured buffers to a byte stream and keeps a running
// CRC-32 of everything written
type Sink struct {
	w     io.Writer
	table *crc.Table
	crc   uint64
	n     int64
}

// NewSink returns a sink writing to w
func NewSink(w io.Writer) *Sink {
	table := crc.NewTable(crcParams)
	return &Sink{w: w, table: table, crc: table.InitCrc()}
}

// Write appends the samples held in words, 2 bytes per word
func (s *Sink) Write(words []uint32) error {
	b := Bytes(words)
	n, err := s.w.Write(b)
	s.crc = s.table.UpdateCrc(s.crc, b[:n])
	s.n += int64(n)
	if err != nil {
		return fmt.Errorf("writing %d samples: %w", len(words), err)
	}
	return nil
}

// Len returns the number of bytes written so far
func (s *Sink) Len() int64 {
	return s.n
}

// CRC32 returns the checksum of the bytes written so far
func (s *Sink) CRC32() uint32 {
	return s.table.CRC32(s.crc)
}
