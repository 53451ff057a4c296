package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/nbfm"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, int64(0x40400000), c.DMA.Base)
	assert.Equal(t, []Engine{{Name: "DMA_AUDIO (axi_dma_1)", Base: 0x40410000}}, c.DMA.Inspect)
	assert.Equal(t, 4096, c.TX.Buffer.Words())
	assert.Equal(t, 16384, c.RX.Buffer.Words())
	assert.Equal(t, nbfm.DefaultParams, c.Waveform)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdrctl.yml")
	doc := `
device:
  simulate: true
dma:
  base: 0x40420000
  inspect:
    - name: DMA_AUDIO (axi_dma_1)
      base: 0x40410000
    - name: DMA_RF (axi_dma_0)
      base: 0x40400000
tx:
  buffer:
    size: 8192
waveform:
  tone_freq: 500
poll:
  timeout: 250ms
capture:
  format: fits
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.Device.Simulate)
	assert.Equal(t, int64(0x40420000), c.DMA.Base)
	assert.Equal(t, []Engine{
		{Name: "DMA_AUDIO (axi_dma_1)", Base: 0x40410000},
		{Name: "DMA_RF (axi_dma_0)", Base: 0x40400000},
	}, c.DMA.Inspect)
	assert.NoError(t, c.Validate())
	assert.Equal(t, 8192, c.TX.Buffer.Size)
	assert.Equal(t, int64(0x1F000000), c.TX.Buffer.Addr, "untouched keys keep their default")
	assert.Equal(t, 500.0, c.Waveform.ToneFreq)
	assert.Equal(t, 250*time.Millisecond, c.Poll.Timeout)
	assert.Equal(t, FormatFits, c.Capture.Format)
	assert.Equal(t, axidma.DefaultLayout, c.DMA.Layout)
}

func TestLoadBadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdrctl.yml")
	require.NoError(t, os.WriteFile(path, []byte("dma: [1, 2"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SDR_RETRY__MAX_TIMEOUTS", "7")
	t.Setenv("SDR_RX__BUFFER__ADDR", "0x1E000000")
	t.Setenv("SDR_DEVICE__SIMULATE", "true")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, c.Retry.MaxTimeouts)
	assert.Equal(t, int64(0x1E000000), c.RX.Buffer.Addr)
	assert.True(t, c.Device.Simulate)
}

func TestWriteRoundTrip(t *testing.T) {
	c := Default()
	c.Device.Simulate = true
	c.Waveform.Deviation = 2500
	c.Poll.Interval = 3 * time.Millisecond
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c))

	path := filepath.Join(t.TempDir(), "sdrctl.yml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"odd buffer":      func(c *Config) { c.TX.Buffer.Size = 1022 },
		"empty buffer":    func(c *Config) { c.RX.Buffer.Size = 0 },
		"high buffer":     func(c *Config) { c.RX.Buffer.Addr = 0xFFFFF000 },
		"small window":    func(c *Config) { c.DMA.Span = 0x20 },
		"shared register": func(c *Config) { c.DMA.Layout.S2MM.Length = c.DMA.Layout.MM2S.Length },
		"format":          func(c *Config) { c.Capture.Format = "wav" },
		"negative poll":   func(c *Config) { c.Poll.Interval = -time.Second },
		"inspect in use":  func(c *Config) { c.DMA.Inspect[0].Base = c.DMA.Base },
	}
	for name, mutate := range cases {
		c := Default()
		mutate(&c)
		if err := c.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
	c := Default()
	c.Waveform.AudioRate = 48e3
	if err := c.Validate(); !errors.Is(err, nbfm.ErrInvalidConfiguration) {
		t.Errorf("expected the waveform error, got %v", err)
	}
}

func TestPolicy(t *testing.T) {
	c := Default()
	p := c.Policy()
	assert.Equal(t, c.Poll.Interval, p.Poll)
	assert.Equal(t, c.Poll.Timeout, p.Timeout)
	assert.Equal(t, 3, p.MaxTimeouts)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "tx.buffer.addr", envKey("SDR_TX__BUFFER__ADDR"))
	assert.Equal(t, "retry.max_timeouts", envKey("SDR_RETRY__MAX_TIMEOUTS"))
}
