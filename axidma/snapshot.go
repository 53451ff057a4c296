package axidma

import (
	"fmt"
	"strings"

	"github.com/axisdr/sdrlab/mmio"
)

// Snapshot is the control and status registers of both channels
// of one engine, read without side effects
type Snapshot struct {
	Name      string `json:"name"`
	Base      int64  `json:"base"`
	MM2SDMACR uint32 `json:"mm2s_dmacr"`
	MM2SDMASR Status `json:"mm2s_dmasr"`
	S2MMDMACR uint32 `json:"s2mm_dmacr"`
	S2MMDMASR Status `json:"s2mm_dmasr"`
}

// ReadSnapshot reads the control and status registers of both channels
func ReadSnapshot(bus mmio.Bus, layout Layout, name string, base int64) (Snapshot, error) {
	s := Snapshot{Name: name, Base: base}
	regs := []struct {
		off int
		dst *uint32
	}{
		{layout.MM2S.Control, &s.MM2SDMACR},
		{layout.MM2S.Status, (*uint32)(&s.MM2SDMASR)},
		{layout.S2MM.Control, &s.S2MMDMACR},
		{layout.S2MM.Status, (*uint32)(&s.S2MMDMASR)},
	}
	for _, r := range regs {
		v, err := bus.Read32(r.off)
		if err != nil {
			return s, fmt.Errorf("reading %s at 0x%X: %w", name, r.off, err)
		}
		*r.dst = v
	}
	return s, nil
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (base 0x%08x):\n", s.Name, s.Base)
	fmt.Fprintf(&b, "  MM2S_DMACR = 0x%08X\n", s.MM2SDMACR)
	fmt.Fprintf(&b, "  MM2S_DMASR = %s\n", s.MM2SDMASR)
	fmt.Fprintf(&b, "  S2MM_DMACR = 0x%08X\n", s.S2MMDMACR)
	fmt.Fprintf(&b, "  S2MM_DMASR = %s\n", s.S2MMDMASR)
	return b.String()
}
