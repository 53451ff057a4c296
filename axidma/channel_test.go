package axidma_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisdr/sdrlab/axidma"
	"github.com/axisdr/sdrlab/mmio"
	"github.com/axisdr/sdrlab/sim"
)

const (
	dmaBase = 0x40400000
	dmaSpan = 0x10000
	txAddr  = 0x1F000000
	txSize  = 0x4000
)

type rig struct {
	sys   *sim.System
	clock *sim.Clock
	ch    *axidma.Channel
}

func newRig(t *testing.T, dir axidma.Direction) rig {
	t.Helper()
	sys := sim.NewSystem(dmaBase, dmaSpan, axidma.DefaultLayout)
	_, err := sys.Map(txAddr, txSize)
	require.NoError(t, err)
	regs, err := sys.Map(dmaBase, dmaSpan)
	require.NoError(t, err)
	clock := sim.NewClock(time.Unix(0, 0))
	ch, err := axidma.New(regs, axidma.DefaultLayout, dir, clock)
	require.NoError(t, err)
	return rig{sys: sys, clock: clock, ch: ch}
}

func (r rig) status(t *testing.T) axidma.Status {
	t.Helper()
	st, err := r.ch.Status()
	require.NoError(t, err)
	return st
}

var desc = axidma.Descriptor{Addr: txAddr, Length: txSize}

func TestNewRejectsBadLayout(t *testing.T) {
	l := axidma.DefaultLayout
	l.S2MM.Status = l.MM2S.Status
	_, err := axidma.New(mmio.NewMem(dmaSpan), l, axidma.MM2S, nil)
	assert.Error(t, err)

	_, err = axidma.New(mmio.NewMem(0x20), axidma.DefaultLayout, axidma.MM2S, nil)
	assert.Error(t, err, "window too small for the S2MM registers")
}

func TestStartWritesLengthLast(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	r.sys.Engine.ClearWrites()
	require.NoError(t, r.ch.Start(desc))
	assert.Equal(t, axidma.Running, r.ch.State())

	l := axidma.DefaultLayout.MM2S
	want := []sim.Write{
		{Off: l.Address, Value: txAddr},
		{Off: l.Control, Value: axidma.CtrlRunStop},
		{Off: l.Length, Value: txSize},
	}
	assert.Equal(t, want, r.sys.Engine.Writes())
}

func TestStartKeepsOtherControlBits(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	l := axidma.DefaultLayout.MM2S
	const irqEnable = 1 << 12
	require.NoError(t, r.sys.Engine.Write32(l.Control, irqEnable))
	r.sys.Engine.ClearWrites()
	require.NoError(t, r.ch.Start(desc))
	w := r.sys.Engine.Writes()
	require.Len(t, w, 3)
	assert.Equal(t, sim.Write{Off: l.Control, Value: irqEnable | axidma.CtrlRunStop}, w[1])
}

func TestResetClearsLatchedBits(t *testing.T) {
	r := newRig(t, axidma.S2MM)
	ctx := context.Background()
	r.ch.SettleDelay = axidma.SettleFull
	require.NoError(t, r.ch.Reset(ctx))
	slept, _ := r.clock.Slept()
	assert.Equal(t, axidma.SettleFull, slept)

	l := axidma.DefaultLayout.S2MM
	writes := r.sys.Engine.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, sim.Write{Off: l.Control, Value: axidma.CtrlReset}, writes[0])
	assert.Equal(t, sim.Write{Off: l.Status, Value: axidma.StatusClearAll}, writes[1])
	assert.Equal(t, axidma.Idle, r.ch.State())
}

func TestWaitCompleted(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.sys.Engine.SetScript(axidma.MM2S, sim.Script{Latency: 5})
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))

	o, err := r.ch.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, axidma.OutcomeCompleted, o.Kind)
	assert.Equal(t, axidma.StatusIOC, o.Bits())
	assert.NoError(t, o.Err())
	assert.Equal(t, axidma.Completed, r.ch.State())
	_, sleeps := r.clock.Slept()
	assert.Equal(t, 5+1, sleeps, "one settle plus one sleep per busy poll")

	require.NoError(t, r.ch.Acknowledge(ctx, o))
	st := r.status(t)
	assert.False(t, st.Complete())
	assert.True(t, st.Idle())
	assert.Equal(t, axidma.Idle, r.ch.State())
}

func TestWaitErrorWinsOverComplete(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.sys.Engine.SetScript(axidma.MM2S, sim.Script{Fault: sim.FaultErrorAndComplete})
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))

	o, err := r.ch.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, axidma.OutcomeErrored, o.Kind)
	assert.Equal(t, axidma.StatusIOC|axidma.StatusErr, o.Bits())

	var te *axidma.TransferError
	require.True(t, errors.As(o.Err(), &te))
	assert.Equal(t, axidma.MM2S, te.Channel)

	require.NoError(t, r.ch.Acknowledge(ctx, o))
	st := r.status(t)
	assert.False(t, st.Error())
	assert.False(t, st.Complete())
	assert.NotZero(t, uint32(st)&axidma.StatusIntErr, "read only bits are left alone")
}

func TestAcknowledgeClearsOnlyItsBits(t *testing.T) {
	// the S2MM channel has a latched completion that the MM2S acknowledge must not touch
	sys := sim.NewSystem(dmaBase, dmaSpan, axidma.DefaultLayout)
	_, err := sys.Map(txAddr, txSize)
	require.NoError(t, err)
	regs, _ := sys.Map(dmaBase, dmaSpan)
	clock := sim.NewClock(time.Unix(0, 0))
	tx, err := axidma.New(regs, axidma.DefaultLayout, axidma.MM2S, clock)
	require.NoError(t, err)
	rx, err := axidma.New(regs, axidma.DefaultLayout, axidma.S2MM, clock)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, rx.Reset(ctx))
	require.NoError(t, rx.Start(axidma.Descriptor{Addr: txAddr, Length: 16}))
	orx, err := rx.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.Equal(t, axidma.OutcomeCompleted, orx.Kind)

	require.NoError(t, tx.Reset(ctx))
	require.NoError(t, tx.Start(axidma.Descriptor{Addr: txAddr, Length: 16}))
	otx, err := tx.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.NoError(t, tx.Acknowledge(ctx, otx))

	st, err := rx.Status()
	require.NoError(t, err)
	assert.True(t, st.Complete(), "S2MM completion still latched")
}

func TestAcknowledgeRejectsForeignOutcome(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.sys.Engine.SetScript(axidma.MM2S, sim.Script{Latency: 5})
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))
	o, err := r.ch.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.Equal(t, axidma.OutcomeCompleted, o.Kind)

	for _, bad := range []axidma.Outcome{{}, {Kind: axidma.OutcomeErrored}, {Kind: axidma.OutcomeTimedOut, Status: o.Status}} {
		err = r.ch.Acknowledge(ctx, bad)
		assert.True(t, errors.Is(err, axidma.ErrOutcomeMismatch), "%v", bad)
		assert.Equal(t, axidma.Completed, r.ch.State())
		assert.True(t, r.status(t).Complete(), "IOC stays latched until acknowledged")
	}

	require.NoError(t, r.ch.Acknowledge(ctx, o))
	assert.False(t, r.status(t).Complete())

	// the next transfer must not see the previous completion
	require.NoError(t, r.ch.Start(desc))
	_, before := r.clock.Slept()
	o, err = r.ch.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, axidma.OutcomeCompleted, o.Kind)
	_, after := r.clock.Slept()
	assert.Equal(t, 5, after-before, "completion only after the scripted latency")
}

func TestWaitTimesOut(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.sys.Engine.SetScript(axidma.MM2S, sim.Script{Fault: sim.FaultHang})
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))

	start := r.clock.Now()
	o, err := r.ch.Wait(ctx, time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, axidma.OutcomeTimedOut, o.Kind)
	assert.Zero(t, o.Bits())
	assert.True(t, errors.Is(o.Err(), axidma.ErrTimedOut))
	assert.Equal(t, axidma.TimedOut, r.ch.State())
	elapsed := r.clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	// acknowledging a timeout resets the wedged channel
	require.NoError(t, r.ch.Acknowledge(ctx, o))
	assert.Equal(t, axidma.Idle, r.ch.State())
	assert.True(t, r.status(t).Halted())
}

func TestWaitCancelled(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.sys.Engine.SetScript(axidma.MM2S, sim.Script{Fault: sim.FaultHang})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))
	cancel()
	_, err := r.ch.Wait(ctx, time.Millisecond, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStartRequiresIdle(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	ctx := context.Background()
	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))
	err := r.ch.Start(desc)
	assert.True(t, errors.Is(err, axidma.ErrBusy))

	o, err := r.ch.Wait(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	err = r.ch.Start(desc)
	assert.True(t, errors.Is(err, axidma.ErrBusy), "unacknowledged outcome blocks the next start")
	require.NoError(t, r.ch.Acknowledge(ctx, o))
	assert.NoError(t, r.ch.Start(desc))
}

func TestWaitWithoutStart(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	_, err := r.ch.Wait(context.Background(), time.Millisecond, time.Second)
	assert.True(t, errors.Is(err, axidma.ErrNotRunning))
	err = r.ch.Acknowledge(context.Background(), axidma.Outcome{})
	assert.Error(t, err)
}

func TestDescriptorValidate(t *testing.T) {
	cases := []struct {
		name string
		d    axidma.Descriptor
		buf  int
		ok   bool
	}{
		{"fits", axidma.Descriptor{Length: 16384}, 16384, true},
		{"unbounded", axidma.Descriptor{Length: 1 << 20}, 0, true},
		{"zero", axidma.Descriptor{Length: 0}, 16384, false},
		{"not a sample", axidma.Descriptor{Length: 6}, 16384, false},
		{"too big", axidma.Descriptor{Length: 16388}, 16384, false},
		{"register width", axidma.Descriptor{Length: 1 << 26}, 0, false},
	}
	for _, c := range cases {
		err := c.d.Validate(c.buf)
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && !errors.Is(err, axidma.ErrDescriptor) {
			t.Errorf("%s: expected ErrDescriptor, got %v", c.name, err)
		}
	}
}

func TestStartHonorsMaxLength(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	r.ch.MaxLength = 64
	require.NoError(t, r.ch.Reset(context.Background()))
	err := r.ch.Start(axidma.Descriptor{Addr: txAddr, Length: 128})
	assert.True(t, errors.Is(err, axidma.ErrDescriptor))
	assert.Equal(t, axidma.Idle, r.ch.State())
}

func TestRestartReplaysLength(t *testing.T) {
	r := newRig(t, axidma.MM2S)
	ctx := context.Background()
	err := r.ch.Restart()
	assert.True(t, errors.Is(err, axidma.ErrDescriptor), "nothing to replay yet")

	require.NoError(t, r.ch.Reset(ctx))
	require.NoError(t, r.ch.Start(desc))
	for i := 0; i < 3; i++ {
		o, err := r.ch.Wait(ctx, time.Millisecond, time.Second)
		require.NoError(t, err)
		require.Equal(t, axidma.OutcomeCompleted, o.Kind)
		require.NoError(t, r.ch.Acknowledge(ctx, o))
		r.sys.Engine.ClearWrites()
		require.NoError(t, r.ch.Restart())
		assert.Equal(t, []sim.Write{{Off: axidma.DefaultLayout.MM2S.Length, Value: txSize}}, r.sys.Engine.Writes())
	}
	assert.Equal(t, 3, r.sys.Engine.Transfers(axidma.MM2S))
}

func TestStatusString(t *testing.T) {
	s := axidma.Status(axidma.StatusIdle | axidma.StatusIOC)
	assert.Equal(t, "0x00001002 [IDLE|IOC_IRQ]", s.String())
	assert.Equal(t, "MM2S", axidma.MM2S.String())
	assert.Equal(t, "Running", axidma.Running.String())
}
