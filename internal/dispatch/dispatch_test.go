package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/stretchr/testify/require"
)

func TestDirectDelivery(t *testing.T) {
	var got *Sample
	var mu sync.Mutex
	b := New(Direct, func(s *Sample) {
		mu.Lock()
		got = s
		mu.Unlock()
	}, 0, nil, nil)

	ok := b.Submit(frame.Record{Kind: frame.Data, Data: frame.DataRecord{SensorState: 1}})
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	require.Equal(t, frame.Data, got.Kind)
}

func TestBlockStateUnsetSuppressed(t *testing.T) {
	called := false
	b := New(Direct, func(s *Sample) { called = true }, 0, nil, nil)
	ok := b.Submit(frame.Record{Kind: frame.Block, Block: frame.BlockRecord{State: frame.STATEUnset}})
	require.False(t, ok)
	require.False(t, called)
}

func TestCarriageReturnTextSuppressed(t *testing.T) {
	called := false
	b := New(Direct, func(s *Sample) { called = true }, 0, nil, nil)
	ok := b.Submit(frame.Record{Kind: frame.Text, Text: frame.TextLine{Text: "\r"}})
	require.False(t, ok)
	require.False(t, called)
}

func TestQueuedDelivery(t *testing.T) {
	done := make(chan struct{})
	b := New(Queued, func(s *Sample) { close(done) }, 4, nil, nil)
	defer b.Close()

	b.Submit(frame.Record{Kind: frame.Data})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued consumer never ran")
	}
}

func TestHWStateBitfieldExpansion(t *testing.T) {
	hw := uint64(0)
	hw |= uint64(12345)       // seq
	hw |= uint64(7) << 32     // offset1
	hw |= uint64(8) << 40     // offset2
	hw |= uint64(9) << 48     // gain

	seq, o1, o2, gain := expandHWState(hw)
	require.Equal(t, uint32(12345), seq)
	require.Equal(t, uint8(7), o1)
	require.Equal(t, uint8(8), o2)
	require.Equal(t, uint8(9), gain)
}

func TestConsumerPanicIsRecovered(t *testing.T) {
	b := New(Direct, func(s *Sample) { panic("boom") }, 0, nil, nil)
	require.NotPanics(t, func() {
		b.Submit(frame.Record{Kind: frame.Data})
	})
}

func TestConsumerPanicReportsOnErr(t *testing.T) {
	var got error
	b := New(Direct, func(s *Sample) { panic("boom") }, 0, func(err error) { got = err }, nil)
	b.Submit(frame.Record{Kind: frame.Data})
	require.Error(t, got)
	require.Contains(t, got.Error(), "boom")
}
