package teensymonitor

import (
	"errors"
	"testing"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/config"
	"github.com/amalcolm/TeensyMonitor/internal/decode"
	"github.com/amalcolm/TeensyMonitor/internal/dispatch"
	"github.com/amalcolm/TeensyMonitor/internal/fixer"
	"github.com/amalcolm/TeensyMonitor/internal/handshake"
	"github.com/amalcolm/TeensyMonitor/internal/serial"
	"github.com/stretchr/testify/require"
)

// newTestDevice builds a Device without opening a real port, exercising
// the same wiring onChunk/handleRecord/runFixer rely on.
func newTestDevice(t *testing.T, consumer dispatch.Consumer) *Device {
	t.Helper()
	registry := config.NewRegistry()
	d := &Device{
		decoder:  decode.New(),
		registry: registry,
		fixer:    fixer.New(),
		bridge:   dispatch.New(dispatch.Direct, consumer, 0, nil, nil),
	}
	d.handshake = handshake.New(nil, "1.0", registry, nil, nil)
	return d
}

func TestHandleRecordRoutesDataToFixerAndBridge(t *testing.T) {
	var got *dispatch.Sample
	d := newTestDevice(t, func(s *dispatch.Sample) { got = s })

	rec := frame.Record{Kind: frame.Data, Data: frame.DataRecord{Timestamp: 1, Channels: [frame.ANumChannels]uint32{42}}}
	d.handleRecord(rec, frame.Data)

	require.NotNil(t, got)
	require.Equal(t, frame.Data, got.Kind)

	_, changed := d.LastFix()
	require.False(t, changed)
}

func TestHandleRecordTextOutsideHandshakeReachesConsumer(t *testing.T) {
	var got *dispatch.Sample
	d := newTestDevice(t, func(s *dispatch.Sample) { got = s })

	// Controller starts Idle; HandleText only intercepts while InProgress,
	// so an Idle controller passes text straight through to the bridge.
	require.Equal(t, handshake.Idle, d.handshake.State())

	rec := frame.Record{Kind: frame.Text, Text: frame.TextLine{Text: "diagnostic line\n"}}
	d.handleRecord(rec, frame.Text)

	require.NotNil(t, got)
	require.Equal(t, frame.Text, got.Kind)
}

func TestRunFixerTracksLastCorrection(t *testing.T) {
	d := newTestDevice(t, func(s *dispatch.Sample) {})

	for i := 0; i < 10; i++ {
		d.runFixer(frame.DataRecord{Timestamp: float64(i), Channels: [frame.ANumChannels]uint32{uint32(i)}})
	}

	out, _ := d.LastFix()
	require.NotZero(t, out.X)
}

// TestOnChunkDrainsFrameBehindStrayEnd exercises the onChunk drain loop's
// keep-going-while-shrinking fix: a stray END sentinel reports Unknown
// without emptying the accumulator, and the complete Data frame sitting
// right behind it must still be delivered from the same onChunk call.
func TestOnChunkDrainsFrameBehindStrayEnd(t *testing.T) {
	var got *dispatch.Sample
	d := newTestDevice(t, func(s *dispatch.Sample) { got = s })

	buf := append([]byte{}, frame.DataEnd[:]...)
	rec := frame.DataRecord{Timestamp: 42}
	buf = append(buf, frame.DataStart[:]...)
	buf = append(buf, frame.MarshalDataRecord(&rec)...)
	buf = append(buf, frame.DataEnd[:]...)

	d.onChunk(frame.Chunk{Bytes: buf})

	require.NotNil(t, got)
	require.Equal(t, frame.Data, got.Kind)
	require.Equal(t, 42.0, got.Data.Timestamp)
}

func TestClassifyTransportErrMapsSerialKinds(t *testing.T) {
	cases := []struct {
		in   serial.Kind
		want Kind
	}{
		{serial.KindOpenFailed, KindOpenFailed},
		{serial.KindReadCancelled, KindReadCancelled},
		{serial.KindWriteFailed, KindWriteFailed},
		{serial.KindConsumerPanic, KindConsumerPanic},
		{serial.KindReadTransient, KindReadTransient},
	}
	for _, c := range cases {
		got := classifyTransportErr(&serial.Error{Op: "read", Kind: c.in, Msg: "boom"})
		require.Equal(t, c.want, got.Kind)
		require.Equal(t, "read", got.Op)
	}
}

func TestClassifyTransportErrFallsBackOnUnknownType(t *testing.T) {
	got := classifyTransportErr(errors.New("plain error"))
	require.Equal(t, KindReadTransient, got.Kind)
}

func TestOnErrorReceivesConsumerPanic(t *testing.T) {
	var got *Error
	d := newTestDevice(t, func(s *dispatch.Sample) {})
	d.onError = func(e *Error) { got = e }

	d.onConsumerPanic(errors.New("consumer callback panicked: boom"))

	require.NotNil(t, got)
	require.Equal(t, KindConsumerPanic, got.Kind)
}

func TestOnHandshakeStateDisconnectedReportsHandshakeCancelled(t *testing.T) {
	var got *Error
	d := newTestDevice(t, func(s *dispatch.Sample) {})
	d.onError = func(e *Error) { got = e }

	d.onHandshakeState(handshake.Disconnected)

	require.NotNil(t, got)
	require.Equal(t, KindHandshakeCancelled, got.Kind)
}

func TestClearIsNoOpWithoutAnOpenPort(t *testing.T) {
	d := newTestDevice(t, func(s *dispatch.Sample) {})
	require.NotPanics(t, func() { d.Clear() })
}
