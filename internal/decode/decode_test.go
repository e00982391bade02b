package decode

import (
	"testing"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/stretchr/testify/require"
)

func framedData(r frame.DataRecord) []byte {
	buf := append([]byte{}, frame.DataStart[:]...)
	buf = append(buf, frame.MarshalDataRecord(&r)...)
	buf = append(buf, frame.DataEnd[:]...)
	return buf
}

func feed(d *Decoder, b []byte) (frame.Record, frame.Kind) {
	var rec frame.Record
	var kind frame.Kind
	for _, c := range b {
		rec, kind = d.Process(frame.Chunk{Bytes: []byte{c}})
		if kind != frame.Unknown {
			return rec, kind
		}
	}
	return rec, kind
}

func TestRoundTripData(t *testing.T) {
	d := New()
	in := frame.DataRecord{State: 3, Timestamp: 1.5, SensorState: 9}
	rec, kind := feed(d, framedData(in))
	require.Equal(t, frame.Data, kind)
	require.Equal(t, in, rec.Data)
	require.Equal(t, 0, d.acc.Len())
}

func TestResync(t *testing.T) {
	d := New()
	junk := []byte{0x00, 0x11, 0x22}
	payload := append(append([]byte{}, junk...), framedData(frame.DataRecord{})...)
	rec, kind := feed(d, payload)
	require.Equal(t, frame.Data, kind)
	_ = rec
	require.Equal(t, 0, d.acc.Len())
}

func TestInterleavedText(t *testing.T) {
	d := New()
	rec, kind := feed(d, []byte("hello\n"))
	require.Equal(t, frame.Text, kind)
	require.Equal(t, "hello\n", rec.Text.Text)

	rec2, kind2 := feed(d, framedData(frame.DataRecord{State: 1}))
	require.Equal(t, frame.Data, kind2)
	require.Equal(t, uint32(1), rec2.Data.State)
}

func TestStrayEnd(t *testing.T) {
	d := New()
	d.acc.Append(frame.DataEnd[:])
	rec, kind := d.attempt(0)
	require.Equal(t, frame.Unknown, kind)
	require.Equal(t, frame.Record{}, rec)
	require.Equal(t, 0, d.acc.Len())
}

func TestBlockWithEvents(t *testing.T) {
	d := New()
	buf := append([]byte{}, frame.BlockStart[:]...)
	header := make([]byte, frame.SizeBlockHeader)
	header[12] = 3 // count
	header[16] = 2 // num_events
	buf = append(buf, header...)
	buf = append(buf, make([]byte, 3*frame.SizeDataItem)...)
	buf = append(buf, make([]byte, 2*frame.SizeEventItem)...)
	buf = append(buf, frame.BlockEnd[:]...)

	rec, kind := feed(d, buf)
	require.Equal(t, frame.Block, kind)
	require.Len(t, rec.Block.BlockData, 3)
	require.Len(t, rec.Block.EventData, 2)
}

func TestTelemetryKey(t *testing.T) {
	d := New()
	buf := append([]byte{}, frame.TelemetryStart[:]...)
	payload := make([]byte, frame.SizeTelemetryRecord)
	payload[8] = 0x12
	payload[9] = 0x34
	payload[10] = 0x78
	payload[11] = 0x56
	buf = append(buf, payload...)
	buf = append(buf, frame.TelemetryEnd[:]...)

	rec, kind := feed(d, buf)
	require.Equal(t, frame.Telemetry, kind)
	require.Equal(t, uint32(0x56783412), rec.Telemetry.Key)
}

func TestBlockStateUnsetIsEmittedByDecoder(t *testing.T) {
	d := New()
	buf := append([]byte{}, frame.BlockStart[:]...)
	header := make([]byte, frame.SizeBlockHeader)
	header[0] = 0x00
	header[1] = 0x00
	header[2] = 0x00
	header[3] = 0x80 // state = STATE_UNSET, little-endian
	buf = append(buf, header...)
	buf = append(buf, frame.BlockEnd[:]...)

	rec, kind := feed(d, buf)
	require.Equal(t, frame.Block, kind)
	require.Equal(t, frame.STATEUnset, rec.Block.State)
}
