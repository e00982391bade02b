package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MarshalError reports a fixed-layout encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData = MarshalError("frame: insufficient data")
	ErrInvalidType       = MarshalError("frame: unsupported type for marshal")
)

// MarshalDataRecord writes a DataRecord body (without START/END) in wire
// order, little-endian, no padding.
func MarshalDataRecord(r *DataRecord) []byte {
	buf := make([]byte, SizeDataRecord)
	putDataRecord(buf, r)
	return buf
}

func putDataRecord(buf []byte, r *DataRecord) {
	binary.LittleEndian.PutUint32(buf[0:4], r.State)
	binary.LittleEndian.PutUint64(buf[4:12], floatBits(r.Timestamp))
	binary.LittleEndian.PutUint64(buf[12:20], floatBits(r.StateTime))
	binary.LittleEndian.PutUint64(buf[20:28], r.HWState)
	binary.LittleEndian.PutUint32(buf[28:32], r.SensorState)
	off := 32
	for i := 0; i < ANumChannels; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], r.Channels[i])
		off += 4
	}
}

// UnmarshalDataRecord reads a DataRecord body from buf, which must be at
// least SizeDataRecord bytes.
func UnmarshalDataRecord(buf []byte) (DataRecord, error) {
	if len(buf) < SizeDataRecord {
		return DataRecord{}, ErrInsufficientData
	}
	var r DataRecord
	r.State = binary.LittleEndian.Uint32(buf[0:4])
	r.Timestamp = bitsFloat(binary.LittleEndian.Uint64(buf[4:12]))
	r.StateTime = bitsFloat(binary.LittleEndian.Uint64(buf[12:20]))
	r.HWState = binary.LittleEndian.Uint64(buf[20:28])
	r.SensorState = binary.LittleEndian.Uint32(buf[28:32])
	off := 32
	for i := 0; i < ANumChannels; i++ {
		r.Channels[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return r, nil
}

// unmarshalDataItem reads a DataItem (a DataRecord body without the leading
// state field) from buf.
func unmarshalDataItem(buf []byte) (DataItem, error) {
	if len(buf) < SizeDataItem {
		return DataItem{}, ErrInsufficientData
	}
	var d DataItem
	d.Timestamp = bitsFloat(binary.LittleEndian.Uint64(buf[0:8]))
	d.StateTime = bitsFloat(binary.LittleEndian.Uint64(buf[8:16]))
	d.HWState = binary.LittleEndian.Uint64(buf[16:24])
	d.SensorState = binary.LittleEndian.Uint32(buf[24:28])
	off := 28
	for i := 0; i < ANumChannels; i++ {
		d.Channels[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return d, nil
}

func unmarshalEventItem(buf []byte) (EventItem, error) {
	if len(buf) < SizeEventItem {
		return EventItem{}, ErrInsufficientData
	}
	var e EventItem
	e.Kind = uint32(buf[0])
	e.StateTime = bitsFloat(binary.LittleEndian.Uint64(buf[1:9]))
	return e, nil
}

// UnmarshalBlockHeader reads the fixed-size header fields (state, timestamp,
// count, num_events) at the front of a Block payload.
func UnmarshalBlockHeader(buf []byte) (state uint32, timestamp float64, count, numEvents uint32, err error) {
	if len(buf) < SizeBlockHeader {
		err = ErrInsufficientData
		return
	}
	state = binary.LittleEndian.Uint32(buf[0:4])
	timestamp = bitsFloat(binary.LittleEndian.Uint64(buf[4:12]))
	count = binary.LittleEndian.Uint32(buf[12:16])
	numEvents = binary.LittleEndian.Uint32(buf[16:20])
	return
}

// UnmarshalBlockBody reads count DataItems followed by numEvents EventItems
// from buf, which must begin right after the block header.
func UnmarshalBlockBody(buf []byte, count, numEvents uint32) ([]DataItem, []EventItem, error) {
	need := int(count)*SizeDataItem + int(numEvents)*SizeEventItem
	if len(buf) < need {
		return nil, nil, ErrInsufficientData
	}
	items := make([]DataItem, count)
	off := 0
	for i := range items {
		d, err := unmarshalDataItem(buf[off : off+SizeDataItem])
		if err != nil {
			return nil, nil, err
		}
		items[i] = d
		off += SizeDataItem
	}
	events := make([]EventItem, numEvents)
	for i := range events {
		e, err := unmarshalEventItem(buf[off : off+SizeEventItem])
		if err != nil {
			return nil, nil, err
		}
		events[i] = e
		off += SizeEventItem
	}
	return items, events, nil
}

// UnmarshalTelemetryRecord reads a TelemetryRecord body and re-derives Key
// from the group|subgroup|id bytes, matching how the device packs it.
func UnmarshalTelemetryRecord(buf []byte) (TelemetryRecord, error) {
	if len(buf) < SizeTelemetryRecord {
		return TelemetryRecord{}, ErrInsufficientData
	}
	var t TelemetryRecord
	t.Timestamp = bitsFloat(binary.LittleEndian.Uint64(buf[0:8]))
	t.Group = buf[8]
	t.Subgroup = buf[9]
	t.ID = binary.LittleEndian.Uint16(buf[10:12])
	t.Value = bitsFloat32(binary.LittleEndian.Uint32(buf[12:16]))
	t.Key = binary.LittleEndian.Uint32(buf[8:12])
	return t, nil
}

// Marshal dispatches to the appropriate field-by-field encoder by dynamic
// type, mirroring the teacher's uapi marshal dispatch.
func Marshal(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *DataRecord:
		return MarshalDataRecord(t), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidType, v)
	}
}

func floatBits(f float64) uint64   { return math.Float64bits(f) }
func bitsFloat(u uint64) float64   { return math.Float64frombits(u) }
func bitsFloat32(u uint32) float32 { return math.Float32frombits(u) }
