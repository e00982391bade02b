// Package frame defines the wire layout of the records the device streams
// over the serial link, and the tagged-union result handed up from a
// decoder.
package frame

// Kind identifies which of the four record shapes a Record carries.
type Kind uint8

const (
	Unknown Kind = iota
	Data
	Block
	Telemetry
	Text
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "Data"
	case Block:
		return "Block"
	case Telemetry:
		return "Telemetry"
	case Text:
		return "Text"
	default:
		return "Unknown"
	}
}

// STATEUnset is the sentinel a producer stamps into a state field before it
// has committed a real value. Block records carrying it are suppressed by
// the dispatch bridge before reaching the consumer.
const STATEUnset uint32 = 0x80000000

// Frame sentinels. All four kinds share the two-byte prefix {0xB4, 0xFA};
// the following two bytes distinguish kind and start/end.
var (
	DataStart      = [4]byte{0xB4, 0xFA, 0xD1, 0xED}
	DataEnd        = [4]byte{0xB4, 0xFA, 0xD2, 0xED}
	BlockStart     = [4]byte{0xB4, 0xFA, 0xB1, 0xED}
	BlockEnd       = [4]byte{0xB4, 0xFA, 0xB2, 0xED}
	TelemetryStart = [4]byte{0xB4, 0xFA, 0x71, 0xED}
	TelemetryEnd   = [4]byte{0xB4, 0xFA, 0x72, 0xED}

	CommonPrefix = [2]byte{0xB4, 0xFA}
)

// Wire sizes, field-by-field. These mirror the packed C layout: no padding,
// little-endian.
const (
	ANumChannels = 8

	SizeDataRecord      = 4 + 8 + 8 + 8 + 4 + 4*ANumChannels // state,ts,state_time,hw_state,sensor_state,channels
	SizeDataItem        = SizeDataRecord - 4                 // DataRecord body without the leading state
	SizeEventItem       = 1 + 8                              // kind u8, state_time f64
	SizeBlockHeader     = 4 + 8 + 4 + 4                      // state,timestamp,count,num_events
	SizeTelemetryRecord = 8 + 1 + 1 + 2 + 4                  // timestamp,group,subgroup,id,value

	MaxBlockCount  = 164
	MaxBlockEvents = 512

	MaxTextSize = 4096
)

// DataRecord is one scalar sample across the device's A/D channels.
type DataRecord struct {
	State        uint32
	Timestamp    float64
	StateTime    float64
	HWState      uint64
	SensorState  uint32
	Channels     [ANumChannels]uint32
}

// DataItem is the per-entry payload of a Block: a DataRecord body without
// the leading state field, which the block shares across all its items.
type DataItem struct {
	Timestamp   float64
	StateTime   float64
	HWState     uint64
	SensorState uint32
	Channels    [ANumChannels]uint32
}

// EventItem is one entry in a Block's event timeline. Kind is widened from
// its on-wire u8 representation.
type EventItem struct {
	Kind      uint32
	StateTime float64
}

// BlockRecord groups a run of DataItems sharing one state with an event
// timeline observed over the same span.
type BlockRecord struct {
	State      uint32
	Timestamp  float64
	BlockData  []DataItem
	EventData  []EventItem
}

// TelemetryRecord is a single named scalar reading. Key is the 32-bit
// concatenation of group|subgroup|id re-read from the same bytes, used for
// map indexing by callers that want O(1) lookup by telemetry channel.
type TelemetryRecord struct {
	Timestamp float64
	Group     uint8
	Subgroup  uint8
	ID        uint16
	Value     float32
	Key       uint32
}

// TextLine is a newline-terminated diagnostic or handshake line. Text keeps
// the trailing newline; there is no separate length field.
type TextLine struct {
	Timestamp float64
	Text      string
}

// Record is the tagged union produced by a decoder. Exactly one of the
// Data/Block/Telemetry/Text fields is populated, selected by Kind.
type Record struct {
	Kind      Kind
	Data      DataRecord
	Block     BlockRecord
	Telemetry TelemetryRecord
	Text      TextLine
}

// Chunk is a timestamped opaque byte sequence produced by the transport.
type Chunk struct {
	TimestampMS int64
	Bytes       []byte
}

// Accumulator is the append/prefix-consume/search contract the decoder
// needs from its backing byte queue. accum.Ring is the concrete
// implementation; the interface exists so the decoder can be tested
// against a minimal fake without pulling in the ring's allocation
// strategy.
type Accumulator interface {
	Append(b []byte)
	Len() int
	Bytes() []byte
	Consume(n int)
	IndexByte(c byte) int
	Reset()
}
