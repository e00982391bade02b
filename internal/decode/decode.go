// Package decode implements the resynchronising frame decoder: it turns an
// accumulator of raw bytes into one tagged record per call, tolerating
// corruption, partial reads, and interleaved ASCII text.
package decode

import (
	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/accum"
)

// quickResult is the outcome of inspecting the accumulator head for a
// recognisable frame, without consuming anything.
type quickResult int

const (
	resTooShort quickResult = iota
	resNoHeader
	resIncompleteHeader
	resIncompletePacket
	resInvalidHeader
	resInvalidFooter
	resValid
)

const badHeaderThreshold = 3

// Event reports a recovered decode-time condition, for callers that want to
// surface it through an error callback without re-parsing decoder state.
type Event int

const (
	// EventNone means the last Process call raised nothing notable.
	EventNone Event = iota
	// EventResync means more than badHeaderThreshold consecutive invalid
	// headers/footers forced a single-byte skip.
	EventResync
	// EventBloat means the accumulator exceeded 4096 bytes without a
	// recognisable prefix and was truncated to its last byte.
	EventBloat
)

// Decoder turns accumulated bytes into frame.Record values. It is not safe
// for concurrent use; the transport confines it to its reader goroutine.
type Decoder struct {
	acc           frame.Accumulator
	badHeaders    int
	lastItemStamp float64
	haveLastStamp bool
	event         Event
}

// New returns a Decoder backed by a fresh ring accumulator with 8192 bytes
// of initial capacity; the ring grows when a larger frame is buffered.
func New() *Decoder {
	return &Decoder{acc: accum.New(8192)}
}

// NewWithAccumulator lets callers supply their own Accumulator, e.g. a test
// fake that doesn't allocate.
func NewWithAccumulator(a frame.Accumulator) *Decoder {
	return &Decoder{acc: a}
}

// Reset empties the accumulator and clears the bad-header counter. It does
// not reset the cross-frame timestamp clamp, which is a decoder-lifetime
// invariant, not a buffer-state one.
func (d *Decoder) Reset() {
	d.acc.Reset()
	d.badHeaders = 0
	d.event = EventNone
}

// LastEvent reports the recovered condition, if any, that the most recent
// Process call raised.
func (d *Decoder) LastEvent() Event {
	return d.event
}

// Buffered reports how many bytes the accumulator currently holds. Callers
// draining a chunk by repeatedly calling Process with an empty chunk use a
// shrinking Buffered count to tell a frame hiding behind a stray sentinel
// or a resync byte-drop from true exhaustion, since both can return Unknown
// without the accumulator being empty.
func (d *Decoder) Buffered() int {
	return d.acc.Len()
}

// Process appends chunk's bytes to the accumulator and makes one attempt to
// extract a complete record from the head. It returns frame.Unknown when
// more input is needed, more bytes were dropped during resync, or a stray
// END sentinel was consumed; a consumed text line returns frame.Text. Callers that want to drain every complete
// record already buffered should call Process again with an empty chunk
// until it returns Unknown with no further progress.
func (d *Decoder) Process(chunk frame.Chunk) (frame.Record, frame.Kind) {
	d.event = EventNone
	if len(chunk.Bytes) > 0 {
		d.acc.Append(chunk.Bytes)
	}
	return d.attempt(chunk.TimestampMS)
}

func (d *Decoder) attempt(chunkTS int64) (frame.Record, frame.Kind) {
	if d.acc.Len() == 0 {
		return frame.Record{}, frame.Unknown
	}

	buf := d.acc.Bytes()
	res, kind, total := d.quickCheck(buf)

	if res == resValid {
		rec, err := d.parseKind(kind, buf[:total])
		d.acc.Consume(total)
		d.badHeaders = 0
		if err != nil {
			return frame.Record{}, frame.Unknown
		}
		return rec, kind
	}

	if res == resIncompleteHeader || res == resIncompletePacket {
		return frame.Record{}, frame.Unknown
	}

	if matchesAnyEnd(buf) {
		d.acc.Consume(4)
		return frame.Record{}, frame.Unknown
	}

	if nl := d.acc.IndexByte('\n'); nl >= 0 {
		line := buf[:nl+1]
		text := string(line)
		if len(text) > frame.MaxTextSize-1 {
			text = text[:frame.MaxTextSize-1]
		}
		rec := frame.Record{
			Kind: frame.Text,
			Text: frame.TextLine{
				Timestamp: float64(chunkTS),
				Text:      text,
			},
		}
		d.acc.Consume(nl + 1)
		d.badHeaders = 0
		return rec, frame.Text
	}

	if res == resInvalidHeader || res == resInvalidFooter {
		d.badHeaders++
		if d.badHeaders > badHeaderThreshold {
			d.acc.Consume(1)
			d.badHeaders = 0
			d.event = EventResync
		}
	}

	if idx := findPrefixFrom(buf, 1); idx > 0 {
		d.acc.Consume(idx)
		return d.attempt(chunkTS)
	}

	if d.acc.Len() > 4096 {
		keep := d.acc.Len() - 1
		d.acc.Consume(keep)
		d.event = EventBloat
	}
	return frame.Record{}, frame.Unknown
}

func matchesAnyEnd(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	var b4 [4]byte
	copy(b4[:], buf[:4])
	return b4 == frame.DataEnd || b4 == frame.BlockEnd || b4 == frame.TelemetryEnd
}

func findPrefixFrom(buf []byte, start int) int {
	for i := start; i+1 < len(buf); i++ {
		if buf[i] == frame.CommonPrefix[0] && buf[i+1] == frame.CommonPrefix[1] {
			return i
		}
	}
	return -1
}

// quickCheck inspects the accumulator head without consuming it, returning
// the frame kind and the total byte count a Valid result would consume.
func (d *Decoder) quickCheck(buf []byte) (quickResult, frame.Kind, int) {
	if len(buf) < 2 {
		return resTooShort, frame.Unknown, 0
	}
	if buf[0] != frame.CommonPrefix[0] || buf[1] != frame.CommonPrefix[1] {
		return resNoHeader, frame.Unknown, 0
	}
	if len(buf) < 4 {
		return resIncompleteHeader, frame.Unknown, 0
	}

	var start [4]byte
	copy(start[:], buf[:4])

	switch start {
	case frame.DataStart:
		total := 4 + frame.SizeDataRecord + 4
		if len(buf) < total {
			return resIncompletePacket, frame.Data, 0
		}
		if !hasEnd(buf, total, frame.DataEnd) {
			return resInvalidFooter, frame.Data, 0
		}
		return resValid, frame.Data, total

	case frame.BlockStart:
		if len(buf) < 4+frame.SizeBlockHeader {
			return resIncompleteHeader, frame.Block, 0
		}
		_, _, count, numEvents, _ := frame.UnmarshalBlockHeader(buf[4:])
		if count > frame.MaxBlockCount || numEvents > frame.MaxBlockEvents {
			return resInvalidHeader, frame.Block, 0
		}
		total := 4 + frame.SizeBlockHeader + int(count)*frame.SizeDataItem + int(numEvents)*frame.SizeEventItem + 4
		if len(buf) < total {
			return resIncompletePacket, frame.Block, 0
		}
		if !hasEnd(buf, total, frame.BlockEnd) {
			return resInvalidFooter, frame.Block, 0
		}
		return resValid, frame.Block, total

	case frame.TelemetryStart:
		total := 4 + frame.SizeTelemetryRecord + 4
		if len(buf) < total {
			return resIncompletePacket, frame.Telemetry, 0
		}
		if !hasEnd(buf, total, frame.TelemetryEnd) {
			return resInvalidFooter, frame.Telemetry, 0
		}
		return resValid, frame.Telemetry, total

	default:
		return resInvalidHeader, frame.Unknown, 0
	}
}

func hasEnd(buf []byte, total int, end [4]byte) bool {
	var got [4]byte
	copy(got[:], buf[total-4:total])
	return got == end
}

func (d *Decoder) parseKind(kind frame.Kind, frameBuf []byte) (frame.Record, error) {
	payload := frameBuf[4 : len(frameBuf)-4]

	switch kind {
	case frame.Data:
		dr, err := frame.UnmarshalDataRecord(payload)
		if err != nil {
			return frame.Record{}, err
		}
		return frame.Record{Kind: frame.Data, Data: dr}, nil

	case frame.Block:
		state, timestamp, count, numEvents, err := frame.UnmarshalBlockHeader(payload)
		if err != nil {
			return frame.Record{}, err
		}
		items, events, err := frame.UnmarshalBlockBody(payload[frame.SizeBlockHeader:], count, numEvents)
		if err != nil {
			return frame.Record{}, err
		}
		for i := range items {
			if d.haveLastStamp && items[i].Timestamp < d.lastItemStamp {
				items[i].Timestamp = d.lastItemStamp
			}
			d.lastItemStamp = items[i].Timestamp
			d.haveLastStamp = true
		}
		return frame.Record{
			Kind: frame.Block,
			Block: frame.BlockRecord{
				State:     state,
				Timestamp: timestamp,
				BlockData: items,
				EventData: events,
			},
		}, nil

	case frame.Telemetry:
		tr, err := frame.UnmarshalTelemetryRecord(payload)
		if err != nil {
			return frame.Record{}, err
		}
		return frame.Record{Kind: frame.Telemetry, Telemetry: tr}, nil

	default:
		return frame.Record{}, nil
	}
}
