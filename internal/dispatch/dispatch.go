// Package dispatch converts decoded native records into pooled
// consumer-facing records and submits them to one of three delivery
// policies.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/logging"
)

// Policy selects how a Bridge hands records to the consumer. It is fixed
// at construction.
type Policy int

const (
	// Direct calls the consumer on the calling (transport reader) goroutine.
	Direct Policy = iota
	// Pool queues the consumer call onto a shared worker pool.
	Pool
	// Queued enqueues onto a bounded channel serviced by one long-running
	// worker.
	Queued
)

// Sample is a consumer-facing decoded record, rented from a kind-keyed
// pool. The Bridge releases it back to its pool once the consumer returns,
// so a consumer must not keep it past that point.
type Sample struct {
	Kind      frame.Kind
	Data      DataSample
	Block     BlockSample
	Telemetry frame.TelemetryRecord
	Text      frame.TextLine

	release func(*Sample)
}

// Release returns the Sample to its pool. Calling it more than once, or on
// a Sample not obtained from a Bridge, is a no-op.
func (s *Sample) Release() {
	if release := s.release; release != nil {
		s.release = nil
		release(s)
	}
}

// DataSample is a DataRecord with its bitfields expanded for direct
// consumption.
type DataSample struct {
	Timestamp      float64
	StateTime      float64
	Channels       [frame.ANumChannels]uint32
	SequenceNumber uint32
	Offset1        uint8
	Offset2        uint8
	Gain           uint8
	PreGainSensor  uint16
	PostGainSensor uint16
}

// BlockSample is a BlockRecord with each of its DataItems expanded the same
// way a DataSample is.
type BlockSample struct {
	Timestamp float64
	Items     []DataSample
	Events    []frame.EventItem
}

// expandHWState unpacks the compacted hw_state bitfield:
// bits[0:32]=SequenceNumber, [32:40]=Offset1, [40:48]=Offset2, [48:56]=Gain.
func expandHWState(hw uint64) (seq uint32, off1, off2, gain uint8) {
	seq = uint32(hw)
	off1 = uint8(hw >> 32)
	off2 = uint8(hw >> 40)
	gain = uint8(hw >> 48)
	return
}

// expandSensorState unpacks the compacted sensor_state bitfield:
// bits[0:16]=preGainSensor, [16:32]=postGainSensor.
func expandSensorState(ss uint32) (pre, post uint16) {
	pre = uint16(ss)
	post = uint16(ss >> 16)
	return
}

func expandDataRecord(d frame.DataRecord) DataSample {
	seq, off1, off2, gain := expandHWState(d.HWState)
	pre, post := expandSensorState(d.SensorState)
	return DataSample{
		Timestamp:      d.Timestamp,
		StateTime:      d.StateTime,
		Channels:       d.Channels,
		SequenceNumber: seq,
		Offset1:        off1,
		Offset2:        off2,
		Gain:           gain,
		PreGainSensor:  pre,
		PostGainSensor: post,
	}
}

func expandDataItem(d frame.DataItem) DataSample {
	seq, off1, off2, gain := expandHWState(d.HWState)
	pre, post := expandSensorState(d.SensorState)
	return DataSample{
		Timestamp:      d.Timestamp,
		StateTime:      d.StateTime,
		Channels:       d.Channels,
		SequenceNumber: seq,
		Offset1:        off1,
		Offset2:        off2,
		Gain:           gain,
		PreGainSensor:  pre,
		PostGainSensor: post,
	}
}

// Consumer receives dispatched samples. Panics raised inside a Consumer are
// recovered, logged, and reported through onErr by the Bridge; the
// recovery never calls back into Consumer itself.
type Consumer func(*Sample)

// Bridge rents consumer samples from kind-keyed pools and submits them to
// the consumer under the configured Policy.
type Bridge struct {
	policy   Policy
	consumer Consumer
	onErr    func(error)
	log      *logging.Logger

	dataPool      sync.Pool
	blockPool     sync.Pool
	telemetryPool sync.Pool
	textPool      sync.Pool

	poolWorkers sync.WaitGroup
	queueCh     chan *Sample
	queueDone   chan struct{}
}

// New returns a Bridge that delivers to consumer under policy. For Queued,
// depth sets the bounded channel capacity and one worker goroutine is
// started immediately. onErr, if non-nil, is called with a recovered
// consumer panic; it never receives anything else.
func New(policy Policy, consumer Consumer, depth int, onErr func(error), log *logging.Logger) *Bridge {
	b := &Bridge{policy: policy, consumer: consumer, onErr: onErr, log: log}
	b.dataPool.New = func() any { return &Sample{} }
	b.blockPool.New = func() any { return &Sample{} }
	b.telemetryPool.New = func() any { return &Sample{} }
	b.textPool.New = func() any { return &Sample{} }

	if policy == Queued {
		if depth <= 0 {
			depth = 64
		}
		b.queueCh = make(chan *Sample, depth)
		b.queueDone = make(chan struct{})
		go b.queueWorker()
	}
	return b
}

// Close stops the Queued worker, if any. Safe to call on other policies.
func (b *Bridge) Close() {
	if b.queueCh != nil {
		close(b.queueCh)
		<-b.queueDone
	}
}

func (b *Bridge) poolFor(kind frame.Kind) *sync.Pool {
	switch kind {
	case frame.Data:
		return &b.dataPool
	case frame.Block:
		return &b.blockPool
	case frame.Telemetry:
		return &b.telemetryPool
	default:
		return &b.textPool
	}
}

func (b *Bridge) rent(kind frame.Kind) *Sample {
	pool := b.poolFor(kind)
	s := pool.Get().(*Sample)
	s.Kind = kind
	s.release = func(s *Sample) {
		pool.Put(s)
	}
	return s
}

// Submit converts rec to a pooled Sample and hands it to the configured
// policy. A suppressed record (STATE_UNSET block, carriage-return-only
// text) returns false without dispatching.
func (b *Bridge) Submit(rec frame.Record) bool {
	switch rec.Kind {
	case frame.Block:
		if rec.Block.State == frame.STATEUnset {
			return false
		}
	case frame.Text:
		if rec.Text.Text == "\r" {
			return false
		}
	}

	s := b.rent(rec.Kind)
	switch rec.Kind {
	case frame.Data:
		s.Data = expandDataRecord(rec.Data)
	case frame.Block:
		items := make([]DataSample, len(rec.Block.BlockData))
		for i, d := range rec.Block.BlockData {
			items[i] = expandDataItem(d)
		}
		s.Block = BlockSample{Timestamp: rec.Block.Timestamp, Items: items, Events: rec.Block.EventData}
	case frame.Telemetry:
		s.Telemetry = rec.Telemetry
	case frame.Text:
		s.Text = rec.Text
	default:
		s.Release()
		return false
	}

	b.deliver(s)
	return true
}

func (b *Bridge) deliver(s *Sample) {
	switch b.policy {
	case Direct:
		b.invoke(s)
	case Pool:
		b.poolWorkers.Add(1)
		go func() {
			defer b.poolWorkers.Done()
			b.invoke(s)
		}()
	case Queued:
		b.queueCh <- s
	}
}

func (b *Bridge) queueWorker() {
	defer close(b.queueDone)
	for s := range b.queueCh {
		b.invoke(s)
	}
}

// invoke calls the consumer, recovering any panic so it cannot tear down
// the dispatching goroutine, then releases the sample back to its pool.
func (b *Bridge) invoke(s *Sample) {
	defer s.Release()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if b.log != nil {
			b.log.Error("consumer callback panicked", "recovered", r)
		}
		if b.onErr != nil {
			b.onErr(fmt.Errorf("consumer callback panicked: %v", r))
		}
	}()
	b.consumer(s)
}
