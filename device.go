// Package teensymonitor wires the serial transport, frame decoder,
// handshake controller, discontinuity fixer, and dispatch bridge into a
// single session: open a port, negotiate with the device, and stream
// decoded records to a consumer.
package teensymonitor

import (
	"context"
	"sync"
	"time"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/config"
	"github.com/amalcolm/TeensyMonitor/internal/decode"
	"github.com/amalcolm/TeensyMonitor/internal/dispatch"
	"github.com/amalcolm/TeensyMonitor/internal/fixer"
	"github.com/amalcolm/TeensyMonitor/internal/handshake"
	"github.com/amalcolm/TeensyMonitor/internal/logging"
	"github.com/amalcolm/TeensyMonitor/internal/serial"
)

// Options configures a Device. Consumer is required; everything else has
// a sensible default.
type Options struct {
	Baud           int
	Version        string
	Consumer       dispatch.Consumer
	DispatchPolicy dispatch.Policy
	DispatchDepth  int
	Logger         *logging.Logger

	// LoopMS, if non-nil, is invoked when the device reports its LOOP_MS
	// configuration value during the handshake.
	LoopMS func(int32)

	// OnError, if non-nil, receives every structured error this session
	// recovers from: transient/cancelled reads, write failures, decoder
	// resync/bloat events, handshake cancellation, and consumer panics.
	// It is always called in addition to, never instead of, logging.
	OnError func(*Error)
}

// Device is one open session against a tethered device: a port, a
// decoder, a handshake controller, a discontinuity fixer riding the
// first data channel, and a dispatch bridge delivering to the caller's
// consumer.
type Device struct {
	port      *serial.Port
	decoder   *decode.Decoder
	bridge    *dispatch.Bridge
	handshake *handshake.Controller
	registry  *config.Registry
	fixer     *fixer.Fixer
	log       *logging.Logger
	onError   func(*Error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastFix     fixer.SamplePoint
	lastChanged bool
}

// DefaultOptions returns Options with the transport's default baud and
// direct dispatch.
func DefaultOptions(consumer dispatch.Consumer) Options {
	return Options{
		Baud:           serial.DefaultBaud,
		Version:        "1.0",
		Consumer:       consumer,
		DispatchPolicy: dispatch.Direct,
	}
}

// Open opens name, starts the reader, and launches the handshake. The
// returned Device is usable immediately; decoded records are delivered to
// opts.Consumer as they arrive, except text lines the handshake intercepts
// while it is in progress. Cancel ctx or call Close to tear down.
func Open(ctx context.Context, name string, opts Options) (*Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Baud == 0 {
		opts.Baud = serial.DefaultBaud
	}
	if opts.Version == "" {
		opts.Version = "1.0"
	}

	registry := config.NewRegistry()
	if opts.LoopMS != nil {
		registry.RegisterInt32("LOOP_MS", opts.LoopMS)
	}

	d := &Device{
		decoder:  decode.New(),
		registry: registry,
		fixer:    fixer.New(),
		log:      opts.Logger,
		onError:  opts.OnError,
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.bridge = dispatch.New(opts.DispatchPolicy, opts.Consumer, opts.DispatchDepth, d.onConsumerPanic, opts.Logger)

	port, err := serial.Open(name, opts.Baud, serial.Options{
		OnData:  d.onChunk,
		OnErr:   d.onTransportErr,
		OnClear: d.decoder.Reset,
		Logger:  opts.Logger,
	})
	if err != nil {
		d.bridge.Close()
		d.cancel()
		return nil, &Error{Op: "open", Kind: KindOpenFailed, Inner: err}
	}
	d.port = port

	d.handshake = handshake.New(port, opts.Version, registry, d.onHandshakeState, opts.Logger)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handshake.Run(d.ctx)
	}()

	return d, nil
}

// Close tears the session down: cancels the handshake, stops the
// transport reader, and closes the dispatch bridge.
func (d *Device) Close() error {
	d.cancel()
	d.wg.Wait()

	var err error
	if d.port != nil {
		err = d.port.Close()
	}
	d.bridge.Close()
	return err
}

// HandshakeState reports the current handshake lifecycle state.
func (d *Device) HandshakeState() handshake.State {
	return d.handshake.State()
}

// Clear drains and discards any bytes the transport has buffered but not
// yet delivered, purges the OS receive/transmit queues, and resets the
// decoder so a partially-accumulated frame straddling the clear boundary
// is dropped rather than stitched to whatever arrives next.
func (d *Device) Clear() {
	if d.port != nil {
		d.port.Clear()
	}
}

// LastFix returns the most recent discontinuity-fixer output and whether
// that call detected and corrected a jump.
func (d *Device) LastFix() (fixer.SamplePoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFix, d.lastChanged
}

// onChunk is the transport's OnData callback: it feeds the decoder and
// drains every complete record already buffered. A single Unknown result
// doesn't mean the accumulator is empty — a stray sentinel or a resync
// byte-drop also reports Unknown while shrinking the buffer — so draining
// continues as long as the buffered byte count keeps falling.
func (d *Device) onChunk(chunk frame.Chunk) {
	rec, kind := d.decoder.Process(chunk)
	d.reportDecodeEvent()
	d.handleRecord(rec, kind)

	buffered := d.decoder.Buffered()
	for {
		rec, kind = d.decoder.Process(frame.Chunk{})
		d.reportDecodeEvent()
		if kind != frame.Unknown {
			d.handleRecord(rec, kind)
			buffered = d.decoder.Buffered()
			continue
		}
		remaining := d.decoder.Buffered()
		if remaining >= buffered {
			return
		}
		buffered = remaining
	}
}

// reportDecodeEvent surfaces a recovered resync or buffer-bloat condition
// the decoder's last Process call raised.
func (d *Device) reportDecodeEvent() {
	switch d.decoder.LastEvent() {
	case decode.EventResync:
		d.reportError(&Error{Op: "decode", Kind: KindDecodeResync, Msg: "discarded one byte to resynchronise after repeated invalid headers"})
	case decode.EventBloat:
		d.reportError(&Error{Op: "decode", Kind: KindDecodeBloat, Msg: "accumulator exceeded 4096 bytes without a recognisable prefix; truncated"})
	}
}

func (d *Device) handleRecord(rec frame.Record, kind frame.Kind) {
	if kind == frame.Unknown {
		return
	}

	if kind == frame.Text && d.handshake.HandleText(rec.Text.Text) {
		return
	}

	if kind == frame.Data {
		d.runFixer(rec.Data)
	}

	d.bridge.Submit(rec)
}

// runFixer feeds the first channel of every data record through the
// discontinuity fixer, tracking the most recent correction for callers
// that want to observe it directly rather than through the consumer.
func (d *Device) runFixer(rec frame.DataRecord) {
	if len(rec.Channels) == 0 {
		return
	}
	out, changed := d.fixer.Fix(rec.Timestamp, float64(rec.Channels[0]))
	d.mu.Lock()
	d.lastFix = out
	d.lastChanged = changed
	d.mu.Unlock()
}

// onTransportErr classifies a serial-layer error into the root package's
// structured Kind taxonomy and forwards it to opts.OnError through
// reportError, which also logs it at the session layer.
func (d *Device) onTransportErr(err error) {
	d.reportError(classifyTransportErr(err))
}

func classifyTransportErr(err error) *Error {
	se, ok := err.(*serial.Error)
	if !ok {
		return &Error{Op: "transport", Kind: KindReadTransient, Msg: err.Error(), Inner: err}
	}

	kind := KindReadTransient
	switch se.Kind {
	case serial.KindOpenFailed:
		kind = KindOpenFailed
	case serial.KindReadCancelled:
		kind = KindReadCancelled
	case serial.KindWriteFailed:
		kind = KindWriteFailed
	case serial.KindConsumerPanic:
		kind = KindConsumerPanic
	}
	return &Error{Op: se.Op, Kind: kind, Msg: se.Msg, Inner: se.Inner}
}

// onConsumerPanic is the dispatch bridge's recovered-panic callback.
func (d *Device) onConsumerPanic(err error) {
	d.reportError(&Error{Op: "dispatch", Kind: KindConsumerPanic, Msg: err.Error(), Inner: err})
}

// reportError delivers a structured error to opts.OnError, if the caller
// supplied one, and logs it whenever the session has a Logger.
func (d *Device) reportError(err *Error) {
	if d.log != nil {
		d.log.Warn("device error", "op", err.Op, "kind", string(err.Kind), "msg", err.Msg)
	}
	if d.onError != nil {
		d.onError(err)
	}
}

func (d *Device) onHandshakeState(s handshake.State) {
	if d.log != nil {
		d.log.Info("handshake state", "state", s.String(), "at", time.Now())
	}
	if s == handshake.Disconnected {
		d.reportError(&Error{Op: "handshake", Kind: KindHandshakeCancelled, Msg: "handshake cancelled before completion"})
	}
}
