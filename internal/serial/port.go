// Package serial implements the full-duplex USB-CDC serial transport: port
// open/configure with retry, a cancellable reader loop that drains the OS
// receive queue, write with partial-write looping, and a clear operation
// that drains in-flight bytes without tearing down the port.
package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	goserial "github.com/daedaluz/goserial"
	"golang.org/x/sys/unix"

	"github.com/amalcolm/TeensyMonitor/frame"
	"github.com/amalcolm/TeensyMonitor/internal/logging"
)

// DefaultBaud is 57600*16, the transport's line rate (921600 bps).
const DefaultBaud = 57600 * 16

const (
	openRetries   = 10
	openRetryWait = 333 * time.Millisecond

	readSlice    = 100 * time.Millisecond
	writeSlice   = 16 * time.Millisecond
	idlePause    = 1 * time.Millisecond
	readChunkMax = 4096
)

// Kind is a coarse transport-error category. It mirrors a subset of the
// root package's Kind values; device.go maps between the two at the
// public API boundary rather than importing across the cycle.
type Kind string

const (
	KindOpenFailed    Kind = "open failed"
	KindReadTransient Kind = "transient read error"
	KindReadCancelled Kind = "read cancelled"
	KindWriteFailed   Kind = "write failed"
	KindConsumerPanic Kind = "consumer callback panicked"
)

// DataFunc delivers one raw chunk read from the port. It is invoked without
// any lock held; it must not block indefinitely.
type DataFunc func(frame.Chunk)

// ErrFunc reports a recovered transport error.
type ErrFunc func(error)

// ConnFunc reports a change in open/closed state.
type ConnFunc func(open bool)

// ClearFunc is invoked on the reader goroutine once a Clear drain has been
// acknowledged, so a caller-owned decoder confined to that goroutine can be
// reset without racing the reader.
type ClearFunc func()

// Port is a full-duplex serial transport with a dedicated reader goroutine.
// Exported methods are safe to call from any goroutine.
type Port struct {
	mu      sync.Mutex
	handle  *goserial.Port
	isOpen  bool
	name    string
	baud    int

	stopCh    chan struct{}
	clearReq  chan struct{}
	clearDone chan struct{}
	readerWG  sync.WaitGroup

	onData  DataFunc
	onErr   ErrFunc
	onConn  ConnFunc
	onClear ClearFunc

	log *logging.Logger

	opened time.Time
}

// Options carries the optional callbacks and logger for Open.
type Options struct {
	OnData  DataFunc
	OnErr   ErrFunc
	OnConn  ConnFunc
	OnClear ClearFunc
	Logger  *logging.Logger
}

// Open opens name at baud, configuring 8-N-1 with DTR/RTS asserted and no
// flow control, purges both queues, starts the reader goroutine, and waits
// until the reader has announced it is running before firing OnConn(true).
// It retries up to 10 times, 333ms apart, while the port is reported
// missing.
func Open(name string, baud int, opts Options) (*Port, error) {
	p := &Port{
		name:    name,
		baud:    baud,
		onData:  opts.OnData,
		onErr:   opts.OnErr,
		onConn:  opts.OnConn,
		onClear: opts.OnClear,
		log:     opts.Logger,
	}

	var handle *goserial.Port
	var err error
	for attempt := 0; attempt < openRetries; attempt++ {
		handle, err = goserial.Open(name, goserial.NewOptions())
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			break
		}
		time.Sleep(openRetryWait)
	}
	if err != nil {
		return nil, &Error{Op: "open", Kind: KindOpenFailed, Msg: err.Error(), Inner: err}
	}

	if err := configure(handle, baud); err != nil {
		handle.Close()
		return nil, &Error{Op: "open", Kind: KindOpenFailed, Msg: err.Error(), Inner: err}
	}

	handle.Flush(goserial.TCIOFLUSH)

	p.handle = handle
	p.isOpen = true
	p.opened = time.Now()
	p.stopCh = make(chan struct{})
	p.clearReq = make(chan struct{}, 1)
	p.clearDone = make(chan struct{}, 1)

	ready := make(chan struct{})
	p.readerWG.Add(1)
	go p.readLoop(ready)
	<-ready

	if p.onConn != nil {
		p.onConn(true)
	}
	return p, nil
}

func configure(h *goserial.Port, baud int) error {
	attrs, err := h.GetAttr()
	if err != nil {
		return err
	}
	attrs.MakeRaw()
	attrs.Cflag |= goserial.CREAD | goserial.CLOCAL
	attrs.Cflag &^= goserial.PARENB
	attrs.SetSpeed(speedConstant(baud))
	if err := h.SetAttr(goserial.TCSANOW, attrs); err != nil {
		return err
	}
	if err := h.SetModemLines(goserial.TIOCM_DTR | goserial.TIOCM_RTS); err != nil {
		return err
	}
	return nil
}

// speedConstant maps a requested baud rate to the termios speed constant.
// The transport runs a single fixed line rate; baud is retained as a
// parameter so a future multi-rate device doesn't change this signature.
func speedConstant(baud int) goserial.CFlag {
	return goserial.B921600
}

// Write writes all of b, looping over partial writes until every byte has
// been accepted or an error occurs. Zero-byte writes succeed without
// touching the handle.
func (p *Port) Write(b []byte) (bool, error) {
	if len(b) == 0 {
		return true, nil
	}

	p.mu.Lock()
	handle, open := p.handle, p.isOpen
	p.mu.Unlock()
	if !open {
		return false, &Error{Op: "write", Kind: KindWriteFailed, Msg: "port closed"}
	}

	remaining := b
	for len(remaining) > 0 {
		n, err := handle.Write(remaining)
		if err != nil {
			return false, &Error{Op: "write", Kind: KindWriteFailed, Msg: err.Error(), Inner: err}
		}
		remaining = remaining[n:]
		if len(remaining) > 0 {
			time.Sleep(writeSlice)
		}
	}
	return true, nil
}

// Clear requests the reader to drain and discard any buffered data, then
// blocks until the reader confirms the drain (or has exited). It is a
// no-op if the reader is not running.
func (p *Port) Clear() {
	p.mu.Lock()
	running := p.isOpen
	p.mu.Unlock()
	if !running {
		return
	}

	select {
	case p.clearReq <- struct{}{}:
	default:
	}

	select {
	case <-p.clearDone:
	case <-p.stopCh:
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle != nil {
		handle.Flush(goserial.TCIOFLUSH)
	}
}

// Close stops the reader, revokes the handle, and — only if the port was
// previously open — fires OnConn(false). Idempotent.
func (p *Port) Close() error {
	p.mu.Lock()
	if !p.isOpen {
		p.mu.Unlock()
		return nil
	}
	p.isOpen = false
	handle := p.handle
	stopCh := p.stopCh
	p.handle = nil
	p.mu.Unlock()

	close(stopCh)
	p.readerWG.Wait()

	var err error
	if handle != nil {
		err = handle.Close()
	}
	if p.onConn != nil {
		p.onConn(false)
	}
	return err
}

// IsOpen reports whether the port is currently open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOpen
}

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// readLoop is the transport's single dedicated reader goroutine.
func (p *Port) readLoop(ready chan<- struct{}) {
	defer p.readerWG.Done()
	close(ready)

	buf := make([]byte, readChunkMax)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		p.mu.Lock()
		handle, open, opened := p.handle, p.isOpen, p.opened
		p.mu.Unlock()
		if !open {
			return
		}

		queued, qerr := queuedBytes(handle)
		if qerr != nil {
			p.reportErr("read", KindReadTransient, qerr)
			sleepOrStop(p.stopCh, idlePause)
			continue
		}

		select {
		case <-p.clearReq:
			if queued == 0 {
				p.signalClearDone()
				sleepOrStop(p.stopCh, idlePause)
				continue
			}
			// fall through: still draining, re-arm the request.
			select {
			case p.clearReq <- struct{}{}:
			default:
			}
		default:
		}

		if queued == 0 {
			sleepOrStop(p.stopCh, idlePause)
			continue
		}

		n := queued
		if n > readChunkMax {
			n = readChunkMax
		}

		read, err := handle.ReadTimeout(buf[:n], readSlice)
		select {
		case <-p.stopCh:
			return
		default:
		}
		if err != nil {
			if isCancelled(err) {
				p.reportCancelled(err)
				return
			}
			p.reportErr("read", KindReadTransient, err)
			sleepOrStop(p.stopCh, idlePause)
			continue
		}
		if read == 0 {
			continue
		}

		clearing := false
		select {
		case <-p.clearReq:
			clearing = true
			p.signalClearDone()
		default:
		}
		if clearing {
			continue
		}

		if p.onData != nil {
			p.safeInvokeData(frame.Chunk{
				TimestampMS: time.Since(opened).Milliseconds(),
				Bytes:       append([]byte(nil), buf[:read]...),
			})
		}
	}
}

// signalClearDone acknowledges a pending Clear and, on the reader goroutine,
// gives the caller a chance to reset anything it confines to this goroutine
// (the decoder accumulator) before the drain is considered complete.
func (p *Port) signalClearDone() {
	if p.onClear != nil {
		p.onClear()
	}
	select {
	case p.clearDone <- struct{}{}:
	default:
	}
}

func (p *Port) reportErr(op string, kind Kind, err error) {
	if p.onErr != nil {
		p.onErr(&Error{Op: op, Kind: kind, Msg: err.Error(), Inner: err})
	}
	if p.log != nil {
		p.log.Warn("transport error", "op", op, "kind", string(kind), "err", err)
	}
}

// reportCancelled surfaces the read-cancelled kind without the Warn-level
// noise reportErr would produce. It is reached when a read fails because the
// descriptor was closed underneath the reader; Close itself stops the reader
// through stopCh before it closes the handle.
func (p *Port) reportCancelled(err error) {
	if p.onErr != nil {
		p.onErr(&Error{Op: "read", Kind: KindReadCancelled, Msg: err.Error(), Inner: err})
	}
	if p.log != nil {
		p.log.Debug("reader cancelled by close", "err", err)
	}
}

// safeInvokeData recovers a panicking consumer callback so it cannot tear
// down the reader; it is logged, reported through onErr, and swallowed.
func (p *Port) safeInvokeData(chunk frame.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			if p.log != nil {
				p.log.Error("data callback panicked", "recovered", r)
			}
			if p.onErr != nil {
				p.onErr(&Error{Op: "data", Kind: KindConsumerPanic, Msg: fmt.Sprint(r)})
			}
		}
	}()
	p.onData(chunk)
}

func sleepOrStop(stopCh <-chan struct{}, d time.Duration) {
	select {
	case <-stopCh:
	case <-time.After(d):
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, syscall.EBADF) || errors.Is(err, os.ErrClosed)
}

// queuedBytes reads TIOCINQ to find how many bytes the OS is currently
// holding for this descriptor.
func queuedBytes(h *goserial.Port) (int, error) {
	n, err := unix.IoctlGetInt(h.Fd(), unix.TIOCINQ)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Error is the transport-local structured error. Wrapped by the root
// package's *teensymonitor.Error at the public API boundary.
type Error struct {
	Op    string
	Kind  Kind
	Msg   string
	Inner error
}

func (e *Error) Error() string { return "serial: " + e.Op + ": " + e.Msg }
func (e *Error) Unwrap() error { return e.Inner }
