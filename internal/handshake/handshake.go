// Package handshake drives the probe/ack/version exchange that runs on top
// of the serial transport and frame decoder, sequencing retries and
// cancellation and parsing the device's configuration line.
package handshake

import (
	"bytes"
	"context"
	"sync/atomic"
	"time"

	"github.com/amalcolm/TeensyMonitor/internal/config"
	"github.com/amalcolm/TeensyMonitor/internal/logging"
)

// State is the handshake's lifecycle, strictly monotonic:
// Idle -> InProgress -> {Succeeded, Disconnected}.
type State int

const (
	Idle State = iota
	InProgress
	Succeeded
	Disconnected
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "InProgress"
	case Succeeded:
		return "Succeeded"
	case Disconnected:
		return "Disconnected"
	default:
		return "Idle"
	}
}

const (
	notOpenSleep  = 200 * time.Millisecond
	ackWait       = 500 * time.Millisecond
	ackRetries    = 5
	versionWait   = 500 * time.Millisecond
	deviceAck     = "<DEVICE_ACK"
	hostAck       = ">HOST_ACK"
)

// Writer is the subset of the transport the handshake needs to send bytes.
type Writer interface {
	Write([]byte) (bool, error)
	IsOpen() bool
}

// Controller drives the handshake protocol over a Writer, intercepting
// decoder text output for as long as it is InProgress.
type Controller struct {
	transport Writer
	version   string
	registry  *config.Registry
	onState   func(State)
	log       *logging.Logger

	state  atomic.Int32
	textCh chan string
}

// New returns a Controller. onState, if non-nil, is invoked on every state
// transition. registry, if non-nil, receives the device's config line.
func New(transport Writer, version string, registry *config.Registry, onState func(State), log *logging.Logger) *Controller {
	return &Controller{
		transport: transport,
		version:   version,
		registry:  registry,
		onState:   onState,
		log:       log,
		textCh:    make(chan string, 4),
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// HandleText offers one decoded text line to the controller. It returns
// true if the line was handshake traffic (state InProgress, begins with
// '<', length > 1) and was consumed; callers should not also deliver a
// consumed line to the regular consumer.
func (c *Controller) HandleText(line string) bool {
	if c.State() != InProgress {
		return false
	}
	if len(line) <= 1 || line[0] != '<' {
		return false
	}
	select {
	case c.textCh <- line:
	default:
	}
	return true
}

// Run executes the handshake protocol until it succeeds or ctx is
// cancelled. Every inter-step sleep and wait is cancellation-aware: a
// cancellation observed while waiting settles the controller into
// Disconnected without producing an error.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(InProgress)

	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil
		}

		if !c.transport.IsOpen() {
			if sleepCtx(ctx, notOpenSleep) {
				c.setState(Disconnected)
				return nil
			}
			continue
		}

		if _, err := c.transport.Write([]byte(hostAck)); err != nil {
			if c.log != nil {
				c.log.Warn("handshake probe write failed", "err", err)
			}
			if sleepCtx(ctx, notOpenSleep) {
				c.setState(Disconnected)
				return nil
			}
			continue
		}

		acked, cancelled := c.awaitAck(ctx)
		if cancelled {
			c.setState(Disconnected)
			return nil
		}
		if !acked {
			continue
		}

		if _, err := c.transport.Write([]byte(">" + c.version + "\n")); err != nil {
			continue
		}

		line, cancelled := c.awaitLine(ctx, versionWait)
		if cancelled {
			c.setState(Disconnected)
			return nil
		}
		if line != "" && c.registry != nil {
			if _, errs := c.registry.Apply(line); len(errs) > 0 && c.log != nil {
				for _, e := range errs {
					c.log.Warn("handshake config parse failed", "err", e)
				}
			}
		}

		c.setState(Succeeded)
		return nil
	}
}

// awaitAck retries up to ackRetries times, each waiting up to ackWait for
// handshake traffic, matching the received bytes prefix-wise against
// DEVICE_ACK.
func (c *Controller) awaitAck(ctx context.Context) (acked, cancelled bool) {
	for i := 0; i < ackRetries; i++ {
		line, cancelled := c.awaitLine(ctx, ackWait)
		if cancelled {
			return false, true
		}
		if line == "" {
			continue
		}
		if prefixMatch(line, deviceAck) {
			return true, false
		}
	}
	return false, false
}

func (c *Controller) awaitLine(ctx context.Context, d time.Duration) (line string, cancelled bool) {
	select {
	case line := <-c.textCh:
		return line, false
	case <-time.After(d):
		return "", false
	case <-ctx.Done():
		return "", true
	}
}

// prefixMatch compares received and expected byte-for-byte up to
// min(len(received), len(expected)) — the handshake's ack check is a
// prefix comparison, not an equality comparison.
func prefixMatch(received, expected string) bool {
	n := len(received)
	if len(expected) < n {
		n = len(expected)
	}
	return bytes.Equal([]byte(received[:n]), []byte(expected[:n]))
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	if c.onState != nil {
		c.onState(s)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first,
// reporting which happened.
func sleepCtx(ctx context.Context, d time.Duration) (cancelled bool) {
	select {
	case <-time.After(d):
		return false
	case <-ctx.Done():
		return true
	}
}
