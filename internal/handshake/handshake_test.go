package handshake

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amalcolm/TeensyMonitor/internal/config"
	"github.com/stretchr/testify/require"
)

// scriptedPeer answers the handshake the way a real device would: it
// watches what was written and queues the next text line in response.
type scriptedPeer struct {
	mu       sync.Mutex
	open     bool
	sawHost  bool
	c        *Controller
}

func newScriptedPeer() *scriptedPeer { return &scriptedPeer{open: true} }

func (p *scriptedPeer) IsOpen() bool { return p.open }

func (p *scriptedPeer) Write(b []byte) (bool, error) {
	s := string(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case s == hostAck:
		if !p.sawHost {
			p.sawHost = true
			go p.c.HandleText(deviceAck + "\n")
		}
	case strings.HasPrefix(s, ">") && strings.HasSuffix(s, "\n"):
		go p.c.HandleText("<LOOP_MS=20:VERSION=1.2\n")
	}
	return true, nil
}

func TestHandshakeSucceeds(t *testing.T) {
	registry := config.NewRegistry()
	var loopMS int32
	registry.RegisterInt32("LOOP_MS", func(v int32) { loopMS = v })

	peer := newScriptedPeer()
	var states []State
	var mu sync.Mutex
	c := New(peer, "1.0", registry, func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}, nil)
	peer.c = c

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Succeeded, c.State())
	require.Equal(t, int32(20), loopMS)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{InProgress, Succeeded}, states)
}

func TestHandshakeCancelledSettlesDisconnected(t *testing.T) {
	peer := &scriptedPeer{open: false}
	c := New(peer, "1.0", nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Disconnected, c.State())
}

func TestPrefixMatch(t *testing.T) {
	require.True(t, prefixMatch("<DEVICE_ACK_EXTRA", deviceAck))
	require.False(t, prefixMatch("<NOPE", deviceAck))
}
