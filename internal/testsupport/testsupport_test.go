package testsupport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakePortRecordsWrites(t *testing.T) {
	p := NewFakePort()
	ok, err := p.Write([]byte("hello"))
	require.True(t, ok)
	require.NoError(t, err)
	require.Equal(t, 1, p.WriteCalls())
	require.Equal(t, [][]byte{[]byte("hello")}, p.Writes())
}

func TestFakePortWriteError(t *testing.T) {
	p := NewFakePort()
	p.SetWriteError(errBoom)
	ok, err := p.Write([]byte("x"))
	require.False(t, ok)
	require.Equal(t, errBoom, err)
}

func TestScriptedPeerDeliversOnMatch(t *testing.T) {
	sp := NewScriptedPeer()
	sp.OnWrittenEquals(">HOST_ACK", "<DEVICE_ACK\n")

	received := make(chan string, 1)
	sp.SetDeliver(func(line string) { received <- line })

	_, _ = sp.Write([]byte(">HOST_ACK"))

	select {
	case line := <-received:
		require.Equal(t, "<DEVICE_ACK\n", line)
	case <-time.After(time.Second):
		t.Fatal("scripted response never delivered")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
