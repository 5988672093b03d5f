package tracker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegisterAndGetPeers(t *testing.T) {
	srv := startServer(t)
	client := NewClient(srv.Addr())

	require.True(t, client.Register("x.bin", "10.0.0.1", 9001))
	assert.Equal(t, []string{"10.0.0.1:9001"}, client.GetPeers("x.bin"))
}

func TestClientGetPeersEmpty(t *testing.T) {
	srv := startServer(t)
	client := NewClient(srv.Addr())

	assert.Empty(t, client.GetPeers("unknown.bin"))
}

func TestClientFailuresAreSilent(t *testing.T) {
	// Nothing listening here.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(addr)
	assert.False(t, client.Register("x.bin", "10.0.0.1", 9001))
	assert.Empty(t, client.GetPeers("x.bin"))
}

func TestRegisterWithRetryTransientFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// First session is dropped without a response; the second is
	// answered properly.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()

		conn, err = ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		conn.Read(buf)
		conn.Write([]byte("OK\n"))
	}()

	client := NewClient(ln.Addr().String())
	start := time.Now()
	ok := client.RegisterWithRetry("x.bin", "10.0.0.1", 9001)
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, registerBackoff, "retry should pause between attempts")
}

func TestRegisterWithRetryGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(addr)
	assert.False(t, client.RegisterWithRetry("x.bin", "10.0.0.1", 9001))
}
