package vnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readWithTimeout(t *testing.T, c *PacketConn, d time.Duration) ([]byte, bool) {
	t.Helper()
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 1500)
		n, _, err := c.ReadFrom(buf)
		ch <- result{data: buf[:n], err: err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.data, true
	case <-time.After(d):
		return nil, false
	}
}

func TestPipe(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	c0, c1 := p.Conn(0), p.Conn(1)
	assert.Equal(t, "vnet:0", c0.LocalAddr().String())

	_, err := c0.WriteTo([]byte("ping"), c1.LocalAddr())
	require.NoError(t, err)
	data, ok := readWithTimeout(t, c1, time.Second)
	require.True(t, ok)
	assert.Equal(t, "ping", string(data))

	_, err = c1.WriteTo([]byte("pong"), c0.LocalAddr())
	require.NoError(t, err)
	data, ok = readWithTimeout(t, c0, time.Second)
	require.True(t, ok)
	assert.Equal(t, "pong", string(data))
}

func TestPipeDropNext(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	c0, c1 := p.Conn(0), p.Conn(1)
	c0.DropNext(1)
	c0.WriteTo([]byte("lost"), nil)
	c0.WriteTo([]byte("kept"), nil)
	assert.Equal(t, 2, c0.Writes())

	data, ok := readWithTimeout(t, c1, time.Second)
	require.True(t, ok)
	assert.Equal(t, "kept", string(data))
}

func TestPipeBurst(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	c0, c1 := p.Conn(0), p.Conn(1)
	const n = 200
	for i := 0; i < n; i++ {
		_, err := c0.WriteTo([]byte{byte(i)}, c1.LocalAddr())
		require.NoError(t, err)
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		data, ok := readWithTimeout(t, c1, time.Second)
		require.True(t, ok, "datagram %d", i)
		if got, want := data[0], byte(i); got != want {
			t.Fatalf("datagram%d: %d != %d", i, got, want)
		}
	}
	assert.Less(t, time.Since(start), n*time.Millisecond)
}
