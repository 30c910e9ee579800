package reliability

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

type countSender struct {
	count int64
}

func (s *countSender) Send(data []byte, peer net.Addr) error {
	atomic.AddInt64(&s.count, 1)
	return nil
}

func (s *countSender) Count() int {
	return int(atomic.LoadInt64(&s.count))
}

var testPeer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5683}

func TestInitialTimeout(t *testing.T) {
	tests := []struct {
		random float64
		want   time.Duration
	}{
		{random: 0, want: 2 * time.Second},
		{random: 0.5, want: 2500 * time.Millisecond},
		{random: 1, want: 3 * time.Second},
	}
	for i, tt := range tests {
		s := NewScheduler(Config{
			AckTimeout:      2 * time.Second,
			AckRandomFactor: 1.5,
			MaxRetransmit:   4,
			Random:          fixedRandom(tt.random),
		})
		if got, want := s.InitialTimeout(), tt.want; got != want {
			t.Errorf("case%d: got(%v) != want(%v)", i, got, want)
		}
	}
}

func TestRandomInitialTimeout(t *testing.T) {
	s := NewScheduler(Config{AckTimeout: 2 * time.Second, AckRandomFactor: 1.5, MaxRetransmit: 4})
	min := 2 * time.Second
	max := 3 * time.Second
	for i := 0; i < 10000; i++ {
		d := s.InitialTimeout()
		if d < min || d > max {
			t.Fatalf("%d: d=%s, min=%s, max=%s", i, d, min, max)
		}
	}
}

func TestRetransmitUntilTimeout(t *testing.T) {
	var sender countSender
	timeouts := make(chan *Transaction, 1)
	s := NewScheduler(Config{
		AckTimeout:      10 * time.Millisecond,
		AckRandomFactor: 1,
		BackoffFactor:   2,
		MaxRetransmit:   4,
		Send:            sender.Send,
		OnTimeout:       func(t *Transaction) { timeouts <- t },
	})

	tr := &Transaction{MessageID: 1, Peer: testPeer, Confirmable: true}
	s.Start(tr, []byte{0x40, 0x01, 0x00, 0x01})
	require.Equal(t, AwaitingAck, tr.State())

	select {
	case got := <-timeouts:
		assert.Same(t, tr, got)
	case <-time.After(2 * time.Second):
		t.Fatal("transaction did not time out")
	}
	assert.Equal(t, TimedOut, tr.State())
	assert.Equal(t, 4, sender.Count())
	assert.Equal(t, 4, tr.Retransmits())
	assert.False(t, tr.Complete(), "complete after timeout")
}

func TestAcknowledgeStopsRetransmission(t *testing.T) {
	var sender countSender
	s := NewScheduler(Config{
		AckTimeout:      10 * time.Millisecond,
		AckRandomFactor: 1,
		BackoffFactor:   2,
		MaxRetransmit:   4,
		Send:            sender.Send,
	})

	tr := &Transaction{MessageID: 2, Peer: testPeer, Confirmable: true}
	s.Start(tr, []byte{0x40, 0x01, 0x00, 0x02})
	require.True(t, s.Acknowledge(tr))
	require.False(t, s.Acknowledge(tr), "acknowledge twice")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.Count())
	assert.Equal(t, AwaitingResponse, tr.State())

	assert.True(t, tr.Complete())
	assert.False(t, tr.Complete())
	assert.Equal(t, Completed, tr.State())
}

func TestResponseTimeout(t *testing.T) {
	var timeouts int64
	s := NewScheduler(Config{
		AckTimeout:      time.Second,
		AckRandomFactor: 1,
		MaxRetransmit:   4,
		ResponseTimeout: 20 * time.Millisecond,
		Send:            func([]byte, net.Addr) error { return nil },
		OnTimeout:       func(*Transaction) { atomic.AddInt64(&timeouts, 1) },
	})

	tr := &Transaction{MessageID: 3, Peer: testPeer}
	s.Start(tr, nil)
	assert.Equal(t, AwaitingResponse, tr.State())
	require.Eventually(t, func() bool { return tr.State() == TimedOut }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&timeouts) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCompleteBeforeTimer(t *testing.T) {
	var sender countSender
	var timeouts int64
	s := NewScheduler(Config{
		AckTimeout:      10 * time.Millisecond,
		AckRandomFactor: 1,
		MaxRetransmit:   0,
		Send:            sender.Send,
		OnTimeout:       func(*Transaction) { atomic.AddInt64(&timeouts, 1) },
	})

	tr := &Transaction{MessageID: 4, Peer: testPeer, Confirmable: true}
	s.Start(tr, nil)
	require.True(t, tr.Complete())
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, Completed, tr.State())
	assert.Equal(t, int64(0), atomic.LoadInt64(&timeouts))
	assert.Equal(t, 0, sender.Count())
}

func TestHoldObserve(t *testing.T) {
	s := NewScheduler(Config{
		AckTimeout:      10 * time.Millisecond,
		AckRandomFactor: 1,
		MaxRetransmit:   4,
		ResponseTimeout: 10 * time.Millisecond,
		Send:            func([]byte, net.Addr) error { return nil },
	})

	tr := &Transaction{MessageID: 5, Peer: testPeer, Confirmable: true, Observe: true}
	s.Start(tr, nil)
	require.True(t, s.Hold(tr))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, AwaitingResponse, tr.State())
	assert.True(t, tr.Complete())
	assert.False(t, s.Hold(tr))
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{AwaitingAck, "AwaitingAck"},
		{AwaitingResponse, "AwaitingResponse"},
		{Completed, "Completed"},
		{TimedOut, "TimedOut"},
		{State(9), "Unknown"},
	}
	for i, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("case%d: %q != %q", i, got, tt.want)
		}
	}
}
