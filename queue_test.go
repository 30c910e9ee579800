package coap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseQueueOrder(t *testing.T) {
	q := newResponseQueue(4)
	ack := &Response{Type: ACK}
	resp := &Response{Type: CON, Status: Content}
	require.True(t, q.push(ack))
	require.True(t, q.push(resp))

	got, err := q.receive(context.Background())
	require.NoError(t, err)
	assert.Same(t, ack, got)
	got, err = q.receive(context.Background())
	require.NoError(t, err)
	assert.Same(t, resp, got)
}

func TestResponseQueueFull(t *testing.T) {
	q := newResponseQueue(2)
	assert.True(t, q.push(&Response{}))
	assert.True(t, q.push(&Response{}))
	assert.False(t, q.push(&Response{}))
}

func TestResponseQueueClose(t *testing.T) {
	q := newResponseQueue(0)
	resp := &Response{Status: Content}
	q.push(resp)
	time.AfterFunc(10*time.Millisecond, q.close)

	got, err := q.receive(context.Background())
	require.NoError(t, err)
	assert.Same(t, resp, got)

	got, err = q.receive(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.True(t, q.closed())
	assert.False(t, q.push(resp))
}

func TestResponseQueueDeadline(t *testing.T) {
	q := newResponseQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	got, err := q.receive(ctx)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestResponseQueueCancel(t *testing.T) {
	q := newResponseQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	got, err := q.receive(ctx)
	assert.Equal(t, ErrWaitCancelled, err)
	assert.Nil(t, got)
}
