package coap

import (
	"context"
	"sync"
)

const defaultQueueSize = 8

// responseQueue 按到达顺序缓存一个请求的应答, 包括空ACK、响应及通知.
type responseQueue struct {
	ch        chan *Response
	done      chan struct{}
	closeOnce sync.Once
}

func newResponseQueue(size int) *responseQueue {
	if size < 2 {
		size = defaultQueueSize
	}
	return &responseQueue{
		ch:   make(chan *Response, size),
		done: make(chan struct{}),
	}
}

// push 不阻塞, 队列满时丢弃并返回false.
func (q *responseQueue) push(resp *Response) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- resp:
		return true
	default:
		return false
	}
}

// close 唤醒等待方, 已入队的应答仍可被取出.
func (q *responseQueue) close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *responseQueue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// receive 取出下一个应答.
//
// 队列关闭或ctx超时返回(nil, nil), ctx被取消返回ErrWaitCancelled.
func (q *responseQueue) receive(ctx context.Context) (*Response, error) {
	select {
	case resp := <-q.ch:
		return resp, nil
	default:
	}

	select {
	case resp := <-q.ch:
		return resp, nil
	case <-q.done:
		select {
		case resp := <-q.ch:
			return resp, nil
		default:
			return nil, nil
		}
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, ErrWaitCancelled
	}
}
