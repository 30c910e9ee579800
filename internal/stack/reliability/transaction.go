package reliability

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State 传输状态
type State int32

const (
	AwaitingAck State = iota
	AwaitingResponse
	Completed
	TimedOut
)

var stateNames = [...]string{
	AwaitingAck:      "AwaitingAck",
	AwaitingResponse: "AwaitingResponse",
	Completed:        "Completed",
	TimedOut:         "TimedOut",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Transaction 一次需要关联响应的请求传输.
//
// 状态迁移均通过CAS完成, 每个迁移至多成功一次.
type Transaction struct {
	MessageID   uint16
	Token       string
	Peer        net.Addr
	Confirmable bool

	// Observe 订阅请求在收到首个响应后继续保持, 不设置响应超时
	Observe bool

	// Owner 上层对象
	Owner interface{}

	state int32
	start time.Time
	end   time.Time

	mu          sync.Mutex
	data        []byte
	retransmits int
	timeout     time.Duration
	timer       *time.Timer
}

// State 返回当前状态.
func (t *Transaction) State() State {
	return State(atomic.LoadInt32(&t.state))
}

// Live 未进入终止状态.
func (t *Transaction) Live() bool {
	s := t.State()
	return s == AwaitingAck || s == AwaitingResponse
}

// Retransmits 返回已重传次数.
func (t *Transaction) Retransmits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retransmits
}

// Start 返回首次发送时间.
func (t *Transaction) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start
}

// RTT 返回首次发送到完成的时长, 未完成时返回到当前时刻的时长.
func (t *Transaction) RTT() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.end.IsZero() {
		return time.Since(t.start)
	}
	return t.end.Sub(t.start)
}

// Complete 结束传输, 由匹配到最终响应、收到RST或本地取消触发.
//
// 返回false表示传输已处于终止状态.
func (t *Transaction) Complete() bool {
	for {
		s := t.State()
		if s != AwaitingAck && s != AwaitingResponse {
			return false
		}
		if t.cas(s, Completed) {
			t.mu.Lock()
			t.end = time.Now()
			t.stopTimer()
			t.mu.Unlock()
			return true
		}
	}
}

func (t *Transaction) cas(from, to State) bool {
	return atomic.CompareAndSwapInt32(&t.state, int32(from), int32(to))
}

func (t *Transaction) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transaction) store(s State) {
	atomic.StoreInt32(&t.state, int32(s))
}
