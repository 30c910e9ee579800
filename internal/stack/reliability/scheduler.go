package reliability

import (
	"math/rand"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// RandomSource 随机数源, 测试时可注入确定的实现.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// SendFunc 发送已编码的消息.
type SendFunc func(data []byte, peer net.Addr) error

// Config 重传调度参数
type Config struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	BackoffFactor   float64
	MaxRetransmit   int

	// ResponseTimeout 收到空ACK或发送NON请求后等待响应的时长, <=0则不限制
	ResponseTimeout time.Duration

	Random RandomSource
	Send   SendFunc

	// OnRetransmit 每次重传后调用
	OnRetransmit func(t *Transaction)

	// OnTimeout 传输进入TimedOut状态后调用
	OnTimeout func(t *Transaction)

	LoggerFactory logging.LoggerFactory
}

// Scheduler 为每个传输维护独立的重传定时器.
type Scheduler struct {
	cfg Config
	log logging.LeveledLogger
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = base.ACK_TIMEOUT
	}
	if cfg.AckRandomFactor < 1 {
		cfg.AckRandomFactor = base.ACK_RANDOM_FACTOR
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = base.BACKOFF_FACTOR
	}
	if cfg.MaxRetransmit < 0 {
		cfg.MaxRetransmit = base.MAX_RETRANSMIT
	}
	if cfg.Random == nil {
		cfg.Random = defaultRandomSource{}
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Scheduler{
		cfg: cfg,
		log: cfg.LoggerFactory.NewLogger("coap-reliability"),
	}
}

// InitialTimeout 返回[AckTimeout, AckTimeout*AckRandomFactor]区间内的随机时长.
func (s *Scheduler) InitialTimeout() time.Duration {
	factor := s.cfg.AckRandomFactor - 1
	if factor < 0 {
		factor = 0
	}
	return s.cfg.AckTimeout + time.Duration(s.cfg.Random.Float64()*factor*float64(s.cfg.AckTimeout))
}

// Start 记录首次发送并启动定时器.
//
// CON请求进入AwaitingAck状态并按指数退避重传data; NON请求进入AwaitingResponse状态.
func (s *Scheduler) Start(t *Transaction, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = data
	t.start = time.Now()
	if t.Confirmable {
		t.store(AwaitingAck)
		t.timeout = s.InitialTimeout()
		t.timer = time.AfterFunc(t.timeout, func() { s.onAckTimeout(t) })
		return
	}
	t.store(AwaitingResponse)
	s.armResponseTimer(t)
}

// Acknowledge 收到空ACK, AwaitingAck迁移至AwaitingResponse, 停止重传.
func (s *Scheduler) Acknowledge(t *Transaction) bool {
	if !t.cas(AwaitingAck, AwaitingResponse) {
		return false
	}
	t.mu.Lock()
	t.stopTimer()
	s.armResponseTimer(t)
	t.mu.Unlock()
	return true
}

// Hold 停止传输的所有定时器, 传输保持在AwaitingResponse状态直到被显式完成.
func (s *Scheduler) Hold(t *Transaction) bool {
	t.cas(AwaitingAck, AwaitingResponse)
	if t.State() != AwaitingResponse {
		return false
	}
	t.mu.Lock()
	t.stopTimer()
	t.mu.Unlock()
	return true
}

func (s *Scheduler) armResponseTimer(t *Transaction) {
	if s.cfg.ResponseTimeout <= 0 || t.Observe {
		return
	}
	t.timer = time.AfterFunc(s.cfg.ResponseTimeout, func() { s.onResponseTimeout(t) })
}

func (s *Scheduler) onAckTimeout(t *Transaction) {
	t.mu.Lock()
	if t.State() != AwaitingAck {
		t.mu.Unlock()
		return
	}
	if t.retransmits >= s.cfg.MaxRetransmit {
		t.mu.Unlock()
		if t.cas(AwaitingAck, TimedOut) {
			s.log.Debugf("transaction %d to %s timed out after %d retransmits", t.MessageID, t.Peer, s.cfg.MaxRetransmit)
			s.timedOut(t)
		}
		return
	}
	t.retransmits++
	t.timeout = time.Duration(float64(t.timeout) * s.cfg.BackoffFactor)
	t.timer = time.AfterFunc(t.timeout, func() { s.onAckTimeout(t) })
	data, n := t.data, t.retransmits
	t.mu.Unlock()

	s.log.Debugf("retransmit %d to %s (%d/%d)", t.MessageID, t.Peer, n, s.cfg.MaxRetransmit)
	if err := s.cfg.Send(data, t.Peer); err != nil {
		s.log.Warnf("retransmit %d to %s: %v", t.MessageID, t.Peer, err)
	}
	if s.cfg.OnRetransmit != nil {
		s.cfg.OnRetransmit(t)
	}
}

func (s *Scheduler) onResponseTimeout(t *Transaction) {
	if t.cas(AwaitingResponse, TimedOut) {
		s.log.Debugf("transaction %d to %s: no response", t.MessageID, t.Peer)
		s.timedOut(t)
	}
}

func (s *Scheduler) timedOut(t *Transaction) {
	t.mu.Lock()
	t.end = time.Now()
	t.timer = nil
	t.mu.Unlock()
	if s.cfg.OnTimeout != nil {
		s.cfg.OnTimeout(t)
	}
}
