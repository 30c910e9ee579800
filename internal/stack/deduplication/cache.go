// Package deduplication 记录近期收到的CON/NON消息, 识别重复消息.
package deduplication

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ironzhang/coap/v2/internal/gctable"
	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// Verdict 重复消息检查结果
type Verdict int

const (
	// Fresh 首次收到, 交由上层处理
	Fresh Verdict = iota

	// Duplicate 重复消息, 忽略; 若返回了已保存的回复则重发该回复
	Duplicate

	// Reset 使用NON消息的MessageID发送CON消息, 回复RST
	Reset
)

func (v Verdict) String() string {
	switch v {
	case Fresh:
		return "Fresh"
	case Duplicate:
		return "Duplicate"
	case Reset:
		return "Reset"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

type state struct {
	key      string
	time     time.Time
	typ      uint8
	lifetime time.Duration

	mu    sync.Mutex
	token string
	reply []byte
}

func (s *state) Key() string {
	return s.key
}

func (s *state) CanGC() bool {
	return time.Since(s.time) > s.lifetime
}

func (s *state) ExecuteGC() {
}

func (s *state) putReply(token string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply != nil {
		return false
	}
	s.token = token
	s.reply = data
	return true
}

func (s *state) getReply() (string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.reply
}

// Cache 以(远端, MessageID)为键的近期消息记录.
//
// CON消息保留ExchangeLifetime, NON消息保留NonLifetime. 记录数达到容量上限时,
// 先回收过期记录, 仍无空间的消息不被记录, 正常交由上层处理.
type Cache struct {
	ExchangeLifetime time.Duration
	NonLifetime      time.Duration

	table gctable.Table
}

func NewCache(capacity int, exchangeLifetime, nonLifetime time.Duration) *Cache {
	if exchangeLifetime <= 0 {
		exchangeLifetime = base.EXCHANGE_LIFETIME
	}
	if nonLifetime <= 0 {
		nonLifetime = base.NON_LIFETIME
	}
	c := &Cache{
		ExchangeLifetime: exchangeLifetime,
		NonLifetime:      nonLifetime,
	}
	c.table.Capacity = capacity
	return c
}

func stateKey(peer net.Addr, id uint16) string {
	return fmt.Sprintf("%s#%d", peer, id)
}

// Check 检查收到的CON/NON消息, 首次收到的消息被记录.
//
// 返回Duplicate且reply非空时, 调用方应原样重发reply.
func (c *Cache) Check(peer net.Addr, m base.Message) (v Verdict, reply []byte, err error) {
	if m.Type != base.CON && m.Type != base.NON {
		return Fresh, nil, nil
	}

	key := stateKey(peer, m.MessageID)
	if o, ok := c.table.Get(key); ok {
		return c.verdict(o.(*state), m)
	}

	_, err = c.table.Add(key, func() gctable.Object {
		return &state{key: key, time: time.Now(), typ: m.Type, lifetime: c.lifetime(m.Type)}
	})
	return Fresh, nil, err
}

func (c *Cache) verdict(s *state, m base.Message) (Verdict, []byte, error) {
	switch {
	case s.typ == base.NON && m.Type == base.NON:
		// 正常分支，忽略重复的NON消息
		return Duplicate, nil, nil

	case s.typ == base.CON && m.Type == base.CON:
		// 正常分支，忽略或回复保存的消息
		token, reply := s.getReply()
		if reply != nil && (token == "" || token == m.Token) {
			return Duplicate, reply, nil
		}
		return Duplicate, nil, nil

	case s.typ == base.NON && m.Type == base.CON:
		// 异常分支，回复RST
		return Reset, nil, nil

	default:
		// 异常分支，忽略消息
		return Duplicate, nil, nil
	}
}

// Reply 保存对CON消息的回复(ACK或RST), 重复的CON消息将收到相同的回复.
//
// 每条消息只保存首个回复.
func (c *Cache) Reply(peer net.Addr, id uint16, token string, data []byte) bool {
	o, ok := c.table.Get(stateKey(peer, id))
	if !ok {
		return false
	}
	s := o.(*state)
	if s.typ != base.CON {
		return false
	}
	return s.putReply(token, data)
}

// Len 返回记录数.
func (c *Cache) Len() int {
	return c.table.Len()
}

func (c *Cache) lifetime(typ uint8) time.Duration {
	if typ == base.CON {
		return c.ExchangeLifetime
	}
	return c.NonLifetime
}
