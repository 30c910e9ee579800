// Package matcher 关联出站请求与入站的ACK、RST及响应.
package matcher

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/stack/reliability"
)

var (
	ErrDuplicateMessageID = errors.New("message id in use")
	ErrDuplicateToken     = errors.New("token in use")
)

type idKey struct {
	peer string
	id   uint16
}

type tokenKey struct {
	peer  string
	token string
}

// Matcher 按(远端, MessageID)匹配ACK/RST, 按(远端, Token)匹配响应.
type Matcher struct {
	mu      sync.Mutex
	byID    map[idKey]*reliability.Transaction
	byToken map[tokenKey]*reliability.Transaction
}

func New() *Matcher {
	return &Matcher{
		byID:    make(map[idKey]*reliability.Transaction),
		byToken: make(map[tokenKey]*reliability.Transaction),
	}
}

// Register 登记传输, 须在发送之前调用.
func (m *Matcher) Register(t *reliability.Transaction) error {
	peer := t.Peer.String()
	ik := idKey{peer: peer, id: t.MessageID}
	tk := tokenKey{peer: peer, token: t.Token}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[ik]; ok {
		return errors.Wrapf(ErrDuplicateMessageID, "%s#%d", peer, t.MessageID)
	}
	if _, ok := m.byToken[tk]; ok {
		return errors.Wrapf(ErrDuplicateToken, "%s#%x", peer, t.Token)
	}
	m.byID[ik] = t
	m.byToken[tk] = t
	return nil
}

// RegisterID 仅按MessageID登记传输, 用于等待ACK的分离响应与通知.
func (m *Matcher) RegisterID(t *reliability.Transaction) error {
	ik := idKey{peer: t.Peer.String(), id: t.MessageID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[ik]; ok {
		return errors.Wrapf(ErrDuplicateMessageID, "%s#%d", ik.peer, t.MessageID)
	}
	m.byID[ik] = t
	return nil
}

// MatchID 按MessageID查找传输.
func (m *Matcher) MatchID(peer net.Addr, id uint16) (*reliability.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[idKey{peer: peer.String(), id: id}]
	return t, ok
}

// MatchToken 按Token查找传输, 与响应的MessageID无关.
func (m *Matcher) MatchToken(peer net.Addr, token string) (*reliability.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byToken[tokenKey{peer: peer.String(), token: token}]
	return t, ok
}

// Retire 移除传输, 可重复调用.
func (m *Matcher) Retire(t *reliability.Transaction) {
	peer := t.Peer.String()
	ik := idKey{peer: peer, id: t.MessageID}
	tk := tokenKey{peer: peer, token: t.Token}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[ik] == t {
		delete(m.byID, ik)
	}
	if m.byToken[tk] == t {
		delete(m.byToken, tk)
	}
}

// MessageIDInUse 远端的MessageID是否被存活的传输占用.
func (m *Matcher) MessageIDInUse(peer net.Addr, id uint16) bool {
	_, ok := m.MatchID(peer, id)
	return ok
}

// TokenInUse 远端的Token是否被存活的传输占用.
func (m *Matcher) TokenInUse(peer net.Addr, token string) bool {
	_, ok := m.MatchToken(peer, token)
	return ok
}

// Len 返回登记的传输数.
func (m *Matcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Transactions 返回所有登记传输的快照.
func (m *Matcher) Transactions() []*reliability.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := make([]*reliability.Transaction, 0, len(m.byID))
	for _, t := range m.byID {
		ts = append(ts, t)
	}
	return ts
}
