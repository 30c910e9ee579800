package matcher

import (
	"crypto/rand"
	"io"
	mrand "math/rand"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// Role 消息发送方角色, 不同角色使用独立的MessageID计数器.
type Role string

const (
	RoleClient Role = "C"
	RoleServer Role = "S"
)

const tokenRetries = 8

// Allocator 分配MessageID与Token, 保证对同一远端的存活传输唯一.
type Allocator struct {
	matcher *Matcher
	random  io.Reader

	mu       sync.Mutex
	counters map[Role]uint16
}

func NewAllocator(m *Matcher) *Allocator {
	return &Allocator{
		matcher:  m,
		random:   rand.Reader,
		counters: make(map[Role]uint16),
	}
}

// NextMessageID 返回角色的下一个MessageID, 计数器从随机值开始, 在2^16处回绕,
// 并跳过仍被同一远端存活传输占用的值.
func (a *Allocator) NextMessageID(role Role, peer net.Addr) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	seq, ok := a.counters[role]
	if !ok {
		seq = uint16(mrand.Intn(1 << 16))
	}
	for i := 0; i < 1<<16; i++ {
		seq++
		if peer == nil || !a.matcher.MessageIDInUse(peer, seq) {
			break
		}
	}
	a.counters[role] = seq
	return seq
}

// GenerateToken 生成8字节随机令牌, 与同一远端的存活传输不重复.
func (a *Allocator) GenerateToken(peer net.Addr) (string, error) {
	b := make([]byte, base.MaxTokenLen)
	for i := 0; i < tokenRetries; i++ {
		if _, err := io.ReadFull(a.random, b); err != nil {
			return "", errors.Wrap(err, "generate token")
		}
		token := string(b)
		if peer == nil || !a.matcher.TokenInUse(peer, token) {
			return token, nil
		}
	}
	return "", ErrDuplicateToken
}
