// Package vnet 提供基于内存的数据报管道, 用于不依赖真实网络的端到端测试.
package vnet

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Addr 管道端点地址
type Addr struct {
	ID int
}

func (a Addr) Network() string { return "vnet" }

func (a Addr) String() string { return fmt.Sprintf("vnet:%d", a.ID) }

// Pipe 连接两个端点的双向内存管道, 后台协程持续投递数据报.
//
// Bridge.Tick每次每个方向只投递一个数据报, 且只在对端正阻塞在ReadFrom时成功.
// 队列非空时持续投递, 对端spinWait内没有读取才等到下一个周期.
type Pipe struct {
	bridge *test.Bridge
	conns  [2]*PacketConn

	mu     sync.Mutex
	closed bool
	stopc  chan struct{}
	wg     sync.WaitGroup
}

func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stopc:  make(chan struct{}),
	}
	p.conns[0] = &PacketConn{conn: p.bridge.GetConn0(), local: Addr{ID: 0}, peer: Addr{ID: 1}}
	p.conns[1] = &PacketConn{conn: p.bridge.GetConn1(), local: Addr{ID: 1}, peer: Addr{ID: 0}}

	p.wg.Add(1)
	go p.processing(time.Millisecond)
	return p
}

func (p *Pipe) processing(interval time.Duration) {
	defer p.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stopc:
			return
		case <-t.C:
			p.drain()
		}
	}
}

const spinWait = 200 * time.Microsecond

func (p *Pipe) drain() {
	idle := time.Now()
	for time.Since(idle) < spinWait {
		if p.bridge.Tick() > 0 {
			idle = time.Now()
			continue
		}
		if p.bridge.Len(0) == 0 && p.bridge.Len(1) == 0 {
			return
		}
		runtime.Gosched()
	}
}

// Conn 返回端点id(0或1)的连接.
func (p *Pipe) Conn(id int) *PacketConn {
	return p.conns[id]
}

// Close 停止投递并关闭两个端点.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopc)
	p.mu.Unlock()

	p.wg.Wait()
	err0 := p.conns[0].Close()
	err1 := p.conns[1].Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PacketConn 管道端点, 实现net.PacketConn.
type PacketConn struct {
	conn  net.Conn
	local Addr
	peer  Addr

	mu     sync.Mutex
	drop   int
	filter func([]byte) bool
	writes int

	closeOnce sync.Once
	closeErr  error
}

var _ net.PacketConn = (*PacketConn)(nil)

// DropNext 丢弃接下来写出的n个数据报.
func (c *PacketConn) DropNext(n int) {
	c.mu.Lock()
	c.drop = n
	c.mu.Unlock()
}

// SetFilter 设置过滤函数, 返回true的数据报被丢弃.
func (c *PacketConn) SetFilter(f func(data []byte) bool) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

// Writes 返回调用WriteTo的次数, 含被丢弃的数据报.
func (c *PacketConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, err := c.conn.Read(b)
	return n, c.peer, err
}

// WriteTo 写出数据报, addr被忽略.
func (c *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	c.writes++
	dropped := false
	if c.drop > 0 {
		c.drop--
		dropped = true
	} else if c.filter != nil && c.filter(b) {
		dropped = true
	}
	c.mu.Unlock()

	if dropped {
		return len(b), nil
	}
	data := make([]byte, len(b))
	copy(data, b)
	return c.conn.Write(data)
}

// Close 可重复调用.
func (c *PacketConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}

func (c *PacketConn) LocalAddr() net.Addr {
	return c.local
}

func (c *PacketConn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *PacketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *PacketConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
