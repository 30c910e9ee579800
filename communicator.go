package coap

import (
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/metrics"
	"github.com/ironzhang/coap/v2/internal/stack/base"
	"github.com/ironzhang/coap/v2/internal/stack/deduplication"
	"github.com/ironzhang/coap/v2/internal/stack/matcher"
	"github.com/ironzhang/coap/v2/internal/stack/reliability"
)

const maxDatagramSize = 1500

// Handler 处理COAP请求的接口, 通过req.Respond发送响应.
type Handler interface {
	ServeCOAP(req *Request)
}

// HandlerFunc 函数形式的Handler
type HandlerFunc func(req *Request)

func (f HandlerFunc) ServeCOAP(req *Request) {
	f(req)
}

// Config 通信端点配置
type Config struct {
	// Conn 数据报连接, 为空时监听ListenAddr
	Conn net.PacketConn

	// ListenAddr UDP监听地址, 默认":0"
	ListenAddr string

	// Params 传输参数, 零值使用DefaultParams
	Params TransmissionParams

	// QueueSize 每个请求的应答队列长度
	QueueSize int

	// Handler 处理收到的请求, 为空时回复RST
	Handler Handler

	// Resolve 将URI中的主机解析为远端地址, 默认按UDP解析
	Resolve func(hostport string) (net.Addr, error)

	// Random 重传随机源, 测试时注入
	Random reliability.RandomSource

	LoggerFactory logging.LoggerFactory
}

func (c *Config) params() TransmissionParams {
	if c.Params == (TransmissionParams{}) {
		return DefaultParams()
	}
	return c.Params
}

// abortFunc 服务端CON分离响应及通知的所有者, 对端RST或重传超时时调用
type abortFunc func()

// Communicator 在一个数据报连接上收发COAP消息.
//
// 一个接收协程按到达顺序处理所有入站消息; 发送可在任意协程进行.
type Communicator struct {
	conn      net.PacketConn
	handler   Handler
	resolve   func(hostport string) (net.Addr, error)
	queueSize int
	log       logging.LeveledLogger
	stringer  base.MessageStringer

	scheme string
	host   string
	port   uint32

	matcher *matcher.Matcher
	alloc   *matcher.Allocator
	sched   *reliability.Scheduler
	dedup   *deduplication.Cache

	wg        sync.WaitGroup
	closing   int32
	closeOnce sync.Once
}

// NewCommunicator 创建通信端点, 需调用Run或Start开始接收.
func NewCommunicator(cfg Config) (*Communicator, error) {
	params := cfg.params()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	conn := cfg.Conn
	if conn == nil {
		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		var err error
		if conn, err = net.ListenPacket("udp", addr); err != nil {
			return nil, &TransportError{Op: "listen", Addr: addr, Err: err}
		}
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.Resolve == nil {
		cfg.Resolve = resolveUDP
	}

	c := &Communicator{
		conn:      conn,
		handler:   cfg.Handler,
		resolve:   cfg.Resolve,
		queueSize: cfg.QueueSize,
		log:       cfg.LoggerFactory.NewLogger("coap-communicator"),
		scheme:    "coap",
		host:      "localhost",
		port:      DefaultPort,
		matcher:   matcher.New(),
		dedup:     deduplication.NewCache(params.DedupCapacity, params.ExchangeLifetime, params.NonLifetime),
	}
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		if addr.IP != nil && !addr.IP.IsUnspecified() {
			c.host = addr.IP.String()
		}
		c.port = uint32(addr.Port)
	}
	c.alloc = matcher.NewAllocator(c.matcher)
	c.sched = reliability.NewScheduler(reliability.Config{
		AckTimeout:      params.AckTimeout,
		AckRandomFactor: params.AckRandomFactor,
		BackoffFactor:   params.BackoffFactor,
		MaxRetransmit:   params.MaxRetransmit,
		ResponseTimeout: params.ResponseTimeout,
		Random:          cfg.Random,
		Send:            c.write,
		OnRetransmit:    func(*reliability.Transaction) { metrics.RecordRetransmit() },
		OnTimeout:       c.onTimeout,
		LoggerFactory:   cfg.LoggerFactory,
	})
	return c, nil
}

func resolveUDP(hostport string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", hostport)
}

// LocalAddr 返回本地地址.
func (c *Communicator) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Start 在新协程中运行接收循环.
func (c *Communicator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(); err != nil {
			c.log.Warnf("receive loop exit: %v", err)
		}
	}()
}

// Run 运行接收循环, 直到连接关闭.
func (c *Communicator) Run() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			if c.isClosing() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		c.recvData(addr, data)
	}
}

// Close 关闭连接, 唤醒所有等待中的请求.
func (c *Communicator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closing, 1)
		err = c.conn.Close()
		for _, t := range c.matcher.Transactions() {
			c.cancel(t)
		}
	})
	c.wg.Wait()
	return err
}

func (c *Communicator) isClosing() bool {
	return atomic.LoadInt32(&c.closing) == 1
}

// NextMessageID 为远端分配下一个可用的MessageID.
func (c *Communicator) NextMessageID(role Role, peer net.Addr) uint16 {
	return c.alloc.NextMessageID(role, peer)
}

// GenerateToken 为远端生成未被占用的随机Token.
func (c *Communicator) GenerateToken(peer net.Addr) (string, error) {
	return c.alloc.GenerateToken(peer)
}

// Pending 返回存活的传输数.
func (c *Communicator) Pending() int {
	return c.matcher.Len()
}

// DuplicateStates 返回去重缓存中的记录数.
func (c *Communicator) DuplicateStates() int {
	return c.dedup.Len()
}

func (c *Communicator) peerOf(req *Request) (net.Addr, error) {
	if req.RemoteAddr != nil {
		return req.RemoteAddr, nil
	}
	if req.URL == nil {
		return nil, &URIParseError{Err: errors.New("missing url")}
	}
	addr, err := c.resolve(req.URL.Host)
	if err != nil {
		return nil, &URIParseError{URI: req.URL.String(), Err: err}
	}
	return addr, nil
}

// Execute 发送请求, 传输在发送前登记, 应答通过req.ReceiveResponse获取.
func (c *Communicator) Execute(req *Request) error {
	if c.isClosing() {
		return ErrClosed
	}
	peer, err := c.peerOf(req)
	if err != nil {
		return err
	}
	if !req.useToken {
		if req.Token, err = c.GenerateToken(peer); err != nil {
			return err
		}
	}
	if !req.useMessageID {
		req.MessageID = c.NextMessageID(RoleClient, peer)
	}

	m := base.Message{
		Type:      base.NON,
		Code:      uint8(req.Method),
		MessageID: req.MessageID,
		Token:     req.Token,
		Options:   req.Options,
		Payload:   req.Payload,
	}
	if req.Confirmable {
		m.Type = base.CON
	}
	data, err := m.Marshal()
	if err != nil {
		return errors.WithMessage(err, "coap: encode request")
	}

	tx := &reliability.Transaction{
		MessageID:   req.MessageID,
		Token:       req.Token,
		Peer:        peer,
		Confirmable: req.Confirmable,
		Observe:     req.IsObserve(),
		Owner:       req,
	}
	req.comm = c
	req.tx = tx
	req.queue = newResponseQueue(c.queueSize)
	if err = c.matcher.Register(tx); err != nil {
		return err
	}
	c.trace("send", peer, m)
	c.sched.Start(tx, data)
	if err = c.write(data, peer); err != nil {
		c.cancel(tx)
		return err
	}
	metrics.RecordSent(base.TypeName(m.Type))
	return nil
}

// cancel 本地取消传输, 不向对端发送任何消息.
func (c *Communicator) cancel(t *reliability.Transaction) {
	if t.Complete() {
		c.matcher.Retire(t)
		c.abort(t)
	}
}

func (c *Communicator) abort(t *reliability.Transaction) {
	switch o := t.Owner.(type) {
	case *Request:
		o.queue.close()
	case abortFunc:
		o()
	}
}

func (c *Communicator) onTimeout(t *reliability.Transaction) {
	metrics.RecordTimeout()
	c.matcher.Retire(t)
	c.abort(t)
}

func (c *Communicator) write(data []byte, peer net.Addr) error {
	if _, err := c.conn.WriteTo(data, peer); err != nil {
		return &TransportError{Op: "write", Addr: peer.String(), Err: err}
	}
	return nil
}

func (c *Communicator) sendMessage(peer net.Addr, m base.Message) ([]byte, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	c.trace("send", peer, m)
	if err = c.write(data, peer); err != nil {
		return data, err
	}
	metrics.RecordSent(base.TypeName(m.Type))
	return data, nil
}

// reply 回复CON/NON消息, 回复内容记入去重缓存以便重复消息到达时重发.
func (c *Communicator) reply(peer net.Addr, in base.Message, out base.Message) error {
	data, err := c.sendMessage(peer, out)
	if data != nil && in.Type == base.CON {
		c.dedup.Reply(peer, in.MessageID, in.Token, data)
	}
	return err
}

func (c *Communicator) sendRST(peer net.Addr, in base.Message) error {
	return c.reply(peer, in, base.Message{Type: base.RST, MessageID: in.MessageID})
}

func (c *Communicator) sendEmptyACK(peer net.Addr, in base.Message) error {
	return c.reply(peer, in, base.Message{Type: base.ACK, MessageID: in.MessageID})
}

func (c *Communicator) sendBadOptionACK(peer net.Addr, in base.Message) error {
	return c.reply(peer, in, base.Message{
		Type:      base.ACK,
		Code:      base.BadOption,
		MessageID: in.MessageID,
		Token:     in.Token,
		Payload:   []byte(`Unrecognized options of class "critical" that occur in a Confirmable request`),
	})
}

// sendSeparate 发送分离响应或通知, CON消息登记重传直到收到ACK.
func (c *Communicator) sendSeparate(peer net.Addr, token string, resp *Response, onAbort func()) error {
	m := base.Message{
		Type:      base.NON,
		Code:      uint8(resp.Status),
		MessageID: c.NextMessageID(RoleServer, peer),
		Token:     token,
		Options:   resp.Options,
		Payload:   resp.Payload,
	}
	if !resp.Confirmable {
		_, err := c.sendMessage(peer, m)
		return err
	}

	m.Type = base.CON
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if onAbort == nil {
		onAbort = func() {}
	}
	tx := &reliability.Transaction{
		MessageID:   m.MessageID,
		Peer:        peer,
		Confirmable: true,
		Owner:       abortFunc(onAbort),
	}
	if err = c.matcher.RegisterID(tx); err != nil {
		return err
	}
	c.trace("send", peer, m)
	c.sched.Start(tx, data)
	if err = c.write(data, peer); err != nil {
		c.cancel(tx)
		return err
	}
	metrics.RecordSent(base.TypeName(m.Type))
	return nil
}

func (c *Communicator) trace(dir string, peer net.Addr, m base.Message) {
	c.log.Tracef("%s %s\n%s", dir, peer, c.stringer.MessageString(m))
}

func (c *Communicator) recvData(peer net.Addr, data []byte) {
	var m base.Message
	if err := m.Unmarshal(data); err != nil {
		metrics.RecordMalformed()
		c.log.Debugf("recv malformed message from %s: %v", peer, err)
		handleError(c, peer, m, err)
		return
	}
	c.trace("recv", peer, m)
	metrics.RecordReceived(base.TypeName(m.Type))

	switch m.Type {
	case base.CON, base.NON:
		c.handleMSG(peer, m)
	case base.ACK:
		c.handleACK(peer, m)
	case base.RST:
		c.handleRST(peer, m)
	}
}

func (c *Communicator) handleMSG(peer net.Addr, m base.Message) {
	if m.IsEmpty() {
		// ping
		if m.Type == base.CON {
			c.sendRST(peer, m)
		}
		return
	}

	v, reply, err := c.dedup.Check(peer, m)
	if err != nil {
		c.log.Debugf("dedup %s#%d: %v", peer, m.MessageID, err)
	}
	switch v {
	case deduplication.Duplicate:
		metrics.RecordDuplicate(v.String())
		if reply != nil {
			c.write(reply, peer)
		}
		return
	case deduplication.Reset:
		metrics.RecordDuplicate(v.String())
		c.sendRST(peer, m)
		return
	}

	if m.IsRequest() {
		c.handleRequest(peer, m)
	} else if m.IsResponse() {
		c.handleResponse(peer, m)
	} else {
		c.log.Debugf("ignore %s from %s", m.String(), peer)
	}
}

func (c *Communicator) handleRequest(peer net.Addr, m base.Message) {
	if c.handler == nil {
		c.sendRST(peer, m)
		return
	}
	u, err := c.parseURL(Options(m.Options))
	if err != nil {
		c.log.Debugf("parse url from %s: %v", peer, err)
		c.sendRST(peer, m)
		return
	}

	req := &Request{
		Confirmable: m.Type == base.CON,
		Method:      Code(m.Code),
		Options:     Options(m.Options),
		URL:         u,
		Token:       m.Token,
		MessageID:   m.MessageID,
		Payload:     m.Payload,
		RemoteAddr:  peer,
		Timestamp:   time.Now(),
		comm:        c,
	}
	req.responder = &exchange{comm: c, peer: peer, in: m}
	c.serve(req)
	if req.Confirmable && !req.Responded() && !req.Accepted() {
		req.Accept()
	}
}

func (c *Communicator) serve(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("serve %s %s: panic: %v", req.Method, req.URL.Path, r)
			if !req.Responded() {
				req.Respond(NewResponse(InternalServerError))
			}
		}
	}()
	c.handler.ServeCOAP(req)
}

func (c *Communicator) handleResponse(peer net.Addr, m base.Message) {
	t, ok := c.matcher.MatchToken(peer, m.Token)
	if !ok || !t.Live() {
		if m.Type == base.CON {
			c.sendRST(peer, m)
		}
		c.log.Debugf("unmatched response %s from %s", m.String(), peer)
		return
	}
	if m.Type == base.CON {
		c.sendEmptyACK(peer, m)
	}
	c.deliver(t, peer, m)
}

func (c *Communicator) handleACK(peer net.Addr, m base.Message) {
	t, ok := c.matcher.MatchID(peer, m.MessageID)
	if !ok {
		c.log.Debugf("unmatched ack %d from %s", m.MessageID, peer)
		return
	}

	req, ok := t.Owner.(*Request)
	if !ok {
		if t.Complete() {
			c.matcher.Retire(t)
		}
		return
	}
	if m.IsEmpty() {
		if c.sched.Acknowledge(t) {
			resp := newResponse(m, peer, req)
			resp.RTT = time.Since(t.Start())
			req.queue.push(resp)
		}
		return
	}
	if m.Token != t.Token {
		c.log.Debugf("ack %d from %s: token mismatch", m.MessageID, peer)
		return
	}
	c.deliver(t, peer, m)
}

func (c *Communicator) handleRST(peer net.Addr, m base.Message) {
	t, ok := c.matcher.MatchID(peer, m.MessageID)
	if !ok {
		return
	}
	c.log.Debugf("transaction %d reset by %s", m.MessageID, peer)
	c.cancel(t)
}

func (c *Communicator) deliver(t *reliability.Transaction, peer net.Addr, m base.Message) {
	req, ok := t.Owner.(*Request)
	if !ok {
		return
	}
	resp := newResponse(m, peer, req)
	if t.Observe && Code(m.Code).IsSuccess() && resp.IsNotification() {
		if c.sched.Hold(t) {
			resp.RTT = time.Since(t.Start())
			if !req.queue.push(resp) {
				c.log.Warnf("drop notification for %s: queue full", TokenString(t.Token))
			}
		}
		return
	}
	if t.Complete() {
		c.matcher.Retire(t)
		resp.RTT = t.RTT()
		metrics.RecordRTT(resp.RTT)
		if !req.queue.push(resp) {
			c.log.Warnf("drop response for %s: queue full", TokenString(t.Token))
		}
	}
}

func (c *Communicator) parseURL(options Options) (*url.URL, error) {
	if proxy, ok := options.GetString(ProxyURI); ok {
		return url.Parse(proxy)
	}
	host, ok := options.GetString(URIHost)
	if !ok {
		host = c.host
	}
	port, ok := options.GetUint(URIPort)
	if !ok {
		port = c.port
	}
	return &url.URL{
		Scheme:   c.scheme,
		Host:     net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10)),
		Path:     "/" + options.GetPath(),
		RawQuery: options.GetQuery(),
	}, nil
}

// TokenString 以十六进制输出Token.
func TokenString(token string) string {
	return base.TokenString(token)
}

// exchange 服务端对一个入站请求的应答方
type exchange struct {
	comm  *Communicator
	peer  net.Addr
	in    base.Message
	state int32
}

const (
	exchangeIdle int32 = iota
	exchangeAcked
	exchangeDone
)

func (x *exchange) Accept(req *Request) error {
	if x.in.Type != base.CON {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&x.state, exchangeIdle, exchangeAcked) {
		return nil
	}
	return x.comm.sendEmptyACK(x.peer, x.in)
}

func (x *exchange) Respond(req *Request, resp *Response) error {
	if x.in.Type == base.CON && atomic.CompareAndSwapInt32(&x.state, exchangeIdle, exchangeDone) {
		return x.comm.reply(x.peer, x.in, base.Message{
			Type:      base.ACK,
			Code:      uint8(resp.Status),
			MessageID: x.in.MessageID,
			Token:     x.in.Token,
			Options:   resp.Options,
			Payload:   resp.Payload,
		})
	}
	if x.in.Type == base.NON {
		// NON请求的响应使用NON消息, 除非显式要求CON
		return x.comm.sendSeparate(x.peer, x.in.Token, resp, nil)
	}
	atomic.StoreInt32(&x.state, exchangeDone)
	sep := *resp
	sep.Confirmable = true
	return x.comm.sendSeparate(x.peer, x.in.Token, &sep, nil)
}
