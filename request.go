package coap

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/stack/reliability"
)

// Responder 将应答送回请求方.
type Responder interface {
	// Respond 发送最终响应
	Respond(req *Request, resp *Response) error

	// Accept 对CON请求发送空ACK, 随后的响应以分离响应的方式发送
	Accept(req *Request) error
}

// Request COAP请求
type Request struct {
	// 是否为可靠消息
	Confirmable bool

	// 请求方法
	Method Code

	// COAP选项
	Options Options

	// 目标url
	URL *url.URL

	// 消息令牌
	Token string

	// 消息ID
	MessageID uint16

	// 消息负载
	Payload []byte

	// 远端地址, 消息接收端使用
	RemoteAddr net.Addr

	// 消息接收时间
	Timestamp time.Time

	// 请求超时时间, Client.Do在ctx未设置超时时使用
	Timeout time.Duration

	// 若设置该字段，发送请求时使用Request中的Token字段，否则消息的token自动生成
	useToken     bool
	useMessageID bool

	responder Responder
	responded int32
	accepted  int32

	comm  *Communicator
	tx    *reliability.Transaction
	queue *responseQueue
}

// NewRequest 构造COAP请求.
func NewRequest(confirmable bool, method Code, urlstr string, payload []byte) (*Request, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, &URIParseError{URI: urlstr, Err: err}
	}
	if u.Scheme != "coap" && u.Scheme != "coaps" {
		return nil, &URIParseError{URI: urlstr, Err: errors.New("invalid scheme")}
	}
	if u.Fragment != "" {
		return nil, &URIParseError{URI: urlstr, Err: errors.New("unsupport fragment")}
	}
	host, port, err := splitHostPort(u.Host)
	if err != nil {
		return nil, &URIParseError{URI: urlstr, Err: err}
	}
	if host == "" {
		return nil, &URIParseError{URI: urlstr, Err: errors.New("empty host")}
	}

	options := Options{}
	if net.ParseIP(host) == nil {
		options.Set(URIHost, host)
	}
	if port == 0 {
		if u.Scheme == "coaps" {
			u.Host += ":5684"
		} else {
			u.Host += ":" + strconv.Itoa(DefaultPort)
		}
	} else {
		options.Set(URIPort, port)
	}
	options.SetPath(u.Path)
	options.SetQuery(u.RawQuery)
	r := &Request{
		Confirmable: confirmable,
		Method:      method,
		Options:     options,
		URL:         u,
		Payload:     payload,
	}
	return r, nil
}

// ParseMethod 解析方法名, 不区分大小写.
func ParseMethod(name string) (Code, error) {
	switch strings.ToUpper(name) {
	case "GET":
		return GET, nil
	case "POST":
		return POST, nil
	case "PUT":
		return PUT, nil
	case "DELETE":
		return DELETE, nil
	}
	return 0, errors.Wrap(ErrUnknownMethod, name)
}

// NewRequestForMethod 按方法名构造CON请求.
func NewRequestForMethod(name, urlstr string) (*Request, error) {
	method, err := ParseMethod(name)
	if err != nil {
		return nil, err
	}
	return NewRequest(true, method, urlstr, nil)
}

func splitHostPort(hostport string) (string, uint32, error) {
	if strings.HasPrefix(hostport, "[") && strings.HasSuffix(hostport, "]") {
		return hostport[1 : len(hostport)-1], 0, nil
	}
	if !strings.Contains(hostport, ":") {
		return hostport, 0, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	if len(host) <= 0 {
		return "", 0, errors.New("invalid host")
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint32(n), nil
}

// SetToken 使用指定的Token发送请求.
func (r *Request) SetToken(token string) {
	r.Token = token
	r.useToken = true
}

// SetMessageID 使用指定的MessageID发送请求.
func (r *Request) SetMessageID(id uint16) {
	r.MessageID = id
	r.useMessageID = true
}

// SetPayload 设置负载及Content-Format.
func (r *Request) SetPayload(ct MediaType, payload []byte) {
	r.Options.Set(ContentFormat, uint32(ct))
	r.Payload = payload
}

// SetResponder 设置应答方, 服务端在分发请求前设置.
func (r *Request) SetResponder(responder Responder) {
	r.responder = responder
}

// Respond 发送响应, 每个请求仅能响应一次.
func (r *Request) Respond(resp *Response) error {
	if r.responder == nil {
		return ErrNoResponder
	}
	if !atomic.CompareAndSwapInt32(&r.responded, 0, 1) {
		return ErrAlreadyResponded
	}
	resp.Request = r
	return r.responder.Respond(r, resp)
}

// RespondWith 以指定状态码及负载响应.
func (r *Request) RespondWith(status Code, ct MediaType, payload []byte) error {
	resp := NewResponse(status)
	if payload != nil {
		resp.SetPayload(ct, payload)
	}
	return r.Respond(resp)
}

// Accept 对CON请求立即回复空ACK, 之后通过Respond发送分离响应.
func (r *Request) Accept() error {
	if r.responder == nil {
		return ErrNoResponder
	}
	if atomic.LoadInt32(&r.responded) == 1 {
		return ErrAlreadyResponded
	}
	if !atomic.CompareAndSwapInt32(&r.accepted, 0, 1) {
		return nil
	}
	return r.responder.Accept(r)
}

// Responded 是否已发送响应.
func (r *Request) Responded() bool {
	return atomic.LoadInt32(&r.responded) == 1
}

// Accepted 是否已回复空ACK.
func (r *Request) Accepted() bool {
	return atomic.LoadInt32(&r.accepted) == 1
}

// IsObserve GET请求是否携带Observe=0.
func (r *Request) IsObserve() bool {
	v, ok := r.Options.GetUint(Observe)
	return r.Method == GET && ok && v == 0
}

// ReceiveResponse 按到达顺序返回请求的下一个应答, 可能是空ACK、响应或通知.
//
// 重传耗尽、响应超时、传输被取消或ctx超时均返回(nil, nil);
// ctx被取消返回ErrWaitCancelled.
func (r *Request) ReceiveResponse(ctx context.Context) (*Response, error) {
	if r.queue == nil {
		return nil, errors.New("coap: request not executed")
	}
	return r.queue.receive(ctx)
}

// ReceiveResponseTimeout 在d时间内等待下一个应答.
func (r *Request) ReceiveResponseTimeout(d time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.ReceiveResponse(ctx)
}

// TransactionState 返回请求的传输状态, 请求未发送时ok为false.
func (r *Request) TransactionState() (state TransactionState, ok bool) {
	if r.tx == nil {
		return 0, false
	}
	return r.tx.State(), true
}

// Retransmits 返回请求的重传次数.
func (r *Request) Retransmits() int {
	if r.tx == nil {
		return 0
	}
	return r.tx.Retransmits()
}

// Cancel 本地取消请求, 停止重传并唤醒等待方.
func (r *Request) Cancel() {
	if r.comm != nil && r.tx != nil {
		r.comm.cancel(r.tx)
	}
}

// notification 复制订阅请求, 用于生成通知.
func (r *Request) notification(responder Responder) *Request {
	return &Request{
		Method:     r.Method,
		Options:    r.Options.clone(),
		URL:        r.URL,
		Token:      r.Token,
		RemoteAddr: r.RemoteAddr,
		Timestamp:  time.Now(),
		responder:  responder,
		comm:       r.comm,
	}
}
