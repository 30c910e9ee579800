package coap

import (
	"net"
	"time"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// Response COAP响应
type Response struct {
	// 消息类型, 接收端使用
	Type Type

	// 是否以CON消息发送分离响应或通知
	Confirmable bool

	// 响应码, 空ACK为0
	Status Code

	MessageID uint16
	Token     string
	Options   Options
	Payload   []byte

	// 远端地址, 接收端使用
	RemoteAddr net.Addr

	// 接收时间
	Timestamp time.Time

	// 请求发出至收到响应的时长
	RTT time.Duration

	// 对应的请求
	Request *Request
}

// NewResponse 构造响应.
func NewResponse(status Code) *Response {
	return &Response{Status: status}
}

// SetPayload 设置负载及Content-Format.
func (r *Response) SetPayload(ct MediaType, payload []byte) *Response {
	r.Options.Set(ContentFormat, uint32(ct))
	r.Payload = payload
	return r
}

// IsEmptyAck 是否为空ACK.
func (r *Response) IsEmptyAck() bool {
	return r.Type == ACK && r.Status == 0
}

// IsNotification 是否携带Observe选项.
func (r *Response) IsNotification() bool {
	return r.Options.Contain(Observe)
}

func newResponse(m base.Message, peer net.Addr, req *Request) *Response {
	return &Response{
		Type:        Type(m.Type),
		Confirmable: m.Type == base.CON,
		Status:      Code(m.Code),
		MessageID:   m.MessageID,
		Token:       m.Token,
		Options:     Options(m.Options),
		Payload:     m.Payload,
		RemoteAddr:  peer,
		Timestamp:   time.Now(),
		Request:     req,
	}
}
