package coap

import (
	"github.com/ironzhang/coap/v2/internal/stack/base"
	"github.com/ironzhang/coap/v2/internal/stack/matcher"
	"github.com/ironzhang/coap/v2/internal/stack/reliability"
)

// DefaultPort COAP默认端口
const DefaultPort = 5683

// Type 消息类型
type Type uint8

const (
	CON Type = base.CON
	NON Type = base.NON
	ACK Type = base.ACK
	RST Type = base.RST
)

func (t Type) String() string {
	return base.TypeName(uint8(t))
}

// Code 请求方法或响应状态码
type Code uint8

// Request Codes
const (
	GET    Code = base.GET
	POST   Code = base.POST
	PUT    Code = base.PUT
	DELETE Code = base.DELETE
)

// Responses Codes
const (
	Created                  Code = base.Created
	Deleted                  Code = base.Deleted
	Valid                    Code = base.Valid
	Changed                  Code = base.Changed
	Content                  Code = base.Content
	BadRequest               Code = base.BadRequest
	Unauthorized             Code = base.Unauthorized
	BadOption                Code = base.BadOption
	Forbidden                Code = base.Forbidden
	NotFound                 Code = base.NotFound
	MethodNotAllowed         Code = base.MethodNotAllowed
	NotAcceptable            Code = base.NotAcceptable
	PreconditionFailed       Code = base.PreconditionFailed
	RequestEntityTooLarge    Code = base.RequestEntityTooLarge
	UnsupportedContentFormat Code = base.UnsupportedContentFormat
	InternalServerError      Code = base.InternalServerError
	NotImplemented           Code = base.NotImplemented
	BadGateway               Code = base.BadGateway
	ServiceUnavailable       Code = base.ServiceUnavailable
	GatewayTimeout           Code = base.GatewayTimeout
	ProxyingNotSupported     Code = base.ProxyingNotSupported
)

func (c Code) String() string {
	return base.CodeName(uint8(c))
}

// Class 返回状态码类别(c.dd中的c).
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// IsSuccess 2.xx
func (c Code) IsSuccess() bool {
	return c.Class() == 2
}

// OptionID 选项编号
type OptionID uint16

func (id OptionID) String() string {
	return base.OptionName(uint16(id))
}

// Critical 奇数编号的选项为关键选项.
func (id OptionID) Critical() bool {
	return base.Critical(uint16(id))
}

// Option IDs
const (
	IfMatch       OptionID = base.IfMatch
	URIHost       OptionID = base.URIHost
	ETag          OptionID = base.ETag
	IfNoneMatch   OptionID = base.IfNoneMatch
	Observe       OptionID = base.Observe
	URIPort       OptionID = base.URIPort
	LocationPath  OptionID = base.LocationPath
	URIPath       OptionID = base.URIPath
	ContentFormat OptionID = base.ContentFormat
	MaxAge        OptionID = base.MaxAge
	URIQuery      OptionID = base.URIQuery
	Accept        OptionID = base.Accept
	LocationQuery OptionID = base.LocationQuery
	ProxyURI      OptionID = base.ProxyURI
	ProxyScheme   OptionID = base.ProxyScheme
	Size1         OptionID = base.Size1
)

// MediaType 负载的内容格式
type MediaType uint16

const (
	TextPlain         MediaType = 0   // text/plain;charset=utf-8
	AppLinkFormat     MediaType = 40  // application/link-format
	AppXML            MediaType = 41  // application/xml
	AppOctets         MediaType = 42  // application/octet-stream
	AppExi            MediaType = 47  // application/exi
	AppJSON           MediaType = 50  // application/json
	AppCBOR           MediaType = 60  // application/cbor
	AppLinkFormatCBOR MediaType = 64  // application/link-format+cbor
	AppLinkFormatJSON MediaType = 504 // application/link-format+json
)

// TransactionState 请求传输状态
type TransactionState = reliability.State

const (
	AwaitingAck      = reliability.AwaitingAck
	AwaitingResponse = reliability.AwaitingResponse
	Completed        = reliability.Completed
	TimedOut         = reliability.TimedOut
)

// Role 发送方角色, 各角色使用独立的MessageID序列
type Role = matcher.Role

const (
	RoleClient = matcher.RoleClient
	RoleServer = matcher.RoleServer
)
