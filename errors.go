package coap

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ironzhang/coap/v2/internal/stack/matcher"
)

var (
	ErrUnknownMethod    = errors.New("coap: unknown method")
	ErrWaitCancelled    = errors.New("coap: wait cancelled")
	ErrAlreadyResponded = errors.New("coap: request already responded")
	ErrNoResponder      = errors.New("coap: request has no responder")
	ErrNoResponse       = errors.New("coap: no response")
	ErrClosed           = errors.New("coap: communicator closed")
	ErrNotFound         = errors.New("coap: resource not found")
	ErrResourceAttached = errors.New("coap: resource already attached")

	// ErrDuplicateToken 显式设置的Token已被存活的请求占用, 或随机生成多次仍冲突
	ErrDuplicateToken = matcher.ErrDuplicateToken
)

// URIParseError URI格式错误
type URIParseError struct {
	URI string
	Err error
}

func (e *URIParseError) Error() string {
	return fmt.Sprintf("coap: parse uri %q: %v", e.URI, e.Err)
}

func (e *URIParseError) Unwrap() error {
	return e.Err
}

// TransportError 数据报发送失败
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("coap: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
