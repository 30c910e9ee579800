// Package coaptest 提供测试COAP处理器的工具.
package coaptest

import (
	"sync"

	"github.com/ironzhang/coap/v2"
)

// ResponseRecorder 记录处理器的应答, 实现coap.Responder.
type ResponseRecorder struct {
	mu          sync.Mutex
	Accepted    bool
	Responded   bool
	Confirmable bool
	Code        coap.Code
	Header      coap.Options
	Body        []byte
	Responses   []*coap.Response
}

func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		Header: make(coap.Options, 0),
	}
}

// NewRequest 构造请求并以新的ResponseRecorder作为应答方.
func NewRequest(method coap.Code, urlstr string, payload []byte) (*coap.Request, *ResponseRecorder) {
	req, err := coap.NewRequest(true, method, urlstr, payload)
	if err != nil {
		panic(err)
	}
	rec := NewRecorder()
	req.SetResponder(rec)
	return req, rec
}

func (rw *ResponseRecorder) Respond(req *coap.Request, resp *coap.Response) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.Responded = true
	rw.Confirmable = resp.Confirmable
	rw.Code = resp.Status
	rw.Header = resp.Options
	rw.Body = resp.Payload
	rw.Responses = append(rw.Responses, resp)
	return nil
}

func (rw *ResponseRecorder) Accept(req *coap.Request) error {
	rw.mu.Lock()
	rw.Accepted = true
	rw.mu.Unlock()
	return nil
}

// Result 返回最后一个响应.
func (rw *ResponseRecorder) Result() *coap.Response {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if len(rw.Responses) == 0 {
		return nil
	}
	return rw.Responses[len(rw.Responses)-1]
}
