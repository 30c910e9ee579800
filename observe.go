package coap

import (
	"sort"
	"sync"

	"github.com/pion/logging"

	"github.com/ironzhang/coap/v2/internal/metrics"
)

const maxObserveSeq = 1<<24 - 1

// ObserveRegistry 资源的订阅登记表, 每个远端至多一个订阅.
type ObserveRegistry struct {
	mu       sync.Mutex
	requests map[string]*Request
	seq      uint32
}

func NewObserveRegistry() *ObserveRegistry {
	return &ObserveRegistry{requests: make(map[string]*Request)}
}

func endpointOf(req *Request) string {
	if req.RemoteAddr == nil {
		return ""
	}
	return req.RemoteAddr.String()
}

// AddObserveRequest 登记订阅请求, 覆盖同一远端的旧订阅.
func (o *ObserveRegistry) AddObserveRequest(req *Request) {
	endpoint := endpointOf(req)
	o.mu.Lock()
	_, ok := o.requests[endpoint]
	o.requests[endpoint] = req
	o.mu.Unlock()
	if !ok {
		metrics.AddObservers(1)
	}
}

// IsObserved 远端是否已订阅.
func (o *ObserveRegistry) IsObserved(endpoint string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.requests[endpoint]
	return ok
}

// RemoveObserveRequest 注销订阅, 可重复调用.
func (o *ObserveRegistry) RemoveObserveRequest(endpoint string) bool {
	o.mu.Lock()
	_, ok := o.requests[endpoint]
	delete(o.requests, endpoint)
	o.mu.Unlock()
	if ok {
		metrics.AddObservers(-1)
	}
	return ok
}

func (o *ObserveRegistry) removeRequest(endpoint string, req *Request) {
	o.mu.Lock()
	ok := o.requests[endpoint] == req
	if ok {
		delete(o.requests, endpoint)
	}
	o.mu.Unlock()
	if ok {
		metrics.AddObservers(-1)
	}
}

func (o *ObserveRegistry) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

// Endpoints 按顺序返回所有订阅的远端.
func (o *ObserveRegistry) Endpoints() []string {
	o.mu.Lock()
	endpoints := make([]string, 0, len(o.requests))
	for endpoint := range o.requests {
		endpoints = append(endpoints, endpoint)
	}
	o.mu.Unlock()
	sort.Strings(endpoints)
	return endpoints
}

// nextSeq 返回下一个24位Observe序号.
func (o *ObserveRegistry) nextSeq() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq = (o.seq + 1) & maxObserveSeq
	return o.seq
}

// notify 按远端顺序为每个订阅生成通知请求并交由GET处理器响应.
func (o *ObserveRegistry) notify(h ResourceHandler, log logging.LeveledLogger) {
	for _, endpoint := range o.Endpoints() {
		o.mu.Lock()
		req, ok := o.requests[endpoint]
		o.mu.Unlock()
		if !ok {
			continue
		}
		nreq := req.notification(&notifier{registry: o, endpoint: endpoint, origin: req})
		performNotify(h, nreq, log)
	}
}

func performNotify(h ResourceHandler, req *Request, log logging.LeveledLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("notify %s: panic: %v", endpointOf(req), r)
			if !req.Responded() {
				req.Respond(NewResponse(InternalServerError))
			}
		}
	}()
	h.PerformGet(req)
}

// notifier 发送通知, 错误状态码的通知结束订阅
type notifier struct {
	registry *ObserveRegistry
	endpoint string
	origin   *Request
}

func (n *notifier) Respond(req *Request, resp *Response) error {
	if resp.Status.IsSuccess() {
		resp.Options.Set(Observe, n.registry.nextSeq())
	} else {
		n.registry.removeRequest(n.endpoint, n.origin)
	}

	origin := n.origin
	if origin.comm != nil {
		return origin.comm.sendSeparate(origin.RemoteAddr, origin.Token, resp, func() {
			n.registry.removeRequest(n.endpoint, origin)
		})
	}
	next := origin.responder
	if or, ok := next.(*observeResponder); ok {
		next = or.next
	}
	if next == nil {
		return ErrNoResponder
	}
	return next.Respond(req, resp)
}

func (n *notifier) Accept(req *Request) error {
	return nil
}

// observeResponder 首个响应携带Observe序号, 错误响应撤销登记
type observeResponder struct {
	next     Responder
	registry *ObserveRegistry
	endpoint string
}

func (r *observeResponder) Respond(req *Request, resp *Response) error {
	if resp.Status.IsSuccess() {
		resp.Options.Set(Observe, r.registry.nextSeq())
	} else {
		r.registry.removeRequest(r.endpoint, req)
	}
	return r.next.Respond(req, resp)
}

func (r *observeResponder) Accept(req *Request) error {
	return r.next.Accept(req)
}

// observe 处理GET请求中的Observe选项.
func observe(res *Resource, req *Request) {
	v, ok := req.Options.GetUint(Observe)
	if !ok || req.responder == nil {
		return
	}
	reg := res.Observers()
	endpoint := endpointOf(req)
	switch {
	case v == 0 && res.Observable():
		req.SetResponder(&observeResponder{next: req.responder, registry: reg, endpoint: endpoint})
		reg.AddObserveRequest(req)
	case v == 1:
		reg.RemoveObserveRequest(endpoint)
	}
}
