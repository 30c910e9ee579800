package coap

// ResourceHandler 资源的请求处理器, 每个方法须调用req.Respond恰好一次,
// 或先调用req.Accept再异步响应.
type ResourceHandler interface {
	PerformGet(req *Request)
	PerformPost(req *Request)
	PerformPut(req *Request)
	PerformDelete(req *Request)

	// CreateNew 处理发往不存在路径的PUT请求, newPath为相对于本资源的剩余路径
	CreateNew(req *Request, newPath string)
}

// LocalHandler 所有请求回复5.01, 可嵌入以实现部分方法.
type LocalHandler struct{}

func (LocalHandler) PerformGet(req *Request)                { req.Respond(NewResponse(NotImplemented)) }
func (LocalHandler) PerformPost(req *Request)               { req.Respond(NewResponse(NotImplemented)) }
func (LocalHandler) PerformPut(req *Request)                { req.Respond(NewResponse(NotImplemented)) }
func (LocalHandler) PerformDelete(req *Request)             { req.Respond(NewResponse(NotImplemented)) }
func (LocalHandler) CreateNew(req *Request, newPath string) { req.Respond(NewResponse(NotImplemented)) }

// ReadOnlyHandler 修改请求回复4.05, 创建请求回复4.03.
type ReadOnlyHandler struct {
	LocalHandler
}

func (ReadOnlyHandler) PerformPost(req *Request)               { req.Respond(NewResponse(MethodNotAllowed)) }
func (ReadOnlyHandler) PerformPut(req *Request)                { req.Respond(NewResponse(MethodNotAllowed)) }
func (ReadOnlyHandler) PerformDelete(req *Request)             { req.Respond(NewResponse(MethodNotAllowed)) }
func (ReadOnlyHandler) CreateNew(req *Request, newPath string) { req.Respond(NewResponse(Forbidden)) }

// ResourceHandlerFuncs 函数形式的ResourceHandler, 未设置的方法回复5.01.
type ResourceHandlerFuncs struct {
	Get    func(req *Request)
	Post   func(req *Request)
	Put    func(req *Request)
	Delete func(req *Request)
	Create func(req *Request, newPath string)
}

func (h ResourceHandlerFuncs) PerformGet(req *Request) {
	h.call(h.Get, req)
}

func (h ResourceHandlerFuncs) PerformPost(req *Request) {
	h.call(h.Post, req)
}

func (h ResourceHandlerFuncs) PerformPut(req *Request) {
	h.call(h.Put, req)
}

func (h ResourceHandlerFuncs) PerformDelete(req *Request) {
	h.call(h.Delete, req)
}

func (h ResourceHandlerFuncs) CreateNew(req *Request, newPath string) {
	if h.Create == nil {
		req.Respond(NewResponse(NotImplemented))
		return
	}
	h.Create(req, newPath)
}

func (h ResourceHandlerFuncs) call(f func(*Request), req *Request) {
	if f == nil {
		req.Respond(NewResponse(NotImplemented))
		return
	}
	f(req)
}
