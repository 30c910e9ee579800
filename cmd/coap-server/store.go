package main

import (
	"strings"
	"sync"

	"github.com/ironzhang/coap/v2"
)

// store 保存任意数据的资源, 对不存在子路径的PUT请求创建新的store节点
type store struct {
	res  *coap.Resource
	root bool

	mu          sync.Mutex
	data        []byte
	contentType coap.MediaType
	hasCT       bool
	deleted     bool
}

func newStore(segment string, root bool) *coap.Resource {
	s := &store{root: root}
	s.res = coap.NewResource(segment, s)
	s.res.SetName("Resource for storage")
	s.res.SetObservable(true)
	return s.res
}

func storeConstructor(segment string) (*coap.Resource, error) {
	return newStore(segment, false), nil
}

func (s *store) PerformGet(req *coap.Request) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		req.Respond(coap.NewResponse(coap.NotFound))
		return
	}
	resp := coap.NewResponse(coap.Content)
	resp.Payload = s.data
	if s.hasCT {
		resp.Options.Set(coap.ContentFormat, uint32(s.contentType))
	}
	s.mu.Unlock()
	req.Respond(resp)
}

func (s *store) PerformPost(req *coap.Request) {
	s.storeData(req)
}

func (s *store) PerformPut(req *coap.Request) {
	s.storeData(req)
}

func (s *store) PerformDelete(req *coap.Request) {
	if s.root {
		req.Respond(coap.NewResponse(coap.Forbidden))
		return
	}
	// 订阅者收到4.04后结束订阅
	s.res.Update(func() error {
		s.mu.Lock()
		s.deleted = true
		s.mu.Unlock()
		s.res.Remove()
		return nil
	})
	req.Respond(coap.NewResponse(coap.Deleted))
}

func (s *store) CreateNew(req *coap.Request, newPath string) {
	res, err := s.res.SubResource(newPath, true)
	if err != nil {
		req.Respond(coap.NewResponse(coap.BadRequest))
		return
	}
	child, ok := res.Handler().(*store)
	if !ok {
		req.Respond(coap.NewResponse(coap.InternalServerError))
		return
	}
	child.set(req)

	resp := coap.NewResponse(coap.Created)
	resp.Options.SetStrings(coap.LocationPath, strings.Split(strings.Trim(res.Path(), "/"), "/"))
	req.Respond(resp)
}

func (s *store) set(req *coap.Request) (created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created = s.data == nil
	s.data = req.Payload
	ct, ok := req.Options.ContentFormat()
	s.contentType, s.hasCT = ct, ok
	return created
}

func (s *store) storeData(req *coap.Request) {
	code := coap.Changed
	s.res.Update(func() error {
		if s.set(req) {
			code = coap.Created
		}
		return nil
	})
	req.Respond(coap.NewResponse(code))
}
