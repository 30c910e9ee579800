package coap

import (
	"net"
	"strings"
	"sync"

	"github.com/pion/logging"
)

// ListenAndServe 在指定地址监听并以资源树提供COAP服务.
func ListenAndServe(address string, root *Resource) error {
	return NewServer(root, Config{ListenAddr: address}).ListenAndServe()
}

// Server 以资源树分发请求的COAP服务端
type Server struct {
	root *Resource
	cfg  Config
	log  logging.LeveledLogger

	mu   sync.Mutex
	comm *Communicator
}

// NewServer 创建服务端, root为空时创建名为root的空资源树.
//
// 根节点下会挂载隐藏的/.well-known/core资源发现节点.
func NewServer(root *Resource, cfg Config) *Server {
	if root == nil {
		root = NewResource("", nil)
		root.SetName("root")
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	root.SetLogger(cfg.LoggerFactory.NewLogger("coap-resource"))
	addWellKnownCore(root)
	return &Server{
		root: root,
		cfg:  cfg,
		log:  cfg.LoggerFactory.NewLogger("coap-server"),
	}
}

// Root 返回资源树根节点.
func (s *Server) Root() *Resource {
	return s.root
}

// ListenAndServe 监听cfg.ListenAddr(默认":5683")并提供服务.
func (s *Server) ListenAndServe() error {
	address := s.cfg.ListenAddr
	if address == "" {
		address = ":5683"
	}
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return &TransportError{Op: "listen", Addr: address, Err: err}
	}
	return s.Serve(conn)
}

// Serve 在conn上提供服务, 直到连接关闭.
func (s *Server) Serve(conn net.PacketConn) error {
	comm, err := s.listen(conn)
	if err != nil {
		return err
	}
	s.log.Infof("serving on %s", conn.LocalAddr())
	return comm.Run()
}

// Start 在新协程中提供服务.
func (s *Server) Start(conn net.PacketConn) error {
	comm, err := s.listen(conn)
	if err != nil {
		return err
	}
	comm.Start()
	return nil
}

func (s *Server) listen(conn net.PacketConn) (*Communicator, error) {
	cfg := s.cfg
	cfg.Conn = conn
	cfg.Handler = s
	comm, err := NewCommunicator(cfg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.comm = comm
	s.mu.Unlock()
	return comm, nil
}

// Communicator 返回服务端使用的通信端点, 未开始服务时返回nil.
func (s *Server) Communicator() *Communicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comm
}

// Execute 由服务端向远端发送请求.
func (s *Server) Execute(req *Request) error {
	comm := s.Communicator()
	if comm == nil {
		return ErrClosed
	}
	return comm.Execute(req)
}

// Close 停止服务.
func (s *Server) Close() error {
	comm := s.Communicator()
	if comm == nil {
		return nil
	}
	return comm.Close()
}

// ServeCOAP 按请求路径分发至资源处理器.
func (s *Server) ServeCOAP(req *Request) {
	path := strings.Trim(req.URL.Path, "/")
	res, ok := s.root.GetResource(path)
	if !ok {
		if req.Method == PUT {
			parent, rest := s.root.deepest(path)
			s.log.Debugf("create %q under %s", rest, parent.Path())
			parent.Handler().CreateNew(req, rest)
			return
		}
		req.Respond(NewResponse(NotFound))
		return
	}

	h := res.Handler()
	switch req.Method {
	case GET:
		observe(res, req)
		h.PerformGet(req)
	case POST:
		h.PerformPost(req)
	case PUT:
		h.PerformPut(req)
	case DELETE:
		h.PerformDelete(req)
	default:
		req.Respond(NewResponse(MethodNotAllowed))
	}
}
