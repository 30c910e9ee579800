package coap

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Client COAP客户端, 所有请求共用一个通信端点.
type Client struct {
	comm *Communicator
}

// NewClient 创建客户端并开始接收.
func NewClient(cfg Config) (*Client, error) {
	comm, err := NewCommunicator(cfg)
	if err != nil {
		return nil, err
	}
	comm.Start()
	return &Client{comm: comm}, nil
}

// Communicator 返回客户端使用的通信端点.
func (c *Client) Communicator() *Communicator {
	return c.comm
}

// LocalAddr 返回本地地址.
func (c *Client) LocalAddr() net.Addr {
	return c.comm.LocalAddr()
}

// Execute 发送请求, 应答通过req.ReceiveResponse获取.
func (c *Client) Execute(req *Request) error {
	return c.comm.Execute(req)
}

// Do 发送请求并等待最终响应, 跳过空ACK.
//
// ctx未设置超时且req.Timeout>0时, 以req.Timeout为等待时长. 未收到响应返回ErrNoResponse.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if err := c.Execute(req); err != nil {
		return nil, err
	}
	for {
		resp, err := req.ReceiveResponse(ctx)
		if err != nil {
			req.Cancel()
			return nil, err
		}
		if resp == nil {
			req.Cancel()
			return nil, ErrNoResponse
		}
		if resp.IsEmptyAck() {
			continue
		}
		return resp, nil
	}
}

// Observe 发送Observe=0的GET请求, 通知通过req.ReceiveResponse获取.
func (c *Client) Observe(req *Request) error {
	if req.Method != GET {
		return errors.Errorf("coap: observe with method %s", req.Method)
	}
	req.Options.Set(Observe, 0)
	return c.Execute(req)
}

// CancelObserve 结束订阅: 本地取消传输并向服务端发送Observe=1的GET请求.
//
// 服务端对注销请求的响应不再被关联.
func (c *Client) CancelObserve(req *Request) error {
	if req.tx == nil {
		return errors.New("coap: request not executed")
	}
	req.Cancel()

	dereg := &Request{
		Method:     GET,
		Options:    req.Options.clone(),
		URL:        req.URL,
		Payload:    nil,
		RemoteAddr: req.tx.Peer,
	}
	dereg.Options.Set(Observe, 1)
	dereg.SetToken(req.Token)
	if err := c.Execute(dereg); err != nil {
		return err
	}
	dereg.Cancel()
	return nil
}

// Ping 发送空CON消息, 对端以RST回应.
func (c *Client) Ping(ctx context.Context, urlstr string) (bool, error) {
	req, err := NewRequest(true, 0, urlstr, nil)
	if err != nil {
		return false, err
	}
	req.Options = nil
	req.SetToken("")
	if err = c.Execute(req); err != nil {
		return false, err
	}
	resp, err := req.ReceiveResponse(ctx)
	if err != nil {
		return false, err
	}
	state, _ := req.TransactionState()
	if resp != nil || state != Completed {
		req.Cancel()
		return false, nil
	}
	return true, nil
}

// Close 关闭客户端.
func (c *Client) Close() error {
	return c.comm.Close()
}
