package coap

import (
	"net"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

type errorHandler struct {
	name              string
	conRequestHandler func(c *Communicator, peer net.Addr, m base.Message) error
	nonRequestHandler func(c *Communicator, peer net.Addr, m base.Message) error
}

func (h errorHandler) handle(c *Communicator, peer net.Addr, m base.Message, e error) {
	switch m.Type {
	case base.CON, base.NON:
		h.handleMSG(c, peer, m, e)
	default:
		c.log.Debugf("[%s] ignore %s: %v", h.name, m.String(), e)
	}
}

func (h errorHandler) handleMSG(c *Communicator, peer net.Addr, m base.Message, e error) {
	if m.Code == 0 {
		return
	}

	class := m.Code >> 5
	switch {
	case class == 0:
		h.handleRequest(c, peer, m, e)
	case class >= 2 && class <= 5:
		h.handleResponse(c, peer, m, e)
	default:
		c.log.Debugf("[%s] reserved code: %d.%02d", h.name, class, m.Code&0x1f)
	}
}

func (h errorHandler) handleRequest(c *Communicator, peer net.Addr, m base.Message, e error) {
	handler := h.nonRequestHandler
	if m.Type == base.CON {
		handler = h.conRequestHandler
	}
	if handler == nil {
		c.log.Debugf("[%s] ignore %s: %v", h.name, m.String(), e)
		return
	}
	if err := handler(c, peer, m); err != nil {
		c.log.Warnf("[%s] handle request %s: %v", h.name, m.String(), err)
	}
}

func (h errorHandler) handleResponse(c *Communicator, peer net.Addr, m base.Message, e error) {
	if m.Type == base.CON {
		if err := c.sendRST(peer, m); err != nil {
			c.log.Warnf("[%s] handle con response: %v", h.name, err)
		}
	} else {
		c.log.Debugf("[%s] ignore non response %s: %v", h.name, m.String(), e)
	}
}

func sendRSTHandler(c *Communicator, peer net.Addr, m base.Message) error {
	return c.sendRST(peer, m)
}

func sendBadOptionACKHandler(c *Communicator, peer net.Addr, m base.Message) error {
	return c.sendBadOptionACK(peer, m)
}

var messageFormatErrorHandler = errorHandler{
	name:              "messageFormatErrorHandler",
	conRequestHandler: sendRSTHandler,
}

var badOptionsErrorHandler = errorHandler{
	name:              "badOptionsErrorHandler",
	conRequestHandler: sendBadOptionACKHandler,
	nonRequestHandler: sendRSTHandler,
}

func handleError(c *Communicator, peer net.Addr, m base.Message, err error) {
	if base.IsBadOptions(err) {
		badOptionsErrorHandler.handle(c, peer, m, err)
	} else if base.IsFormatError(err) {
		messageFormatErrorHandler.handle(c, peer, m, err)
	} else {
		c.log.Debugf("unmarshal message from %s: %v", peer, err)
	}
}
