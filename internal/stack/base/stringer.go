package base

import (
	"bytes"
	"fmt"
	"io"
)

// MessageStringer 输出消息的多行文本形式, 用于调试日志.
type MessageStringer struct {
	WritePayload func(w io.Writer, payload []byte)
}

func (p MessageStringer) MessageString(m Message) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\r\n", m.String())
	for _, o := range m.Options {
		fmt.Fprintf(&buf, "%s: %v\r\n", OptionName(o.ID), o.Value)
	}
	if len(m.Payload) > 0 {
		if p.WritePayload != nil {
			p.WritePayload(&buf, m.Payload)
		} else {
			fmt.Fprintf(&buf, "payload: %d bytes\r\n", len(m.Payload))
		}
	}
	return buf.String()
}
