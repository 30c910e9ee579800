package coap

import (
	"fmt"
	"io"
	"strings"
)

// PrintRequest 输出请求的文本形式, 首行为"类型 方法 URL"及消息ID与Token.
func PrintRequest(w io.Writer, r *Request, body bool) {
	typ := NON
	if r.Confirmable {
		typ = CON
	}
	var target string
	switch {
	case r.URL != nil:
		target = r.URL.String()
	case r.RemoteAddr != nil:
		target = r.RemoteAddr.String()
	}
	fmt.Fprintf(w, "%s %s %s%s\n", typ, r.Method, target, messageFields(r.MessageID, r.Token))
	r.Options.Write(w)
	writePayload(w, r.Payload, body)
}

// PrintResponse 输出响应的文本形式, 空ACK的状态码显示为Empty.
func PrintResponse(w io.Writer, r *Response, body bool) {
	fields := messageFields(r.MessageID, r.Token)
	if r.RemoteAddr != nil {
		fields += " from=" + r.RemoteAddr.String()
	}
	if r.RTT > 0 {
		fields += " rtt=" + r.RTT.String()
	}
	fmt.Fprintf(w, "%s %s%s\n", r.Type, r.Status, fields)
	r.Options.Write(w)
	writePayload(w, r.Payload, body)
}

func messageFields(mid uint16, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, " mid=%d", mid)
	if token != "" {
		b.WriteString(" token=" + TokenString(token))
	}
	return b.String()
}

func writePayload(w io.Writer, payload []byte, body bool) {
	if body && len(payload) > 0 {
		fmt.Fprintf(w, "\n%s\n", payload)
	}
}
