package main

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ironzhang/coap/v2"
)

type optionView struct {
	Name  string      `yaml:"name"`
	Value interface{} `yaml:"value"`
}

type responseView struct {
	Type      string       `yaml:"type"`
	Status    string       `yaml:"status"`
	MessageID uint16       `yaml:"message_id"`
	Token     string       `yaml:"token"`
	RTT       string       `yaml:"rtt,omitempty"`
	Options   []optionView `yaml:"options,omitempty"`
	Payload   string       `yaml:"payload,omitempty"`
}

type linkView struct {
	Href        string `yaml:"href"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	ContentType *int   `yaml:"ct,omitempty"`
	MaxSize     *int   `yaml:"sz,omitempty"`
	Observable  bool   `yaml:"obs,omitempty"`
}

func newResponseView(resp *coap.Response) responseView {
	v := responseView{
		Type:      resp.Type.String(),
		Status:    resp.Status.String(),
		MessageID: resp.MessageID,
		Token:     coap.TokenString(resp.Token),
		Payload:   string(resp.Payload),
	}
	if resp.RTT > 0 {
		v.RTT = resp.RTT.String()
	}
	for _, o := range resp.Options {
		value := o.Value
		if b, ok := value.([]byte); ok {
			value = fmt.Sprintf("%x", b)
		}
		v.Options = append(v.Options, optionView{Name: coap.OptionID(o.ID).String(), Value: value})
	}
	return v
}

func newLinkViews(links []coap.Link) []linkView {
	views := make([]linkView, len(links))
	for i, l := range links {
		views[i] = linkView{Href: l.Path, Name: l.Name, Description: l.Description, Observable: l.Observable}
		if l.ContentType >= 0 {
			ct := l.ContentType
			views[i].ContentType = &ct
		}
		if l.MaxSize >= 0 {
			sz := l.MaxSize
			views[i].MaxSize = &sz
		}
	}
	return views
}

// printer 按输出格式打印响应及资源列表
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &printer{w: w, format: "text"}, nil
	case "yaml":
		return &printer{w: w, format: "yaml"}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

func (p *printer) encodeYAML(v interface{}) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (p *printer) Request(req *coap.Request) {
	if p.format == "text" {
		coap.PrintRequest(p.w, req, true)
		fmt.Fprintln(p.w)
	}
}

func (p *printer) Response(resp *coap.Response) error {
	if p.format == "yaml" {
		return p.encodeYAML(newResponseView(resp))
	}
	coap.PrintResponse(p.w, resp, true)
	return nil
}

func (p *printer) Links(links []coap.Link) error {
	if p.format == "yaml" {
		return p.encodeYAML(newLinkViews(links))
	}
	for _, l := range links {
		fmt.Fprintln(p.w, l.String())
	}
	return nil
}
