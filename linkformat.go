package coap

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// Link link-format中的一条资源描述.
type Link struct {
	Path        string
	Name        string
	Description string
	ContentType int // -1表示未设置
	MaxSize     int // -1表示未设置
	Observable  bool
}

// linkEntry link-format+cbor及link-format+json的编码形式
type linkEntry struct {
	Href        string `cbor:"href" json:"href"`
	Name        string `cbor:"n,omitempty" json:"n,omitempty"`
	Description string `cbor:"d,omitempty" json:"d,omitempty"`
	ContentType *int   `cbor:"ct,omitempty" json:"ct,omitempty"`
	MaxSize     *int   `cbor:"sz,omitempty" json:"sz,omitempty"`
	Observable  bool   `cbor:"obs,omitempty" json:"obs,omitempty"`
}

func intPtr(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func (l Link) entry() linkEntry {
	return linkEntry{
		Href:        l.Path,
		Name:        l.Name,
		Description: l.Description,
		ContentType: intPtr(l.ContentType),
		MaxSize:     intPtr(l.MaxSize),
		Observable:  l.Observable,
	}
}

func (e linkEntry) link() Link {
	l := Link{
		Path:        e.Href,
		Name:        e.Name,
		Description: e.Description,
		ContentType: -1,
		MaxSize:     -1,
		Observable:  e.Observable,
	}
	if e.ContentType != nil {
		l.ContentType = *e.ContentType
	}
	if e.MaxSize != nil {
		l.MaxSize = *e.MaxSize
	}
	return l
}

// String 输出一条link-format记录.
func (l Link) String() string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(l.Path)
	b.WriteString(">")
	if l.Name != "" {
		b.WriteString(";n=")
		b.WriteString(strconv.Quote(l.Name))
	}
	if l.Description != "" {
		b.WriteString(";d=")
		b.WriteString(strconv.Quote(l.Description))
	}
	if l.ContentType >= 0 {
		b.WriteString(";ct=")
		b.WriteString(strconv.Itoa(l.ContentType))
	}
	if l.MaxSize >= 0 {
		b.WriteString(";sz=")
		b.WriteString(strconv.Itoa(l.MaxSize))
	}
	if l.Observable {
		b.WriteString(";obs")
	}
	return b.String()
}

// Links 先序遍历后代节点, 跳过隐藏节点但仍访问其子节点, 路径相对于r.
func (r *Resource) Links() []Link {
	t := r.rlockTree()
	defer t.mu.RUnlock()
	var links []Link
	r.collectLinksLocked(r, &links)
	return links
}

func (r *Resource) collectLinksLocked(base *Resource, links *[]Link) {
	for _, c := range r.childrenLocked() {
		c.mu.RLock()
		if !c.hidden {
			*links = append(*links, Link{
				Path:        c.relativePathLocked(base),
				Name:        c.name,
				Description: c.description,
				ContentType: c.contentType,
				MaxSize:     c.maxSize,
				Observable:  c.observable,
			})
		}
		c.mu.RUnlock()
		c.collectLinksLocked(base, links)
	}
}

// ToLinkFormat 输出子树的link-format.
func (r *Resource) ToLinkFormat() string {
	return FormatLinks(r.Links())
}

// FormatLinks 以','连接各条记录.
func FormatLinks(links []Link) string {
	ss := make([]string, len(links))
	for i, l := range links {
		ss[i] = l.String()
	}
	return strings.Join(ss, ",")
}

// ParseLinkFormat 解析link-format, 忽略未知属性.
func ParseLinkFormat(s string) ([]Link, error) {
	var links []Link
	for _, entry := range splitQuoted(s, ',') {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		l, err := parseLink(entry)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

func parseLink(entry string) (Link, error) {
	parts := splitQuoted(entry, ';')
	target := strings.TrimSpace(parts[0])
	target = strings.TrimPrefix(target, "<")
	target = strings.TrimSuffix(target, ">")
	target = strings.TrimPrefix(target, "/")
	if target == "" {
		return Link{}, errors.Errorf("link %q: empty target", entry)
	}

	l := Link{Path: "/" + target, ContentType: -1, MaxSize: -1}
	for _, attr := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(attr), "=")
		value = unquote(value)
		switch key {
		case "n":
			l.Name = value
		case "d":
			l.Description = value
		case "ct":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Link{}, errors.Wrapf(err, "link %q: ct", entry)
			}
			l.ContentType = n
		case "sz":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Link{}, errors.Wrapf(err, "link %q: sz", entry)
			}
			l.MaxSize = n
		case "obs":
			l.Observable = true
		}
	}
	return l, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// splitQuoted 按sep切分, 忽略引号内的分隔符.
func splitQuoted(s string, sep byte) []string {
	var parts []string
	quoted, escaped := false, false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == sep && !quoted:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// AddLinks 按描述创建节点并设置属性.
func (r *Resource) AddLinks(links []Link) error {
	for _, l := range links {
		res, err := r.SubResource(l.Path, true)
		if err != nil {
			return err
		}
		res.mu.Lock()
		res.name = l.Name
		res.description = l.Description
		res.contentType = l.ContentType
		res.maxSize = l.MaxSize
		res.observable = l.Observable
		res.mu.Unlock()
	}
	return nil
}

// AddLinkFormat 解析link-format并在r下创建对应的节点.
func (r *Resource) AddLinkFormat(s string) error {
	links, err := ParseLinkFormat(s)
	if err != nil {
		return err
	}
	return r.AddLinks(links)
}

// NewRoot 由link-format构造资源树.
func NewRoot(linkFormat string) (*Resource, error) {
	root := NewResource("", nil)
	root.SetName("root")
	if err := root.AddLinkFormat(linkFormat); err != nil {
		return nil, err
	}
	return root, nil
}

// MarshalLinksCBOR 编码为application/link-format+cbor.
func MarshalLinksCBOR(links []Link) ([]byte, error) {
	entries := make([]linkEntry, len(links))
	for i, l := range links {
		entries[i] = l.entry()
	}
	return cbor.Marshal(entries)
}

// UnmarshalLinksCBOR 解码application/link-format+cbor.
func UnmarshalLinksCBOR(data []byte) ([]Link, error) {
	var entries []linkEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, errors.WithMessage(err, "decode link-format+cbor")
	}
	return entryLinks(entries), nil
}

// MarshalLinksJSON 编码为application/link-format+json.
func MarshalLinksJSON(links []Link) ([]byte, error) {
	entries := make([]linkEntry, len(links))
	for i, l := range links {
		entries[i] = l.entry()
	}
	return json.Marshal(entries)
}

// UnmarshalLinksJSON 解码application/link-format+json.
func UnmarshalLinksJSON(data []byte) ([]Link, error) {
	var entries []linkEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.WithMessage(err, "decode link-format+json")
	}
	return entryLinks(entries), nil
}

func entryLinks(entries []linkEntry) []Link {
	links := make([]Link, len(entries))
	for i, e := range entries {
		links[i] = e.link()
	}
	return links
}
