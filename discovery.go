package coap

import (
	"strconv"
	"strings"
)

// WellKnownCore 资源发现路径
const WellKnownCore = "/.well-known/core"

// DiscoveryHandler 以link-format列出资源树, 支持按属性过滤.
type DiscoveryHandler struct {
	ReadOnlyHandler
	Root *Resource
}

func (h DiscoveryHandler) PerformGet(req *Request) {
	links := filterLinks(h.Root.Links(), req.Options.GetStrings(URIQuery))

	accept := AppLinkFormat
	if v, ok := req.Options.GetUint(Accept); ok {
		accept = MediaType(v)
	}

	var payload []byte
	var err error
	switch accept {
	case AppLinkFormat:
		payload = []byte(FormatLinks(links))
	case AppLinkFormatCBOR:
		payload, err = MarshalLinksCBOR(links)
	case AppLinkFormatJSON:
		payload, err = MarshalLinksJSON(links)
	default:
		req.Respond(NewResponse(NotAcceptable))
		return
	}
	if err != nil {
		h.Root.logger().Warnf("encode links: %v", err)
		req.Respond(NewResponse(InternalServerError))
		return
	}
	req.RespondWith(Content, accept, payload)
}

// filterLinks 按"属性=值"过滤, 值以'*'结尾时按前缀匹配.
func filterLinks(links []Link, queries []string) []Link {
	if len(queries) == 0 {
		return links
	}
	var results []Link
	for _, l := range links {
		if matchLink(l, queries) {
			results = append(results, l)
		}
	}
	return results
}

func matchLink(l Link, queries []string) bool {
	for _, q := range queries {
		key, pattern, _ := strings.Cut(q, "=")
		var values []string
		switch key {
		case "href":
			values = []string{l.Path}
		case "n":
			values = []string{l.Name}
		case "d":
			values = []string{l.Description}
		case "ct":
			if l.ContentType >= 0 {
				values = []string{strconv.Itoa(l.ContentType)}
			}
		case "sz":
			if l.MaxSize >= 0 {
				values = []string{strconv.Itoa(l.MaxSize)}
			}
		case "obs":
			if !l.Observable {
				return false
			}
			continue
		default:
			continue
		}
		if !matchAny(values, pattern) {
			return false
		}
	}
	return true
}

func matchAny(values []string, pattern string) bool {
	for _, v := range values {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(v, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		} else if v == pattern {
			return true
		}
	}
	return false
}

// addWellKnownCore 在根节点下挂载隐藏的/.well-known/core.
func addWellKnownCore(root *Resource) *Resource {
	wellKnown := NewResource(".well-known", ReadOnlyHandler{})
	wellKnown.SetHidden(true)
	core := NewResource("core", DiscoveryHandler{Root: root})
	core.SetHidden(true)
	core.SetContentType(int(AppLinkFormat))
	wellKnown.AddSubResource(core)
	root.AddSubResource(wellKnown)
	return core
}
