package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ironzhang/coap/v2"
)

func TestParseOption(t *testing.T) {
	tests := []struct {
		s     string
		id    coap.OptionID
		value interface{}
		err   bool
	}{
		{s: "Uri-Path:a", id: coap.URIPath, value: "a"},
		{s: "content-format: 50", id: coap.ContentFormat, value: uint32(50)},
		{s: "Proxy-Uri:coap://h:5683/x", id: coap.ProxyURI, value: "coap://h:5683/x"},
		{s: "If-None-Match", id: coap.IfNoneMatch, value: nil},
		{s: "Content-Format:json", err: true},
		{s: "Unknown:1", err: true},
	}
	for i, tt := range tests {
		opt, err := parseNameOption(tt.s)
		if tt.err {
			if err == nil {
				t.Errorf("case%d: parse %q: expected error", i, tt.s)
			}
			continue
		}
		if err != nil {
			t.Fatalf("case%d: parse %q: %v", i, tt.s, err)
		}
		if got, want := opt.id, tt.id; got != want {
			t.Errorf("case%d: id: %v != %v", i, got, want)
		}
		if got, want := opt.value, tt.value; !assert.ObjectsAreEqual(want, got) {
			t.Errorf("case%d: value: %v != %v", i, got, want)
		}
	}
}

func TestOptionFlags(t *testing.T) {
	f := optionFlags{
		named:  []string{"Accept:40"},
		empty:  []string{"5"},
		uints:  []string{"14:60"},
		str:    []string{"15:a=1"},
		opaque: []string{"4:tag"},
	}
	var opts coap.Options
	require.NoError(t, f.apply(&opts))
	v, ok := opts.GetUint(coap.Accept)
	assert.True(t, ok)
	assert.Equal(t, uint32(40), v)
	assert.True(t, opts.Contain(coap.IfNoneMatch))
	v, _ = opts.GetUint(coap.MaxAge)
	assert.Equal(t, uint32(60), v)
	assert.Equal(t, "a=1", opts.GetQuery())
	assert.Equal(t, []byte("tag"), opts.Get(coap.ETag))

	f = optionFlags{uints: []string{"x:1"}}
	assert.Error(t, f.apply(&opts))
}

func startServer(t *testing.T) string {
	root, err := coap.NewRoot(`</sensors/temp>;n="Temp";ct=0;obs`)
	require.NoError(t, err)
	root.AddSubResource(coap.NewResource("echo", coap.ResourceHandlerFuncs{
		Post: func(req *coap.Request) {
			req.RespondWith(coap.Changed, coap.TextPlain, req.Payload)
		},
	}))
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s := coap.NewServer(root, coap.Config{})
	require.NoError(t, s.Start(conn))
	t.Cleanup(func() { s.Close() })
	return "coap://" + conn.LocalAddr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append(args, "--timeout", "2s"))
	err := cmd.Execute()
	return out.String(), err
}

func TestPostYAML(t *testing.T) {
	url := startServer(t)
	outFile := filepath.Join(t.TempDir(), "out")
	out, err := execute(t, "post", url+"/echo", "-d", "hello", "-o", "yaml", "--out-file", outFile)
	require.NoError(t, err)

	var view responseView
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, coap.ACK.String(), view.Type)
	assert.Equal(t, coap.Changed.String(), view.Status)
	assert.Equal(t, "hello", view.Payload)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDiscover(t *testing.T) {
	url := startServer(t)
	for i, format := range []string{"link", "cbor", "json"} {
		out, err := execute(t, "discover", url, "--format", format)
		if err != nil {
			t.Fatalf("case%d: discover: %v", i, err)
		}
		want := "</echo>\n</sensors>\n</sensors/temp>;n=\"Temp\";ct=0;obs\n"
		if got := out; got != want {
			t.Errorf("case%d: output: %q != %q", i, got, want)
		}
	}
}

func TestDiscoverYAML(t *testing.T) {
	url := startServer(t)
	out, err := execute(t, "discover", url, "-o", "yaml")
	require.NoError(t, err)

	var views []linkView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "/sensors/temp", views[2].Href)
	require.NotNil(t, views[2].ContentType)
	assert.Equal(t, 0, *views[2].ContentType)
	assert.True(t, views[2].Observable)
}

func TestPing(t *testing.T) {
	url := startServer(t)
	out, err := execute(t, "ping", url)
	require.NoError(t, err)
	assert.Contains(t, out, "pong from")
}

func TestBadOutputFormat(t *testing.T) {
	_, err := execute(t, "get", "coap://127.0.0.1:1/x", "-o", "xml")
	assert.Error(t, err)
}
