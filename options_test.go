package coap

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

func OptionsString(o Options) string {
	var b bytes.Buffer
	o.Write(&b)
	return b.String()
}

func TestOptionsClone(t *testing.T) {
	tests := []struct {
		src Options
		dst Options
	}{
		{
			src: nil,
			dst: nil,
		},
		{
			src: Options{},
			dst: Options{},
		},
		{
			src: Options{
				{ID: 1, Value: []byte{0}},
			},
			dst: Options{
				{ID: 1, Value: []byte{0}},
			},
		},
		{
			src: Options{
				{ID: 11, Value: "a"},
				{ID: 11, Value: "b"},
				{ID: 12, Value: 0},
			},
			dst: Options{
				{ID: 11, Value: "a"},
				{ID: 11, Value: "b"},
				{ID: 12, Value: 0},
			},
		},
	}
	for i, tt := range tests {
		if got, want := tt.src.clone(), tt.dst; !reflect.DeepEqual(got, want) {
			t.Errorf("case%d:\ngot:\n%s\nwant:\n%s\n", i, OptionsString(got), OptionsString(want))
		}
	}

	src := Options{{ID: 4, Value: []byte{1, 2}}}
	dst := src.clone()
	dst[0].Value.([]byte)[0] = 9
	assert.Equal(t, []byte{1, 2}, src[0].Value)
}

func TestOptionsAddSetDel(t *testing.T) {
	var got Options
	got.Add(URIPath, "a")
	got.Add(ContentFormat, 0)
	got.Add(URIPath, "b")
	want := Options{
		{ID: base.URIPath, Value: "a"},
		{ID: base.ContentFormat, Value: 0},
		{ID: base.URIPath, Value: "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("\ngot:\n%s\nwant:\n%s\n", OptionsString(got), OptionsString(want))
	}

	got.Set(URIPath, "c")
	assert.Equal(t, []interface{}{"c"}, got.GetAll(URIPath))
	assert.Equal(t, 0, got.Get(ContentFormat))

	got.Del(ContentFormat)
	assert.False(t, got.Contain(ContentFormat))
	assert.Nil(t, got.Get(ContentFormat))
	assert.True(t, got.Contain(URIPath))
}

func TestOptionsPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "", want: ""},
		{path: "/", want: ""},
		{path: "/a", want: "a"},
		{path: "a/b/c", want: "a/b/c"},
		{path: "//a//b/", want: "a/b"},
	}
	for i, tt := range tests {
		var o Options
		o.SetPath(tt.path)
		if got, want := o.GetPath(), tt.want; got != want {
			t.Errorf("case%d: path: %q != %q", i, got, want)
		}
	}
}

func TestOptionsQuery(t *testing.T) {
	var o Options
	o.SetQuery("a=1&&b=2")
	assert.Equal(t, []string{"a=1", "b=2"}, o.GetStrings(URIQuery))
	assert.Equal(t, "a=1&b=2", o.GetQuery())
}

func TestOptionsGetUint(t *testing.T) {
	tests := []struct {
		value interface{}
		want  uint32
		ok    bool
	}{
		{value: uint8(1), want: 1, ok: true},
		{value: uint16(2), want: 2, ok: true},
		{value: uint32(3), want: 3, ok: true},
		{value: 4, want: 4, ok: true},
		{value: -1, want: 0, ok: false},
		{value: "5", want: 0, ok: false},
	}
	for i, tt := range tests {
		o := Options{{ID: base.Observe, Value: tt.value}}
		got, ok := o.GetUint(Observe)
		if got != tt.want || ok != tt.ok {
			t.Errorf("case%d: got (%d, %v), want (%d, %v)", i, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOptionsWrite(t *testing.T) {
	o := Options{
		{ID: base.URIQuery, Value: "a=1"},
		{ID: base.URIPath, Value: "x\ny"},
		{ID: base.ContentFormat, Value: uint32(40)},
	}
	want := "Uri-Path: x y\r\nContent-Format: 40\r\nUri-Query: a=1\r\n"
	assert.Equal(t, want, OptionsString(o))
	assert.Equal(t, uint16(base.URIQuery), o[0].ID)
}
