package coap

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ironzhang/coap/v2/internal/stack/base"
)

// Options 消息选项列表, 同一编号可重复出现, 保持添加顺序.
type Options []base.Option

func (options Options) clone() Options {
	if options == nil {
		return nil
	}
	cloneOptions := make(Options, len(options))
	for i, o := range options {
		if b, ok := o.Value.([]byte); ok {
			o.Value = append([]byte{}, b...)
		}
		cloneOptions[i] = o
	}
	return cloneOptions
}

// Add 追加一个选项值.
func (options *Options) Add(id OptionID, v interface{}) {
	*options = append(*options, base.Option{ID: uint16(id), Value: v})
}

// Set 替换指定编号的所有选项值.
func (options *Options) Set(id OptionID, v interface{}) {
	options.Del(id)
	options.Add(id, v)
}

// Del 删除指定编号的所有选项值.
func (options *Options) Del(id OptionID) {
	results := make(Options, 0, len(*options))
	for _, o := range *options {
		if o.ID != uint16(id) {
			results = append(results, o)
		}
	}
	*options = results
}

// Get 返回指定编号的第一个选项值, 不存在时返回nil.
func (options Options) Get(id OptionID) interface{} {
	for _, o := range options {
		if o.ID == uint16(id) {
			return o.Value
		}
	}
	return nil
}

// GetAll 按顺序返回指定编号的所有选项值.
func (options Options) GetAll(id OptionID) []interface{} {
	var values []interface{}
	for _, o := range options {
		if o.ID == uint16(id) {
			values = append(values, o.Value)
		}
	}
	return values
}

// Contain 是否包含指定编号的选项.
func (options Options) Contain(id OptionID) bool {
	for _, o := range options {
		if o.ID == uint16(id) {
			return true
		}
	}
	return false
}

// GetString 返回字符串格式的选项值.
func (options Options) GetString(id OptionID) (string, bool) {
	switch v := options.Get(id).(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

// GetStrings 返回指定编号的所有字符串选项值.
func (options Options) GetStrings(id OptionID) []string {
	var ss []string
	for _, v := range options.GetAll(id) {
		switch s := v.(type) {
		case string:
			ss = append(ss, s)
		case []byte:
			ss = append(ss, string(s))
		}
	}
	return ss
}

// GetUint 返回整数格式的选项值.
func (options Options) GetUint(id OptionID) (uint32, bool) {
	switch v := options.Get(id).(type) {
	case uint8:
		return uint32(v), true
	case uint16:
		return uint32(v), true
	case uint32:
		return v, true
	case uint64:
		return uint32(v), true
	case uint:
		return uint32(v), true
	case int:
		if v >= 0 {
			return uint32(v), true
		}
	case int32:
		if v >= 0 {
			return uint32(v), true
		}
	case int64:
		if v >= 0 {
			return uint32(v), true
		}
	}
	return 0, false
}

// SetStrings 替换指定编号的选项为字符串序列.
func (options *Options) SetStrings(id OptionID, ss []string) {
	options.Del(id)
	for _, s := range ss {
		options.Add(id, s)
	}
}

// GetPath 以'/'连接所有Uri-Path选项.
func (options Options) GetPath() string {
	return strings.Join(options.GetStrings(URIPath), "/")
}

// SetPath 按'/'切分路径设置Uri-Path选项, 忽略空段.
func (options *Options) SetPath(path string) {
	options.SetStrings(URIPath, splitPath(path))
}

// GetQuery 以'&'连接所有Uri-Query选项.
func (options Options) GetQuery() string {
	return strings.Join(options.GetStrings(URIQuery), "&")
}

// SetQuery 按'&'切分查询串设置Uri-Query选项.
func (options *Options) SetQuery(query string) {
	var ss []string
	for _, s := range strings.Split(query, "&") {
		if s != "" {
			ss = append(ss, s)
		}
	}
	options.SetStrings(URIQuery, ss)
}

// ContentFormat 返回Content-Format选项.
func (options Options) ContentFormat() (MediaType, bool) {
	v, ok := options.GetUint(ContentFormat)
	return MediaType(v), ok
}

// ObserveSeq 返回Observe选项.
func (options Options) ObserveSeq() (uint32, bool) {
	return options.GetUint(Observe)
}

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// Write 按选项编号顺序逐行输出.
func (options Options) Write(w io.Writer) error {
	sorted := options.clone()
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	for _, o := range sorted {
		name := OptionID(o.ID).String()
		var err error
		if s, ok := o.Value.(string); ok {
			_, err = fmt.Fprintf(w, "%s: %s\r\n", name, headerNewlineToSpace.Replace(s))
		} else {
			_, err = fmt.Fprintf(w, "%s: %v\r\n", name, o.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) []string {
	var ss []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			ss = append(ss, s)
		}
	}
	return ss
}
