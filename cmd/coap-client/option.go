package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ironzhang/coap/v2"
	"github.com/ironzhang/coap/v2/internal/stack/base"
)

type option struct {
	id    coap.OptionID
	value interface{}
}

func makeOption(format int, id uint16, value string) (option, error) {
	switch format {
	case base.EmptyValue:
		return option{id: coap.OptionID(id)}, nil
	case base.UintValue:
		u, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return option{}, err
		}
		return option{id: coap.OptionID(id), value: uint32(u)}, nil
	case base.StringValue:
		return option{id: coap.OptionID(id), value: value}, nil
	case base.OpaqueValue:
		return option{id: coap.OptionID(id), value: []byte(value)}, nil
	default:
		return option{}, fmt.Errorf("unsupport option format: %d", format)
	}
}

// splitOption 以第一个':'切分选项名与值, 值中可以包含':'.
func splitOption(s string) (string, string) {
	name, value, _ := strings.Cut(s, ":")
	return strings.TrimSpace(name), strings.TrimSpace(value)
}

// parseNameOption 解析"Name:value"形式的已注册选项.
func parseNameOption(s string) (option, error) {
	name, value := splitOption(s)
	id, format, ok := base.LookupOptionByName(name)
	if !ok {
		return option{}, fmt.Errorf("not found option define: %s", name)
	}
	return makeOption(format, id, value)
}

// parseIDOption 解析"id:value"形式的选项, 值按format解释.
func parseIDOption(format int, s string) (option, error) {
	name, value := splitOption(s)
	id, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return option{}, err
	}
	return makeOption(format, uint16(id), value)
}

type optionFlags struct {
	named  []string
	empty  []string
	uints  []string
	str    []string
	opaque []string
}

func (f *optionFlags) apply(opts *coap.Options) error {
	for _, s := range f.named {
		opt, err := parseNameOption(s)
		if err != nil {
			return err
		}
		opts.Add(opt.id, opt.value)
	}
	groups := []struct {
		format int
		ss     []string
	}{
		{base.EmptyValue, f.empty},
		{base.UintValue, f.uints},
		{base.StringValue, f.str},
		{base.OpaqueValue, f.opaque},
	}
	for _, g := range groups {
		for _, s := range g.ss {
			opt, err := parseIDOption(g.format, s)
			if err != nil {
				return err
			}
			opts.Add(opt.id, opt.value)
		}
	}
	return nil
}
