package base

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MessageFormatError 消息格式错误
type MessageFormatError interface {
	error
	FormatError() bool
}

// BadOptionsError 消息包含无法识别的关键选项
type BadOptionsError interface {
	error
	BadOptions() bool
}

type formatError struct {
	reason string
}

func newFormatError(reason string) error {
	return formatError{reason: reason}
}

func (e formatError) Error() string {
	return "message format error: " + e.reason
}

func (e formatError) FormatError() bool {
	return true
}

type badOptionsError struct {
	options []uint16
}

func (e badOptionsError) Error() string {
	names := make([]string, 0, len(e.options))
	for _, id := range e.options {
		names = append(names, OptionName(id))
	}
	return fmt.Sprintf("unrecognized critical options: %s", strings.Join(names, ","))
}

func (e badOptionsError) BadOptions() bool {
	return true
}

// IsFormatError 判断err是否为消息格式错误.
func IsFormatError(err error) bool {
	var e MessageFormatError
	return errors.As(err, &e) && e.FormatError()
}

// IsBadOptions 判断err是否为无法识别关键选项的错误.
func IsBadOptions(err error) bool {
	var e BadOptionsError
	return errors.As(err, &e) && e.BadOptions()
}
