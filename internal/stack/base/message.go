package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// 消息格式
/*
	|       0       |       1       |       2       |       3       |
	|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|Ver| T |  TKL  |      Code     |          Message ID           |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Token (if any, TKL bytes) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Options (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|1 1 1 1 1 1 1 1|    Payload (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

// option格式
/*
	 7   6   5   4   3   2   1   0
	+---------------+---------------+
	|  Option Delta | Option Length |   1 byte
	+---------------+---------------+
	/         Option Delta          /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Length         /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Value          /   0 or more bytes
	+-------------------------------+
*/

// Version 协议版本
const Version = 1

// MaxTokenLen 令牌最大长度
const MaxTokenLen = 8

const payloadMarker = 0xff

// 消息类型
const (
	CON = 0
	NON = 1
	ACK = 2
	RST = 3
)

var typeNames = [256]string{
	CON: "Confirmable",
	NON: "NonConfirmable",
	ACK: "Acknowledgement",
	RST: "Reset",
}

func init() {
	for i := range typeNames {
		if typeNames[i] == "" {
			typeNames[i] = fmt.Sprintf("Unknown (0x%x)", i)
		}
	}
}

// TypeName 返回消息类型名称.
func TypeName(t uint8) string {
	return typeNames[t]
}

// Request Codes
const (
	GET    = 0<<5 | 1
	POST   = 0<<5 | 2
	PUT    = 0<<5 | 3
	DELETE = 0<<5 | 4
)

// Responses Codes
const (
	Created = 2<<5 | 1
	Deleted = 2<<5 | 2
	Valid   = 2<<5 | 3
	Changed = 2<<5 | 4
	Content = 2<<5 | 5

	BadRequest               = 4<<5 | 0
	Unauthorized             = 4<<5 | 1
	BadOption                = 4<<5 | 2
	Forbidden                = 4<<5 | 3
	NotFound                 = 4<<5 | 4
	MethodNotAllowed         = 4<<5 | 5
	NotAcceptable            = 4<<5 | 6
	PreconditionFailed       = 4<<5 | 12
	RequestEntityTooLarge    = 4<<5 | 13
	UnsupportedContentFormat = 4<<5 | 15

	InternalServerError  = 5<<5 | 0
	NotImplemented       = 5<<5 | 1
	BadGateway           = 5<<5 | 2
	ServiceUnavailable   = 5<<5 | 3
	GatewayTimeout       = 5<<5 | 4
	ProxyingNotSupported = 5<<5 | 5
)

var codeNames = [256]string{
	0:                        "Empty",
	GET:                      "GET",
	POST:                     "POST",
	PUT:                      "PUT",
	DELETE:                   "DELETE",
	Created:                  "Created",
	Deleted:                  "Deleted",
	Valid:                    "Valid",
	Changed:                  "Changed",
	Content:                  "Content",
	BadRequest:               "BadRequest",
	Unauthorized:             "Unauthorized",
	BadOption:                "BadOption",
	Forbidden:                "Forbidden",
	NotFound:                 "NotFound",
	MethodNotAllowed:         "MethodNotAllowed",
	NotAcceptable:            "NotAcceptable",
	PreconditionFailed:       "PreconditionFailed",
	RequestEntityTooLarge:    "RequestEntityTooLarge",
	UnsupportedContentFormat: "UnsupportedContentFormat",
	InternalServerError:      "InternalServerError",
	NotImplemented:           "NotImplemented",
	BadGateway:               "BadGateway",
	ServiceUnavailable:       "ServiceUnavailable",
	GatewayTimeout:           "GatewayTimeout",
	ProxyingNotSupported:     "ProxyingNotSupported",
}

func init() {
	for i := range codeNames {
		if codeNames[i] == "" {
			codeNames[i] = fmt.Sprintf("%d.%02d", i>>5, i&0x1f)
		}
	}
}

// CodeName 返回消息码名称.
func CodeName(c uint8) string {
	return codeNames[c]
}

type fixHeader struct {
	Flags     uint8
	Code      uint8
	MessageID uint16
}

// Option COAP消息选项
type Option struct {
	ID    uint16
	Value interface{}
}

// Message COAP消息
type Message struct {
	Type      uint8
	Code      uint8
	MessageID uint16
	Token     string
	Options   []Option
	Payload   []byte
}

func (m Message) String() string {
	if len(m.Token) <= 0 {
		return fmt.Sprintf("%s,%s,%d", TypeName(m.Type), CodeName(m.Code), m.MessageID)
	}
	return fmt.Sprintf("%s,%s,%d,%s", TypeName(m.Type), CodeName(m.Code), m.MessageID, TokenString(m.Token))
}

// TokenString 以十六进制形式输出令牌.
func TokenString(token string) string {
	var buf bytes.Buffer
	for _, b := range []byte(token) {
		fmt.Fprintf(&buf, "%02x", b)
	}
	return buf.String()
}

// IsEmpty 空消息(0.00)
func (m *Message) IsEmpty() bool {
	return m.Code == 0
}

// IsRequest 请求消息(0.01-0.31)
func (m *Message) IsRequest() bool {
	return m.Code != 0 && m.Code>>5 == 0
}

// IsResponse 响应消息(2.xx-5.xx)
func (m *Message) IsResponse() bool {
	c := m.Code >> 5
	return c >= 2 && c <= 5
}

func (m *Message) AddOption(id uint16, v interface{}) {
	m.Options = append(m.Options, Option{ID: id, Value: v})
}

func (m *Message) DelOption(id uint16) {
	options := make([]Option, 0, len(m.Options))
	for _, o := range m.Options {
		if o.ID != id {
			options = append(options, o)
		}
	}
	m.Options = options
}

func (m *Message) SetOption(id uint16, v interface{}) {
	m.DelOption(id)
	m.AddOption(id, v)
}

func (m *Message) GetOption(id uint16) interface{} {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value
		}
	}
	return nil
}

func (m *Message) GetOptions(id uint16) (values []interface{}) {
	for _, o := range m.Options {
		if o.ID == id {
			values = append(values, o.Value)
		}
	}
	return values
}

// Marshal 编码消息, 选项按编号稳定升序排列.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > MaxTokenLen {
		return nil, errors.Errorf("token too long: %d", len(m.Token))
	}
	if m.Type > RST {
		return nil, errors.Errorf("invalid message type: %d", m.Type)
	}

	var buf bytes.Buffer

	// header
	h := fixHeader{
		Flags:     Version<<6 | m.Type<<4 | uint8(len(m.Token)),
		Code:      m.Code,
		MessageID: m.MessageID,
	}
	if err := binary.Write(&buf, binary.BigEndian, h); err != nil {
		return nil, err
	}

	// token
	buf.WriteString(m.Token)

	// options
	options := make([]Option, len(m.Options))
	copy(options, m.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].ID < options[j].ID
	})
	var prev uint16
	enc := optionEncoder{w: &buf}
	for _, opt := range options {
		data, err := optionValueToBytes(opt.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "option %s", OptionName(opt.ID))
		}
		if err = enc.Encode(uint32(opt.ID-prev), data); err != nil {
			return nil, err
		}
		prev = opt.ID
	}

	// payload
	if len(m.Payload) > 0 {
		buf.WriteByte(payloadMarker)
		buf.Write(m.Payload)
	}

	return buf.Bytes(), nil
}

// Unmarshal 解码消息.
//
// 消息格式错误时返回MessageFormatError; 若消息中包含无法识别的关键选项,
// 消息的其余部分仍会被解码, 并返回BadOptionsError.
func (m *Message) Unmarshal(data []byte) (err error) {
	if len(data) < 4 {
		return newFormatError("short packet")
	}

	buf := bytes.NewBuffer(data)

	// header
	var h fixHeader
	if err = binary.Read(buf, binary.BigEndian, &h); err != nil {
		return newFormatError(err.Error())
	}
	if v := h.Flags >> 6; v != Version {
		return newFormatError(fmt.Sprintf("invalid version %d", v))
	}
	m.Type = (h.Flags >> 4) & 0x3
	m.Code = h.Code
	m.MessageID = h.MessageID

	// token
	tokenLen := int(h.Flags & 0x0f)
	if tokenLen > MaxTokenLen {
		return newFormatError(fmt.Sprintf("invalid token length %d", tokenLen))
	}
	if buf.Len() < tokenLen {
		return newFormatError("truncated token")
	}
	if tokenLen > 0 {
		m.Token = string(buf.Next(tokenLen))
	}

	if m.IsEmpty() {
		if tokenLen > 0 || buf.Len() > 0 {
			return newFormatError("empty message with token, options or payload")
		}
		return nil
	}
	if c := m.Code >> 5; c == 1 || c == 6 || c == 7 {
		return newFormatError(fmt.Sprintf("reserved code class %d", c))
	}

	// options
	var prev uint32
	var badOptions []uint16
	repeats := make(map[uint16]int)
	dec := optionDecoder{r: buf}
	for buf.Len() > 0 {
		flag, _ := buf.ReadByte()
		if flag == payloadMarker {
			if buf.Len() <= 0 {
				return newFormatError("payload marker with empty payload")
			}
			break
		}
		delta, value, err := dec.Decode(flag)
		if err != nil {
			return newFormatError(err.Error())
		}
		if prev+delta > math.MaxUint16 {
			return newFormatError("option number decreasing")
		}
		id := uint16(prev + delta)
		prev = uint32(id)

		repeats[id]++
		if !recognize(id, value, repeats[id]) {
			if Critical(id) {
				badOptions = append(badOptions, id)
				m.Options = append(m.Options, Option{ID: id, Value: bytesToOptionValue(id, value)})
			}
			continue
		}
		m.Options = append(m.Options, Option{ID: id, Value: bytesToOptionValue(id, value)})
	}

	// payload
	if buf.Len() > 0 {
		m.Payload = make([]byte, buf.Len())
		copy(m.Payload, buf.Bytes())
	}

	if len(badOptions) > 0 {
		return badOptionsError{options: badOptions}
	}
	return nil
}

func encodeUint8(v uint8) []byte {
	return []byte{v}
}

func encodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func encodeUint24(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b[1:]
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeUintVariant(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 256:
		return encodeUint8(uint8(v))
	case v < 65536:
		return encodeUint16(uint16(v))
	case v < 16777216:
		return encodeUint24(v)
	default:
		return encodeUint32(v)
	}
}

func decodeUintVariant(b []byte) uint32 {
	if len(b) > 4 {
		b = b[len(b)-4:]
	}
	data := make([]byte, 4)
	copy(data[4-len(b):], b)
	return binary.BigEndian.Uint32(data)
}

func optionValueToBytes(v interface{}) ([]byte, error) {
	var u uint64
	switch tv := v.(type) {
	case string:
		return []byte(tv), nil
	case []byte:
		return tv, nil
	case struct{}, nil:
		return nil, nil
	case uint8:
		u = uint64(tv)
	case uint16:
		u = uint64(tv)
	case uint32:
		u = uint64(tv)
	case uint64:
		u = tv
	case uint:
		u = uint64(tv)
	case int8, int16, int32, int64, int:
		n := toInt64(tv)
		if n < 0 {
			return nil, errors.Errorf("negative option value %d", n)
		}
		u = uint64(n)
	default:
		return nil, errors.Errorf("unsupport option value type %T", v)
	}
	if u > math.MaxUint32 {
		return nil, errors.Errorf("option value %d overflow", u)
	}
	return encodeUintVariant(uint32(u)), nil
}

func toInt64(v interface{}) int64 {
	switch tv := v.(type) {
	case int8:
		return int64(tv)
	case int16:
		return int64(tv)
	case int32:
		return int64(tv)
	case int64:
		return tv
	case int:
		return int64(tv)
	}
	return 0
}

func bytesToOptionValue(id uint16, buf []byte) interface{} {
	def, ok := optionDefs[id]
	if !ok {
		return buf
	}
	switch def.format {
	case EmptyValue:
		return struct{}{}
	case UintValue:
		return decodeUintVariant(buf)
	case StringValue:
		return string(buf)
	case OpaqueValue:
		if buf == nil {
			return []byte{}
		}
		return buf
	}
	return buf
}

type encodeWriter interface {
	io.Writer
	io.ByteWriter
}

type decodeReader interface {
	io.Reader
	io.ByteReader
}

type optionEncoder struct {
	w encodeWriter
}

func (e *optionEncoder) Encode(delta uint32, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	length := uint32(len(value))
	high, de := e.encodeHeader(delta)
	low, le := e.encodeHeader(length)
	e.writeByte(high<<4 | low)
	e.write(de)
	e.write(le)
	e.write(value)
	return nil
}

func (e *optionEncoder) writeByte(b byte) {
	if err := e.w.WriteByte(b); err != nil {
		panic(err)
	}
}

func (e *optionEncoder) write(p []byte) {
	if len(p) <= 0 {
		return
	}
	if _, err := e.w.Write(p); err != nil {
		panic(err)
	}
}

func (e *optionEncoder) encodeHeader(h uint32) (uint8, []byte) {
	if h < 13 {
		return uint8(h), nil
	} else if h < 269 {
		return 13, encodeUint8(uint8(h - 13))
	} else if h < 269+65536 {
		return 14, encodeUint16(uint16(h - 269))
	}
	panic(errors.Errorf("encode option: invalid header(%d)", h))
}

type optionDecoder struct {
	r decodeReader
}

func (d *optionDecoder) Decode(flag byte) (delta uint32, value []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	low := uint32(flag & 0x0f)
	high := uint32(flag >> 4)
	delta = d.decodeHeader(high)
	length := d.decodeHeader(low)
	value = d.readValue(length)
	return delta, value, nil
}

func (d *optionDecoder) readValue(n uint32) []byte {
	if n <= 0 {
		return nil
	}
	value := make([]byte, n)
	if _, err := io.ReadFull(d.r, value); err != nil {
		panic(errors.New("truncated option value"))
	}
	return value
}

func (d *optionDecoder) decodeHeader(h uint32) uint32 {
	if h < 13 {
		return h
	} else if h == 13 {
		return 13 + d.decodeUint8()
	} else if h == 14 {
		return 269 + d.decodeUint16()
	}
	panic(errors.Errorf("decode option: reserved nibble(%d)", h))
}

func (d *optionDecoder) decodeUint8() uint32 {
	x, err := d.r.ReadByte()
	if err != nil {
		panic(errors.New("truncated option header"))
	}
	return uint32(x)
}

func (d *optionDecoder) decodeUint16() uint32 {
	b := make([]byte, 2)
	if _, err := io.ReadFull(d.r, b); err != nil {
		panic(errors.New("truncated option header"))
	}
	return uint32(binary.BigEndian.Uint16(b))
}
