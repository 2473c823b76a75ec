// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/qwerty-iot/tox"
)

// Metadata carries transport-level facts about a message. The core treats
// these as read-only after the transport fills them in.
type Metadata struct {
	ListenerName string
	RemoteAddr   string
	DtlsIdentity string
	ReceivedAt   time.Time
	BlockSize    int
}

// Message is a decoded CoAP message. The wire codec lives outside this
// package; the runtime only sees already-parsed values.
type Message struct {
	Type      COAPType
	Code      COAPCode
	MessageID uint16
	Token     []byte

	Payload []byte

	opts options

	queryVars map[string]string
	PathVars  map[string]string

	Meta Metadata
}

func NewMessage() *Message {
	return &Message{}
}

// IsConfirmable returns true if this message is confirmable.
func (m *Message) IsConfirmable() bool {
	return m.Type == TypeConfirmable
}

// IsRequest returns true if this message carries a request method.
func (m *Message) IsRequest() bool {
	return m.Code.IsMethod()
}

// IsEmpty returns true for messages without code (ping, empty ack, reset).
func (m *Message) IsEmpty() bool {
	return m.Code == CodeEmpty
}

// Options gets all the values for the given option.
func (m *Message) Options(o OptionID) []interface{} {
	var rv []interface{}
	for _, v := range m.opts {
		if o == v.ID {
			rv = append(rv, v.Value)
		}
	}
	return rv
}

// Option gets the first value for the given option ID.
func (m *Message) Option(o OptionID) interface{} {
	for _, v := range m.opts {
		if o == v.ID {
			return v.Value
		}
	}
	return nil
}

func (m *Message) optionStrings(o OptionID) []string {
	var rv []string
	for _, v := range m.Options(o) {
		rv = append(rv, v.(string))
	}
	return rv
}

// WithOption adds an option, optionally replacing previous values.
func (m *Message) WithOption(opID OptionID, val interface{}, replace bool) *Message {
	if replace {
		m.RemoveOption(opID)
	}
	iv := reflect.ValueOf(val)
	if (iv.Kind() == reflect.Slice || iv.Kind() == reflect.Array) &&
		iv.Type().Elem().Kind() == reflect.String {
		for i := 0; i < iv.Len(); i++ {
			m.opts = append(m.opts, option{opID, iv.Index(i).Interface()})
		}
		return m
	}
	m.opts = append(m.opts, option{opID, val})
	return m
}

// RemoveOption removes all references to an option
func (m *Message) RemoveOption(opID OptionID) {
	m.opts = m.opts.Minus(opID)
}

// Observe returns the observe option value, or -1 when absent.
func (m *Message) Observe() int {
	opt := m.Option(OptObserve)
	if opt == nil {
		return -1
	}
	return tox.ToInt(opt)
}

func (m *Message) WithObserve(seq uint32) *Message {
	m.WithOption(OptObserve, seq&0xFFFFFF, true)
	return m
}

func (m *Message) ETag() []byte {
	if opt := m.Option(OptETag); opt != nil {
		if b, ok := opt.([]byte); ok {
			return b
		}
	}
	return nil
}

func (m *Message) WithETag(etag []byte) *Message {
	if etag == nil {
		return m
	}
	m.WithOption(OptETag, etag, true)
	return m
}

func (m *Message) WithMaxAge(seconds uint32) *Message {
	m.WithOption(OptMaxAge, seconds, true)
	return m
}

func (m *Message) ParseQuery() map[string]string {
	if m.queryVars != nil {
		return m.queryVars
	}
	m.queryVars = map[string]string{}

	qa := m.Options(OptURIQuery)

	for _, q := range qa {
		if qs, ok := q.(string); ok {
			ss := strings.SplitN(qs, "=", 2)
			if len(ss) == 2 {
				m.queryVars[ss[0]] = ss[1]
			} else {
				m.queryVars[ss[0]] = ""
			}
		}
	}
	return m.queryVars
}

func (m *Message) QueryString() string {
	qi := m.Options(OptURIQuery)
	qa := tox.ToStringArray(qi)
	return strings.Join(qa, "&")
}

func (m *Message) WithQuery(q map[string]string) *Message {
	for k, v := range q {
		val := k
		if len(v) != 0 {
			val = fmt.Sprintf("%s=%s", k, v)
		}
		m.WithOption(OptURIQuery, val, false)
	}
	return m
}

// Path gets the Path set on this message if any.
func (m *Message) Path() []string {
	return m.optionStrings(OptURIPath)
}

// PathString gets a path as a / separated string. An absent path reads as
// the root resource.
func (m *Message) PathString() string {
	p := strings.Join(m.Path(), "/")
	if p == "" {
		return "/"
	}
	return p
}

// WithPathString sets a path by a / separated string.
func (m *Message) WithPathString(s string) *Message {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	if s == "" {
		return m
	}
	m.WithPath(strings.Split(s, "/"))
	return m
}

// WithPath updates or adds a URIPath attribute on this message.
func (m *Message) WithPath(s []string) *Message {
	m.WithOption(OptURIPath, s, true)
	return m
}

func (m *Message) WithPayload(payload []byte) *Message {
	m.Payload = payload
	return m
}

func (m *Message) WithToken(token []byte) *Message {
	m.Token = token
	return m
}

func (m *Message) WithType(t COAPType) *Message {
	m.Type = t
	return m
}

func (m *Message) WithCode(code COAPCode) *Message {
	m.Code = code
	return m
}

func (m *Message) WithBlock1(bm *BlockMetadata) *Message {
	if bm == nil {
		m.RemoveOption(OptBlock1)
		return m
	}
	m.WithOption(OptBlock1, bm.Encode(), true)
	return m
}

func (m *Message) WithBlock2(bm *BlockMetadata) *Message {
	if bm == nil {
		m.RemoveOption(OptBlock2)
		return m
	}
	m.WithOption(OptBlock2, bm.Encode(), true)
	return m
}

func (m *Message) GetBlock1() *BlockMetadata {
	if oi := m.Option(OptBlock1); oi != nil {
		bm, _ := blockDecode(oi)
		return bm
	}
	return nil
}

func (m *Message) GetBlock2() *BlockMetadata {
	if oi := m.Option(OptBlock2); oi != nil {
		bm, _ := blockDecode(oi)
		return bm
	}
	return nil
}

func (m *Message) ContentFormat() MediaType {
	opt := m.Option(OptContentFormat)
	if opt != nil {
		return opt.(MediaType)
	}
	return None
}

func (m *Message) WithContentFormat(mt MediaType) *Message {
	if mt == None {
		return m
	}
	m.WithOption(OptContentFormat, mt, true)
	return m
}

func (m *Message) Accept() MediaType {
	opt := m.Option(OptAccept)
	if opt != nil {
		return opt.(MediaType)
	}
	return None
}

func (m *Message) WithAccept(mt MediaType) *Message {
	if mt == None {
		return m
	}
	m.WithOption(OptAccept, mt, true)
	return m
}

// CreateResponse mirrors the request metadata into a response skeleton: a
// confirmable request gets a piggyback acknowledgement with the same message
// id, a non-confirmable one gets a non-confirmable reply whose message id is
// assigned on send.
func (m *Message) CreateResponse(code COAPCode) *Message {
	rsp := &Message{Code: code, Token: m.Token}
	rsp.Meta.RemoteAddr = m.Meta.RemoteAddr
	rsp.Meta.ListenerName = m.Meta.ListenerName
	if m.Type == TypeConfirmable {
		rsp.Type = TypeAcknowledgement
		rsp.MessageID = m.MessageID
	} else {
		rsp.Type = TypeNonConfirmable
	}
	return rsp
}

// CreateReset builds a reset reply bearing the request's message id.
func (m *Message) CreateReset() *Message {
	rst := &Message{Type: TypeReset, MessageID: m.MessageID}
	rst.Meta.RemoteAddr = m.Meta.RemoteAddr
	rst.Meta.ListenerName = m.Meta.ListenerName
	return rst
}

// MakeReply builds a response (see CreateResponse) carrying the given code
// and payload.
func (m *Message) MakeReply(code COAPCode, payload []byte) *Message {
	rm := m.CreateResponse(code)
	rm.Payload = payload
	return rm
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s MID:%d token:0x%x /%s", m.Type, m.Code, m.MessageID, m.Token, strings.Join(m.Path(), "/"))
}
