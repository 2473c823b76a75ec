package coap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResponseMirrorsConfirmable(t *testing.T) {
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithToken([]byte{0x01})
	req.MessageID = 0x1000
	req.Meta.RemoteAddr = "10.0.0.9:5683"

	rsp := req.CreateResponse(RspCodeContent)
	assert.Equal(t, TypeAcknowledgement, rsp.Type)
	assert.Equal(t, uint16(0x1000), rsp.MessageID)
	assert.Equal(t, []byte{0x01}, rsp.Token)
	assert.Equal(t, "10.0.0.9:5683", rsp.Meta.RemoteAddr)
}

func TestCreateResponseMirrorsNonConfirmable(t *testing.T) {
	req := NewMessage().WithType(TypeNonConfirmable).WithCode(CodeGet).WithToken([]byte{0x02})
	req.MessageID = 0x1000

	rsp := req.CreateResponse(RspCodeContent)
	assert.Equal(t, TypeNonConfirmable, rsp.Type)
	// message id for NON responses is assigned at send time
	assert.Equal(t, uint16(0), rsp.MessageID)
}

func TestObserveOptionRoundTrip(t *testing.T) {
	msg := NewMessage()
	assert.Equal(t, -1, msg.Observe())

	msg.WithObserve(7)
	assert.Equal(t, 7, msg.Observe())

	// 24-bit wrap
	msg.WithObserve(0x1000001)
	assert.Equal(t, 1, msg.Observe())
}

func TestCriticalOptTest(t *testing.T) {
	msg := NewMessage().WithPathString("/x")
	require.NoError(t, msg.CriticalOptTest())

	// elective unknown options pass
	msg.WithOption(OptionID(0x72), []byte{0x01}, true)
	require.NoError(t, msg.CriticalOptTest())

	// unknown critical options fail
	msg.WithOption(OptionID(0x71), []byte{0x01}, true)
	assert.ErrorIs(t, msg.CriticalOptTest(), ErrBadOption)
}

func TestPathHandling(t *testing.T) {
	msg := NewMessage().WithPathString("/a/b/c")
	assert.Equal(t, []string{"a", "b", "c"}, msg.Path())
	assert.Equal(t, "a/b/c", msg.PathString())

	assert.Equal(t, "/", NewMessage().PathString())
}

func TestQueryParsing(t *testing.T) {
	msg := NewMessage().WithQuery(map[string]string{"rt": "core.s", "flag": ""})
	vars := msg.ParseQuery()
	assert.Equal(t, "core.s", vars["rt"])
	_, found := vars["flag"]
	assert.True(t, found)
}
