package coap

import (
	"net"
	"sync"

	"github.com/jonboulle/clockwork"
)

// fakeTransport records outbound messages and lets tests inject inbound
// traffic straight through the receiver.
type fakeTransport struct {
	mux      sync.Mutex
	sent     []*Message
	sentCtx  []TransportContext
	receiver Receiver
	failSend error
	started  bool
}

func (t *fakeTransport) Start(receiver Receiver) error {
	t.receiver = receiver
	t.started = true
	return nil
}

func (t *fakeTransport) Stop() {
	t.started = false
}

func (t *fakeTransport) Send(msg *Message, addr string, transCtx TransportContext) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.failSend != nil {
		return t.failSend
	}
	t.sent = append(t.sent, msg)
	t.sentCtx = append(t.sentCtx, transCtx)
	return nil
}

func (t *fakeTransport) LocalAddr() net.Addr {
	return memAddr("fake")
}

func (t *fakeTransport) sentCount() int {
	t.mux.Lock()
	defer t.mux.Unlock()
	return len(t.sent)
}

func (t *fakeTransport) sentAt(i int) *Message {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.sent[i]
}

func (t *fakeTransport) lastSent() *Message {
	t.mux.Lock()
	defer t.mux.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

// newTestServer wires a server to a fake transport and a fake clock with a
// deterministic transmission schedule (no random spread).
func newTestServer(conf *Config) (*Server, *fakeTransport, *clockwork.FakeClock) {
	if conf == nil {
		conf = NewConfig()
	}
	transport := &fakeTransport{}
	s := NewServer(transport, conf)
	fc := clockwork.NewFakeClock()
	s.clock = fc
	s.params.rnd = func() float64 { return 0 }
	return s, transport, fc
}

// inboundRequest builds a decoded request as a transport would deliver it.
func inboundRequest(t COAPType, code COAPCode, mid uint16, token []byte, addr string, path string) *Message {
	msg := NewMessage().WithType(t).WithCode(code).WithToken(token).WithPathString(path)
	msg.MessageID = mid
	msg.Meta.RemoteAddr = addr
	return msg
}

// ackFor builds the peer's piggyback acknowledgement for a sent message.
func ackFor(sent *Message, code COAPCode, payload []byte) *Message {
	rsp := NewMessage().WithType(TypeAcknowledgement).WithCode(code).WithToken(sent.Token).WithPayload(payload)
	rsp.MessageID = sent.MessageID
	rsp.Meta.RemoteAddr = sent.Meta.RemoteAddr
	return rsp
}

// rstFor builds the peer's reset for a sent message.
func rstFor(sent *Message) *Message {
	rst := NewMessage().WithType(TypeReset)
	rst.MessageID = sent.MessageID
	rst.Meta.RemoteAddr = sent.Meta.RemoteAddr
	return rst
}
