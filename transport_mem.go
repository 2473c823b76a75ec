package coap

import (
	"net"
	"time"

	"go.uber.org/atomic"
)

type memPacket struct {
	msg      *Message
	transCtx TransportContext
}

// MemTransport is an in-process loopback transport: two halves joined back
// to back, each delivering what the other sends. Useful for tests and for
// embedding two endpoints in one process without a socket.
type MemTransport struct {
	addr     string
	peer     *MemTransport
	receiver Receiver
	queue    chan memPacket
	stopCh   chan struct{}
	shutdown atomic.Bool
}

// NewMemTransportPair returns two joined transports with the given
// addresses.
func NewMemTransportPair(addrA, addrB string) (*MemTransport, *MemTransport) {
	a := &MemTransport{addr: addrA, queue: make(chan memPacket, 64)}
	b := &MemTransport{addr: addrB, queue: make(chan memPacket, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *MemTransport) Start(receiver Receiver) error {
	t.receiver = receiver
	t.stopCh = make(chan struct{})
	t.shutdown.Store(false)
	go t.dispatch()
	return nil
}

func (t *MemTransport) dispatch() {
	for {
		select {
		case <-t.stopCh:
			return
		case pkt := <-t.queue:
			t.receiver.Handle(pkt.msg, pkt.transCtx)
		}
	}
}

func (t *MemTransport) Send(msg *Message, addr string, transCtx TransportContext) error {
	if t.shutdown.Load() || t.peer == nil || t.peer.shutdown.Load() {
		return ErrNoTransport
	}
	clone := *msg
	clone.opts = append(options{}, msg.opts...)
	clone.Meta.RemoteAddr = t.addr
	clone.Meta.ListenerName = t.peer.addr
	clone.Meta.ReceivedAt = time.Now().UTC()

	sniffActivity("mem", SniffWrite, t.addr, addr, msg)

	select {
	case t.peer.queue <- memPacket{msg: &clone, transCtx: transCtx}:
		return nil
	default:
		return ErrNoTransport
	}
}

func (t *MemTransport) Stop() {
	t.shutdown.Store(true)
	if t.stopCh != nil {
		close(t.stopCh)
	}
}

func (t *MemTransport) LocalAddr() net.Addr {
	return memAddr(t.addr)
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
