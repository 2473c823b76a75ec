// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"net"
	"time"

	"go.uber.org/atomic"
)

// UdpTransport is the plain datagram transport. It owns the socket and the
// codec; decoded messages go up through the Receiver, outbound messages are
// marshaled at the socket boundary.
type UdpTransport struct {
	name     string
	addr     string
	codec    Codec
	socket   *net.UDPConn
	receiver Receiver
	shutdown atomic.Bool
}

func NewUdpTransport(name string, addr string, codec Codec) *UdpTransport {
	return &UdpTransport{name: name, addr: addr, codec: codec}
}

func (t *UdpTransport) Start(receiver Receiver) error {
	uaddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return err
	}
	socket, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return err
	}
	t.socket = socket
	t.receiver = receiver
	t.shutdown.Store(false)
	go t.reader()
	return nil
}

func (t *UdpTransport) reader() {
	var raw = make([]byte, 8192)

	rawLen, from, err := t.socket.ReadFromUDP(raw)
	if t.shutdown.Load() {
		return
	}
	if err != nil {
		logWarn(nil, err, "coap: error reading datagram")
		go t.reader()
		return
	}
	raw = raw[:rawLen]

	go t.reader()

	msg, err := t.codec.Unmarshal(raw)
	if err != nil {
		logError(nil, err, "coap: error parsing datagram")
		return
	}
	msg.Meta.RemoteAddr = from.String()
	msg.Meta.ListenerName = t.name
	msg.Meta.ReceivedAt = time.Now().UTC()

	sniffActivity("udp", SniffRead, from.String(), t.socket.LocalAddr().String(), msg)

	t.receiver.Handle(msg, nil)
}

func (t *UdpTransport) Send(msg *Message, addr string, _ TransportContext) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	data, err := t.codec.Marshal(msg)
	if err != nil {
		return err
	}
	sniffActivity("udp", SniffWrite, t.socket.LocalAddr().String(), addr, msg)
	if _, err = t.socket.WriteToUDP(data, uaddr); err != nil {
		return err
	}
	return nil
}

func (t *UdpTransport) Stop() {
	t.shutdown.Store(true)
	if t.socket != nil {
		_ = t.socket.Close()
	}
}

func (t *UdpTransport) LocalAddr() net.Addr {
	if t.socket == nil {
		return nil
	}
	return t.socket.LocalAddr()
}
