// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"net"
	"time"

	"github.com/qwerty-iot/dtls/v2"
	"go.uber.org/atomic"
)

// DtlsTransport carries CoAP over DTLS. The transport context round-tripped
// through the runtime is the *dtls.Peer, so responses ride the session the
// request arrived on.
type DtlsTransport struct {
	name     string
	listener *dtls.Listener
	codec    Codec
	receiver Receiver
	shutdown atomic.Bool
}

func NewDtlsTransport(name string, listener *dtls.Listener, codec Codec) *DtlsTransport {
	return &DtlsTransport{name: name, listener: listener, codec: codec}
}

func (t *DtlsTransport) Start(receiver Receiver) error {
	t.receiver = receiver
	t.shutdown.Store(false)
	go t.reader()
	return nil
}

func (t *DtlsTransport) reader() {
	raw, peer := t.listener.Read()
	if t.shutdown.Load() {
		logDebug(nil, nil, "coap: dtls transport is shutdown")
		return
	}

	go t.reader()

	msg, err := t.codec.Unmarshal(raw)
	if err != nil {
		logError(nil, err, "coap: error parsing datagram")
		return
	}
	msg.Meta.RemoteAddr = peer.RemoteAddr()
	msg.Meta.DtlsIdentity = peer.SessionIdentityString()
	msg.Meta.ListenerName = t.name
	msg.Meta.ReceivedAt = time.Now().UTC()

	sniffActivity("dtls", SniffRead, peer.RemoteAddr(), t.name, msg)

	t.receiver.Handle(msg, peer)
}

func (t *DtlsTransport) Send(msg *Message, addr string, transCtx TransportContext) error {
	peer, _ := transCtx.(*dtls.Peer)
	if peer == nil {
		peer, _ = t.listener.FindPeer(addr)
	}
	if peer == nil {
		return ErrNoTransport
	}
	data, err := t.codec.Marshal(msg)
	if err != nil {
		return err
	}
	sniffActivity("dtls", SniffWrite, t.name, addr, msg)
	return peer.Write(data)
}

func (t *DtlsTransport) Stop() {
	t.shutdown.Store(true)
	_ = t.listener.Shutdown()
}

func (t *DtlsTransport) LocalAddr() net.Addr {
	return nil
}
