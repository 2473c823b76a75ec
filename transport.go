// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import "net"

// TransportContext is an opaque value round-tripped between an inbound
// message and any outbound messages sent in reaction to it. Transports use
// it to pin responses to a session (a DTLS peer, for example).
type TransportContext interface{}

// Receiver accepts decoded inbound messages from a transport. It carries no
// framing or retransmission responsibility.
type Receiver interface {
	Handle(msg *Message, ctx TransportContext)
}

// Transport moves decoded messages to and from the network. Implementations
// own the sockets and the codec; the runtime never touches bytes.
type Transport interface {
	Start(receiver Receiver) error
	Stop()
	Send(msg *Message, addr string, ctx TransportContext) error
	LocalAddr() net.Addr
}

// Codec translates between decoded messages and their wire form. It is
// supplied by the host; transports call it at the socket boundary.
type Codec interface {
	Marshal(msg *Message) ([]byte, error)
	Unmarshal(data []byte) (*Message, error)
}
