// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

// Exchange is the per-request view handed to resource handlers and to the
// observation handler. Handlers set a response (or return an error) and must
// not retain the exchange afterwards.
type Exchange struct {
	Request *Message

	server   *Server
	transCtx TransportContext
	response *Message
}

func newExchange(req *Message, server *Server, transCtx TransportContext) *Exchange {
	return &Exchange{Request: req, server: server, transCtx: transCtx}
}

func (ex *Exchange) RemoteAddr() string {
	return ex.Request.Meta.RemoteAddr
}

func (ex *Exchange) TransportContext() TransportContext {
	return ex.transCtx
}

// SetResponse installs a fully built response message.
func (ex *Exchange) SetResponse(rsp *Message) {
	ex.response = rsp
}

// Respond builds a response mirroring the request and installs it.
func (ex *Exchange) Respond(code COAPCode, payload []byte) {
	ex.response = ex.Request.MakeReply(code, payload)
}

// RespondContent installs a 2.05 Content response with the given payload.
func (ex *Exchange) RespondContent(payload []byte, mt MediaType) {
	rsp := ex.Request.MakeReply(RspCodeContent, payload)
	rsp.WithContentFormat(mt)
	ex.response = rsp
}

// SendResetResponse replaces any pending response with a reset.
func (ex *Exchange) SendResetResponse() {
	ex.response = ex.Request.CreateReset()
}

func (ex *Exchange) Response() *Message {
	return ex.response
}
