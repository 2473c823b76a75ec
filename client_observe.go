// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import "sync"

type ObserveCallback func(rsp *Message, arg interface{}) error

// ObserveNotFoundCallback gives the host a chance to re-register a token on
// a notification for an unknown observation. Return true after registering
// to retry the lookup.
type ObserveNotFoundCallback func(rsp *Message) bool

// Observation is one client-side subscription, keyed by token.
type Observation struct {
	callback ObserveCallback
	arg      interface{}
	addr     string
	path     string
}

// ObservationRegistry tracks the observations this endpoint has registered
// with its peers and routes inbound notifications to their callbacks. It
// installs itself as the endpoint's observation handler.
type ObservationRegistry struct {
	server   *Server
	mux      sync.Mutex
	byToken  map[string]*Observation
	notFound ObserveNotFoundCallback
}

func NewObservationRegistry(server *Server) *ObservationRegistry {
	reg := &ObservationRegistry{
		server:  server,
		byToken: map[string]*Observation{},
	}
	server.SetObservationHandler(reg)
	return reg
}

func (reg *ObservationRegistry) SetNotFoundCallback(callback ObserveNotFoundCallback) {
	reg.notFound = callback
}

func (reg *ObservationRegistry) HasObservation(token []byte) bool {
	reg.mux.Lock()
	defer reg.mux.Unlock()
	_, found := reg.byToken[string(token)]
	return found
}

func (reg *ObservationRegistry) get(msg *Message) *Observation {
	reg.mux.Lock()
	obs, found := reg.byToken[string(msg.Token)]
	reg.mux.Unlock()
	if found {
		return obs
	}
	if reg.notFound != nil && reg.notFound(msg) {
		reg.mux.Lock()
		obs = reg.byToken[string(msg.Token)]
		reg.mux.Unlock()
		return obs
	}
	return nil
}

// Notify implements ObservationHandler.
func (reg *ObservationRegistry) Notify(ex *Exchange) {
	obs := reg.get(ex.Request)
	if obs == nil {
		logDebug(ex.Request, nil, "coap: observation not found")
		ex.SendResetResponse()
		return
	}
	if err := obs.callback(ex.Request, obs.arg); err != nil {
		logWarn(ex.Request, err, "coap: error processing notification")
		ex.SendResetResponse()
	}
}

// ObservationTerminated implements ObservationHandler.
func (reg *ObservationRegistry) ObservationTerminated(err *ObservationTerminatedError) {
	reg.mux.Lock()
	delete(reg.byToken, string(err.Packet.Token))
	reg.mux.Unlock()
	logInfo(err.Packet, "coap: observation terminated by peer")
}

// Observe registers an observation on a peer's resource and returns its
// token. The callback also receives the initial representation.
func (reg *ObservationRegistry) Observe(addr string, path string, accept MediaType, callback ObserveCallback, arg interface{}) (string, error) {
	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString(path).WithAccept(accept)
	req.WithOption(OptObserve, 0, true)
	req.Token = []byte(randomString(8))

	rsp, err := reg.server.Send(addr, req, nil)
	if err != nil {
		return "", err
	}
	if err = RspCodeToError(rsp.Code); err != nil {
		return "", err
	}

	token := string(req.Token)
	reg.mux.Lock()
	reg.byToken[token] = &Observation{callback: callback, arg: arg, addr: addr, path: path}
	reg.mux.Unlock()

	_ = callback(rsp, arg)
	return token, nil
}

// ObserveCancel deregisters an observation with the peer.
func (reg *ObservationRegistry) ObserveCancel(addr string, path string, token string) error {
	reg.mux.Lock()
	delete(reg.byToken, token)
	reg.mux.Unlock()

	req := NewMessage().WithType(TypeConfirmable).WithCode(CodeGet).WithPathString(path)
	req.WithOption(OptObserve, 1, true)
	req.Token = []byte(token)

	rsp, err := reg.server.Send(addr, req, nil)
	if err != nil {
		return err
	}
	return RspCodeToError(rsp.Code)
}

// Register installs a callback for a token obtained out of band.
func (reg *ObservationRegistry) Register(token string, callback ObserveCallback, arg interface{}) {
	reg.mux.Lock()
	reg.byToken[token] = &Observation{callback: callback, arg: arg}
	reg.mux.Unlock()
}

// Tokens iterates the registered observation tokens.
func (reg *ObservationRegistry) Tokens(callback func(token string)) {
	reg.mux.Lock()
	tokens := make([]string, 0, len(reg.byToken))
	for token := range reg.byToken {
		tokens = append(tokens, token)
	}
	reg.mux.Unlock()
	for _, token := range tokens {
		callback(token)
	}
}
