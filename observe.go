// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"bytes"
	"sync"
)

// ObservationRelation is one subscriber of an observable resource. The
// observe sequence is 24 bits and strictly increasing per relation.
type ObservationRelation struct {
	token         []byte
	addr          string
	observeSeq    uint32
	confirmable   bool
	delivering    bool
	autoRemovable bool
}

func (r *ObservationRelation) nextObserveSeq() uint32 {
	r.observeSeq = (r.observeSeq + 1) & 0xFFFFFF
	return r.observeSeq
}

func (r *ObservationRelation) Token() []byte {
	return r.token
}

func (r *ObservationRelation) Address() string {
	return r.addr
}

// DeliveryListener reports per-observer notification outcomes.
type DeliveryListener interface {
	OnSuccess(addr string)
	OnFail(addr string)
	OnNoObservers()
}

type nullDeliveryListener struct{}

func (nullDeliveryListener) OnSuccess(string) {}
func (nullDeliveryListener) OnFail(string)    {}
func (nullDeliveryListener) OnNoObservers()   {}

// observeEcho carries the observe value and token the response must mirror.
type observeEcho struct {
	seq   uint32
	token []byte
}

// ObservableResource serves one URI whose representation peers may observe.
// It owns its relations exclusively; the endpoint only ever sees them
// through notifications in flight.
type ObservableResource struct {
	server *Server

	mux              sync.Mutex
	relations        map[string]*ObservationRelation
	forceConFreq     int
	conNotifications *bool
	removeIfNoObs    bool

	OnGet    RouteCallback
	OnPut    RouteCallback
	OnPost   RouteCallback
	OnDelete RouteCallback
}

func NewObservableResource(server *Server) *ObservableResource {
	freq := server.config.ForceConFreq
	if freq <= 0 {
		freq = 20
	}
	return &ObservableResource{
		server:       server,
		relations:    map[string]*ObservationRelation{},
		forceConFreq: freq,
	}
}

// SetConNotifications forces (or forbids) confirmable delivery for every
// relation, overriding each relation's own preference.
func (res *ObservableResource) SetConNotifications(con bool) {
	res.mux.Lock()
	res.conNotifications = &con
	res.mux.Unlock()
}

// SetRemoveIfNoObserve makes a plain GET from a subscribed peer cancel its
// relation.
func (res *ObservableResource) SetRemoveIfNoObserve(remove bool) {
	res.mux.Lock()
	res.removeIfNoObs = remove
	res.mux.Unlock()
}

func (res *ObservableResource) RelationCount() int {
	res.mux.Lock()
	defer res.mux.Unlock()
	return len(res.relations)
}

// Handle dispatches a request exchange by method. Use it as the resource's
// RouteCallback.
func (res *ObservableResource) Handle(ex *Exchange) error {
	switch ex.Request.Code {
	case CodeGet:
		echo, ok := res.addObserver(ex)
		if !ok {
			return nil
		}
		if res.OnGet == nil {
			return NewCodeError(RspCodeMethodNotAllowed, "")
		}
		if err := res.OnGet(ex); err != nil {
			return err
		}
		if echo != nil && ex.response != nil {
			ex.response.WithObserve(echo.seq)
			ex.response.Token = echo.token
		}
		return nil
	case CodePut:
		if res.OnPut == nil {
			return NewCodeError(RspCodeMethodNotAllowed, "")
		}
		return res.OnPut(ex)
	case CodePost:
		if res.OnPost == nil {
			return NewCodeError(RspCodeMethodNotAllowed, "")
		}
		return res.OnPost(ex)
	case CodeDelete:
		if res.OnDelete == nil {
			return NewCodeError(RspCodeMethodNotAllowed, "")
		}
		return res.OnDelete(ex)
	default:
		return NewCodeError(RspCodeMethodNotAllowed, "")
	}
}

// addObserver installs, replaces or removes the relation for the requesting
// peer. Returns the observe/token pair the response must echo, and false
// when the request was rejected outright.
func (res *ObservableResource) addObserver(ex *Exchange) (*observeEcho, bool) {
	req := ex.Request
	hasBlocks := req.GetBlock1() != nil || req.GetBlock2() != nil

	if req.Observe() < 0 {
		if !hasBlocks {
			res.mux.Lock()
			if res.removeIfNoObs {
				if _, found := res.relations[req.Meta.RemoteAddr]; found {
					delete(res.relations, req.Meta.RemoteAddr)
					logDebug(req, nil, "coap: observation removed")
				}
			}
			res.mux.Unlock()
		}
		return nil, true
	}

	if len(req.Token) == 0 {
		logWarn(req, nil, "coap: observation registration without token, ignoring")
		ex.SendResetResponse()
		return nil, false
	}

	if hasBlocks {
		// mid-transfer request, echo without touching the relation
		return &observeEcho{seq: uint32(req.Observe()), token: req.Token}, true
	}

	sub := &ObservationRelation{
		token:         req.Token,
		addr:          req.Meta.RemoteAddr,
		observeSeq:    uint32(req.Observe()) & 0xFFFFFF,
		confirmable:   req.IsConfirmable(),
		autoRemovable: true,
	}

	res.mux.Lock()
	if prev, found := res.relations[sub.addr]; found && !bytes.Equal(prev.token, sub.token) {
		logDebug(req, nil, "coap: updating observation")
	}
	res.relations[sub.addr] = sub
	res.mux.Unlock()

	return &observeEcho{seq: sub.observeSeq, token: sub.token}, true
}

// NotifyChange sends the new representation to every observer.
func (res *ObservableResource) NotifyChange(payload []byte, contentFormat MediaType) error {
	return res.NotifyChangeDetail(payload, contentFormat, nil, 0, nil)
}

// NotifyChangeDetail is NotifyChange with etag, max-age and a delivery
// listener. A relation still delivering a previous confirmable notification
// is skipped and reported through the listener, not queued behind.
func (res *ObservableResource) NotifyChangeDetail(payload []byte, contentFormat MediaType, etag []byte, maxAge uint32, listener DeliveryListener) error {
	if listener == nil {
		listener = nullDeliveryListener{}
	}

	res.mux.Lock()
	defer res.mux.Unlock()

	if len(res.relations) == 0 {
		listener.OnNoObservers()
		return nil
	}

	for _, sub := range res.relations {
		confirmable := sub.confirmable
		if res.conNotifications != nil {
			confirmable = *res.conNotifications
		}
		notif := res.createNotifPacket(sub, payload, contentFormat, etag, maxAge)

		if sub.delivering {
			logWarn(notif, nil, "coap: previous notification still not confirmed, skipping")
			res.server.metrics.notifyFailed.Inc()
			listener.OnFail(sub.addr)
			continue
		}
		if err := res.sendNotification(confirmable, sub, notif, listener); err != nil {
			return err
		}
	}
	return nil
}

func (res *ObservableResource) sendNotification(confirmable bool, sub *ObservationRelation, notif *Message, listener DeliveryListener) error {
	if confirmable || sub.observeSeq%uint32(res.forceConFreq) == 0 {
		notif.Type = TypeConfirmable
		sub.delivering = true
		ack := &notificationAckCallback{sub: sub, listener: listener, res: res}
		if err := res.server.MakeRequest(notif, ack.callback, nil); err != nil {
			sub.delivering = false
			return err
		}
	} else {
		notif.Type = TypeNonConfirmable
		if err := res.server.MakeRequest(notif, nil, nil); err != nil {
			return err
		}
	}
	res.server.metrics.notifySent.Inc()
	logDebug(notif, nil, "coap: sent notification")
	return nil
}

func (res *ObservableResource) createNotifPacket(sub *ObservationRelation, payload []byte, contentFormat MediaType, etag []byte, maxAge uint32) *Message {
	notif := NewMessage().WithCode(RspCodeContent).WithToken(sub.token)
	notif.Meta.RemoteAddr = sub.addr
	notif.WithObserve(sub.nextObserveSeq())
	notif.WithETag(etag)
	if maxAge > 0 {
		notif.WithMaxAge(maxAge)
	}
	notif.WithContentFormat(contentFormat)

	if blockSize := res.server.blockSize; blockSize > 0 && len(payload) > blockSize {
		// first block in place, the block layer pulls the rest
		notif.WithBlock2(blockInit(0, true, blockSize))
		notif.Payload = payload[:blockSize]
	} else {
		notif.Payload = payload
	}
	return notif
}

// NotifyTermination ends every observation: a reset for CodeEmpty, an error
// notification otherwise. Safe to call twice; the second pass sees no
// relations.
func (res *ObservableResource) NotifyTermination(code COAPCode) error {
	res.mux.Lock()
	defer res.mux.Unlock()

	for addr, sub := range res.relations {
		notif := NewMessage().WithToken(sub.token)
		notif.Meta.RemoteAddr = sub.addr
		notif.WithObserve(sub.nextObserveSeq())

		if code == CodeEmpty {
			notif.Type = TypeReset
		} else {
			notif.Code = code
			if sub.confirmable {
				notif.Type = TypeConfirmable
			} else {
				notif.Type = TypeNonConfirmable
			}
		}

		if err := res.server.MakeRequest(notif, nil, nil); err != nil {
			logWarn(notif, err, "coap: termination notification failed")
		}
		delete(res.relations, addr)
	}
	return nil
}

func (res *ObservableResource) removeSubscriber(sub *ObservationRelation) {
	if !sub.autoRemovable {
		return
	}
	res.mux.Lock()
	if res.relations[sub.addr] == sub {
		delete(res.relations, sub.addr)
		logInfo(nil, "coap: observation removed [%s]", sub.addr)
	}
	res.mux.Unlock()
}

// notificationAckCallback tracks the outcome of one confirmable
// notification: an acknowledgement keeps the relation, a reset or timeout
// removes it.
type notificationAckCallback struct {
	sub      *ObservationRelation
	listener DeliveryListener
	res      *ObservableResource
}

func (c *notificationAckCallback) callback(rsp *Message, err error) {
	c.res.mux.Lock()
	c.sub.delivering = false
	c.res.mux.Unlock()

	if err != nil || rsp == nil || rsp.Type == TypeReset {
		c.res.server.metrics.notifyFailed.Inc()
		c.res.removeSubscriber(c.sub)
		c.listener.OnFail(c.sub.addr)
		return
	}
	c.listener.OnSuccess(c.sub.addr)
}
