// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ObservationHandler receives client-side observe traffic: notifications for
// tokens it claims with HasObservation, and termination events.
type ObservationHandler interface {
	HasObservation(token []byte) bool
	Notify(ex *Exchange)
	ObservationTerminated(err *ObservationTerminatedError)
}

// DuplicateCallback is invoked for every suppressed duplicate message.
type DuplicateCallback func(req *Message)

// Server is one CoAP endpoint: it serves requests through registered routes
// and issues requests of its own, multiplexed over a single transport. Two
// servers in one process share nothing.
type Server struct {
	config  *Config
	clock   clockwork.Clock
	routes  *router
	metrics *serverMetrics

	transport Transport
	mid       *midSupplier
	params    *transmissionParams

	transMgr   *transactionManager
	delayedMgr *delayedTransactionManager
	dedup      *dedupCache

	obsHandler        ObservationHandler
	duplicateCallback DuplicateCallback
	defaultPriority   Priority
	blockSize         int

	mux     sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewServer builds an endpoint over the given transport. A nil config uses
// the defaults.
func NewServer(transport Transport, conf *Config) *Server {
	if conf == nil {
		conf = NewConfig()
	}
	s := &Server{
		config:          conf,
		clock:           clockwork.NewRealClock(),
		routes:          newRouter(),
		metrics:         newServerMetrics(),
		transport:       transport,
		mid:             newMidSupplier(),
		params:          newTransmissionParams(conf),
		transMgr:        newTransactionManager(conf.EndpointQueueLimit),
		delayedMgr:      newDelayedTransactionManager(),
		defaultPriority: PriorityNormal,
	}
	s.dedup = newDedupCache(conf.DedupMaxEntries, conf.DedupExpiration, s.now)
	return s
}

// SetObservationHandler installs the client-side notification receiver.
func (s *Server) SetObservationHandler(handler ObservationHandler) {
	s.obsHandler = handler
}

// SetDuplicateCallback installs a hook invoked on every suppressed duplicate.
func (s *Server) SetDuplicateCallback(callback DuplicateCallback) {
	s.duplicateCallback = callback
}

// SetDefaultPriority changes the queue priority used by MakeRequest.
func (s *Server) SetDefaultPriority(priority Priority) {
	s.defaultPriority = priority
}

// SetBlockSize enables block-wise fragmentation of oversized notification
// payloads. Zero disables it.
func (s *Server) SetBlockSize(size int) {
	s.blockSize = size
}

// BlockSize returns the configured block size, zero when disabled.
func (s *Server) BlockSize() int {
	return s.blockSize
}

func (s *Server) LocalAddr() net.Addr {
	return s.transport.LocalAddr()
}

func (s *Server) now() time.Time {
	return s.clock.Now()
}

// Start attaches to the transport and begins the timeout sweep.
func (s *Server) Start() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.running {
		return ErrRunning
	}
	if err := s.transport.Start(s); err != nil {
		return err
	}
	s.stopCh = make(chan struct{})
	s.running = true
	go s.tickLoop(s.stopCh)
	return nil
}

// Stop detaches from the transport and synchronously fails every pending
// callback with ErrShutdown.
func (s *Server) Stop() error {
	s.mux.Lock()
	if !s.running {
		s.mux.Unlock()
		return ErrNotRunning
	}
	s.running = false
	close(s.stopCh)
	s.mux.Unlock()

	s.transport.Stop()

	for _, trans := range s.transMgr.removeAll() {
		s.safeCallback(trans, nil, ErrShutdown)
	}
	for _, trans := range s.delayedMgr.removeAll() {
		s.safeCallback(trans, nil, ErrShutdown)
	}
	return nil
}

func (s *Server) isRunning() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.running
}

// TransactionCount returns the number of pending confirmable transactions.
func (s *Server) TransactionCount() int {
	return s.transMgr.transactionCount()
}

// MakeRequest sends a request and delivers the outcome asynchronously.
// Confirmable requests are queued per endpoint and retransmitted on the tick
// schedule; non-confirmable ones are sent immediately and correlated by
// token within the delayed-transaction window.
func (s *Server) MakeRequest(packet *Message, callback Callback, transCtx TransportContext) error {
	return s.makeRequest(packet, callback, transCtx, s.defaultPriority, false)
}

// MakeRequestWithPriority is MakeRequest with explicit queue placement.
// forceAdmit bypasses the endpoint queue cap; block-wise follow-ups use it
// to guarantee in-order completion.
func (s *Server) MakeRequestWithPriority(packet *Message, callback Callback, transCtx TransportContext, priority Priority, forceAdmit bool) error {
	return s.makeRequest(packet, callback, transCtx, priority, forceAdmit)
}

func (s *Server) makeRequest(packet *Message, callback Callback, transCtx TransportContext, priority Priority, forceAdmit bool) error {
	if packet == nil || packet.Meta.RemoteAddr == "" {
		return ErrBadRequest
	}
	if callback == nil {
		callback = ignoreCallback
	}
	if len(packet.Token) == 0 && packet.IsRequest() {
		packet.Token = []byte(randomString(8))
	}

	packet.MessageID = s.mid.next()

	if packet.IsConfirmable() {
		trans := newTransaction(packet, callback, transCtx, priority, s.params)
		ready, err := s.transMgr.addAndGetReadyToSend(trans, forceAdmit)
		if err != nil {
			return err
		}
		if !ready {
			logDebug(packet, nil, "coap: transaction queued behind active exchange")
			return nil
		}
		if _, err = trans.send(s, s.now()); err != nil {
			s.removeCoapTransID(trans.id)
			return err
		}
		return nil
	}

	// non-confirmable: no retransmission, response correlated by token
	trans := newTransaction(packet, callback, transCtx, priority, s.params)
	s.delayedMgr.add(trans.delayedID(), trans, s.now().Add(s.config.DelayedTransactionTimeout))
	if err := s.sendPacket(packet, packet.Meta.RemoteAddr, transCtx); err != nil {
		s.delayedMgr.remove(trans.delayedID())
		return err
	}
	if len(packet.Token) == 0 {
		logWarn(packet, nil, "coap: sent NON request without token")
	}
	return nil
}

// Send issues a request and blocks until the response, a reset or a timeout.
func (s *Server) Send(addr string, msg *Message, transCtx TransportContext) (*Message, error) {
	msg.Meta.RemoteAddr = addr

	type outcome struct {
		rsp *Message
		err error
	}
	ch := make(chan outcome, 1)
	err := s.MakeRequest(msg, func(rsp *Message, err error) {
		ch <- outcome{rsp: rsp, err: err}
	}, nil)
	if err != nil {
		return nil, err
	}
	out := <-ch
	return out.rsp, out.err
}

// sendPacket hands one message to the transport, assigning a fresh message
// id to non-confirmable and reset messages that do not carry one yet.
func (s *Server) sendPacket(msg *Message, addr string, transCtx TransportContext) error {
	if msg.Meta.RemoteAddr == "" {
		msg.Meta.RemoteAddr = addr
	}
	if msg.MessageID == 0 && (msg.Type == TypeNonConfirmable || msg.Type == TypeReset) {
		msg.MessageID = s.mid.next()
	}
	if s.transport == nil {
		return ErrNoTransport
	}
	if err := s.transport.Send(msg, addr, transCtx); err != nil {
		logWarn(msg, err, "coap: transport send failed")
		return err
	}
	logDebug(msg, nil, "coap: sent %s", msg)
	return nil
}

// Handle classifies one decoded inbound message. Implements Receiver.
func (s *Server) Handle(msg *Message, transCtx TransportContext) {
	if s.handlePing(msg, transCtx) {
		return
	}

	logDebug(msg, nil, "coap: received %s", msg)

	if msg.IsRequest() {
		if s.handleRequest(msg, transCtx) {
			return
		}
	} else {
		if s.handleResponse(msg) {
			return
		}
		if s.handleDelayedResponse(msg, transCtx) {
			return
		}
		if s.handleObservation(msg, transCtx) {
			return
		}
	}
	s.handleNotProcessed(msg, transCtx)
}

// handlePing answers confirmable empty messages with a reset. Pings are
// confirmable by definition; empty NON messages fall through to the
// unmatched path.
func (s *Server) handlePing(msg *Message, transCtx TransportContext) bool {
	if msg.Code != CodeEmpty || msg.Type != TypeConfirmable {
		return false
	}
	logDebug(msg, nil, "coap: ping received")
	rst := msg.CreateReset()
	if err := s.sendPacket(rst, msg.Meta.RemoteAddr, transCtx); err == nil {
		s.metrics.resetsSent.Inc()
		s.dedup.save(msg, rst)
	}
	return true
}

func (s *Server) handleRequest(req *Message, transCtx TransportContext) bool {
	if s.findDuplicate(req, "coap: request repeated") {
		return true
	}
	s.metrics.requestsSeen.Inc()

	uri := req.PathString()
	callback := s.routes.find(uri)

	var errorResponse *Message
	if callback == nil {
		errorResponse = req.CreateResponse(RspCodeNotFound)
	} else if s.config.CriticalOptTest && req.CriticalOptTest() != nil {
		errorResponse = req.CreateResponse(RspCodeBadOption)
	} else {
		ex := newExchange(req, s, transCtx)
		err := s.callRequestHandler(ex, callback)
		if err != nil {
			if ce, ok := err.(*CodeError); ok {
				errorResponse = req.CreateResponse(ce.Code)
				errorResponse.Payload = ce.Payload
			} else {
				logWarn(req, err, "coap: handler failed")
				errorResponse = req.CreateResponse(RspCodeInternalServerError)
			}
		} else if ex.response != nil {
			if err = s.sendPacket(ex.response, req.Meta.RemoteAddr, transCtx); err == nil {
				s.dedup.save(req, ex.response)
			}
			return true
		}
	}

	if errorResponse != nil {
		if err := s.sendPacket(errorResponse, req.Meta.RemoteAddr, transCtx); err == nil {
			s.dedup.save(req, errorResponse)
		}
	}
	return true
}

func (s *Server) callRequestHandler(ex *Exchange, callback RouteCallback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logError(ex.Request, nil, "coap: handler panic: %v", r)
			err = NewCodeError(RspCodeInternalServerError, "")
		}
	}()
	return callback(ex)
}

// findDuplicate consults the duplicate detector, replaying the previously
// sent response when one is cached. Returns true when the message must be
// suppressed.
func (s *Server) findDuplicate(req *Message, logMsg string) bool {
	entry, fresh := s.dedup.check(req)
	if fresh {
		return false
	}
	s.metrics.dedupHits.Inc()
	if !entry.pending && entry.rsp != nil {
		logDebug(req, nil, "%s, resending response", logMsg)
		_ = s.sendPacket(entry.rsp, req.Meta.RemoteAddr, nil)
	} else {
		logDebug(req, nil, "%s, no response available", logMsg)
	}
	if s.duplicateCallback != nil {
		s.duplicateCallback(req)
	}
	return true
}

func (s *Server) handleResponse(msg *Message) bool {
	trans := s.transMgr.removeAndLock(newTransactionID(msg))
	if trans == nil && (msg.Type == TypeConfirmable || msg.Type == TypeNonConfirmable) {
		// peer sent its response as a new message instead of piggybacking
		trans = s.transMgr.findMatchAndRemoveForSeparateResponse(msg)
	}
	if trans == nil {
		return false
	}

	s.metrics.responsesSeen.Inc()

	if msg.Code != CodeEmpty || msg.Type == TypeReset {
		s.invokeCallbackAndRemoveTransaction(trans, msg)
		return true
	}

	if msg.Type == TypeAcknowledgement {
		if !trans.packet.IsRequest() {
			// empty ack confirming a non-request (a CON notification)
			s.invokeCallbackAndRemoveTransaction(trans, msg)
			return true
		}
		// empty ack to a request: the real response will come separately
		delayedID := trans.delayedID()
		s.removeCoapTransID(trans.id)
		s.delayedMgr.add(delayedID, trans, s.now().Add(s.config.DelayedTransactionTimeout))
		return true
	}

	s.invokeCallbackAndRemoveTransaction(trans, msg)
	return true
}

// invokeCallbackAndRemoveTransaction calls the callback before admitting the
// next queued transaction; a block-wise follow-up issued from inside the
// callback must land in the queue ahead of the promotion.
func (s *Server) invokeCallbackAndRemoveTransaction(trans *transaction, msg *Message) {
	defer s.removeCoapTransID(trans.id)
	s.safeCallback(trans, msg, nil)
}

// removeCoapTransID releases the endpoint lock for id and transmits the next
// queued transaction, failing forward through transactions whose send errors.
func (s *Server) removeCoapTransID(id transactionID) {
	for {
		next := s.transMgr.unlockOrRemoveAndGetNext(id)
		if next == nil {
			return
		}
		ok, err := next.send(s, s.now())
		if err == nil && ok {
			return
		}
		if err == nil {
			err = ErrTimeout
		}
		logDebug(next.packet, err, "coap: next transaction failed on promote")
		s.safeCallback(next, nil, err)
		id = next.id
	}
}

func (s *Server) handleDelayedResponse(msg *Message, transCtx TransportContext) bool {
	trans := s.delayedMgr.findAndRemove(msg)
	if trans == nil {
		return false
	}

	if msg.IsConfirmable() {
		ack := msg.CreateResponse(CodeEmpty)
		if err := s.sendPacket(ack, msg.Meta.RemoteAddr, transCtx); err == nil {
			s.dedup.save(msg, ack)
		}
	}
	s.safeCallback(trans, msg, nil)
	return true
}

func (s *Server) handleObservation(msg *Message, transCtx TransportContext) bool {
	hasObserve := msg.Observe() >= 0
	if !hasObserve && (s.obsHandler == nil || !s.obsHandler.HasObservation(msg.Token)) {
		return false
	}
	if s.obsHandler == nil {
		return false
	}

	if msg.Type == TypeReset || !hasObserve ||
		(msg.Code != RspCodeContent && msg.Code != RspCodeValid) {
		logDebug(msg, nil, "coap: notification termination")
		s.obsHandler.ObservationTerminated(&ObservationTerminatedError{Packet: msg, Context: transCtx})
		return true
	}

	if !s.findDuplicate(msg, "coap: notification repeated") {
		ex := newExchange(msg, s, transCtx)
		s.obsHandler.Notify(ex)
		if ex.response != nil {
			if err := s.sendPacket(ex.response, msg.Meta.RemoteAddr, transCtx); err == nil {
				s.dedup.save(msg, ex.response)
			}
		} else if msg.IsConfirmable() {
			ack := msg.CreateResponse(CodeEmpty)
			if err := s.sendPacket(ack, msg.Meta.RemoteAddr, transCtx); err == nil {
				s.dedup.save(msg, ack)
			}
		}
	}
	return true
}

func (s *Server) handleNotProcessed(msg *Message, transCtx TransportContext) {
	switch msg.Type {
	case TypeAcknowledgement:
		logDebug(msg, nil, "coap: discarding extra ack")
	case TypeReset:
		logWarn(msg, nil, "coap: can not process reset message")
	default:
		rst := msg.CreateReset()
		if msg.Type == TypeNonConfirmable {
			rst.MessageID = s.mid.next()
		}
		if err := s.sendPacket(rst, msg.Meta.RemoteAddr, transCtx); err == nil {
			s.metrics.resetsSent.Inc()
			s.dedup.save(msg, rst)
		}
		logWarn(msg, nil, "coap: can not process message, sent reset")
	}
}

func (s *Server) safeCallback(trans *transaction, msg *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			logError(trans.packet, nil, "coap: callback panic: %v", r)
		}
	}()
	trans.callback(msg, err)
}

func (s *Server) tickLoop(stopCh chan struct{}) {
	ticker := s.clock.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			s.tick(s.now())
		}
	}
}

// tick drives retransmission, delayed-response expiry and duplicate-cache
// eviction. Failures here are logged and never reach application code.
func (s *Server) tick(now time.Time) {
	for _, trans := range s.transMgr.findTimeoutTransactions(now) {
		ok, err := trans.send(s, now)
		switch {
		case err != nil:
			s.removeCoapTransID(trans.id)
			s.safeCallback(trans, nil, err)
		case !ok:
			s.metrics.timeouts.Inc()
			logDebug(trans.packet, nil, "coap: transaction final timeout")
			s.removeCoapTransID(trans.id)
			s.safeCallback(trans, nil, ErrTimeout)
		}
	}

	for _, trans := range s.delayedMgr.findTimeoutTransactions(now) {
		s.metrics.timeouts.Inc()
		s.safeCallback(trans, nil, ErrTimeout)
	}

	s.dedup.evict(now)
}
