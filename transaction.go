// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"fmt"
	"time"
)

// Callback receives the final outcome of a request: the peer's response, or
// an error when the exchange could not complete.
type Callback func(rsp *Message, err error)

func ignoreCallback(*Message, error) {}

// transactionID correlates a confirmable exchange by remote and message id.
type transactionID struct {
	addr string
	mid  uint16
}

func newTransactionID(msg *Message) transactionID {
	return transactionID{addr: msg.Meta.RemoteAddr, mid: msg.MessageID}
}

func (id transactionID) String() string {
	return fmt.Sprintf("%s#%d", id.addr, id.mid)
}

// delayedKey correlates a separated response by token and remote.
type delayedKey struct {
	token string
	addr  string
}

// transaction is one outstanding confirmable exchange. Deadlines are armed
// relative to the first transmission: attempt k times out at base*2^k.
type transaction struct {
	id       transactionID
	packet   *Message
	callback Callback
	transCtx TransportContext
	priority Priority

	attempt       int
	maxRetransmit int
	timeoutBase   time.Duration
	start         time.Time
	nextTimeout   time.Time

	delayedExpire time.Time
}

func newTransaction(packet *Message, callback Callback, transCtx TransportContext, priority Priority, params *transmissionParams) *transaction {
	return &transaction{
		id:            newTransactionID(packet),
		packet:        packet,
		callback:      callback,
		transCtx:      transCtx,
		priority:      priority,
		maxRetransmit: params.maxRetransmit,
		timeoutBase:   params.base(),
	}
}

func (t *transaction) delayedID() delayedKey {
	return delayedKey{token: string(t.packet.Token), addr: t.id.addr}
}

func (t *transaction) isTimedOut(now time.Time) bool {
	return t.attempt > 0 && !now.Before(t.nextTimeout)
}

// send transmits (or retransmits) the pending message and arms the next
// deadline. Returns false without sending when the retransmission budget is
// exhausted.
func (t *transaction) send(s *Server, now time.Time) (bool, error) {
	if t.attempt > t.maxRetransmit {
		return false, nil
	}
	if t.attempt == 0 {
		t.start = now
	}
	if err := s.sendPacket(t.packet, t.id.addr, t.transCtx); err != nil {
		return true, err
	}
	if t.attempt > 0 {
		s.metrics.retransmits.Inc()
	}
	t.nextTimeout = t.start.Add(t.timeoutBase << uint(t.attempt))
	t.attempt++
	return true, nil
}

func (t *transaction) String() string {
	return fmt.Sprintf("txn:%s attempt:%d prio:%d", t.id, t.attempt, t.priority)
}
