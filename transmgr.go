// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"bytes"
	"sync"
	"time"
)

// transactionManager keeps one queue of pending confirmable transactions per
// remote endpoint and allows at most one of them in flight at a time. When a
// response is being dispatched the endpoint is held locked so the next
// queued transaction is admitted only after the response callback returns.
type transactionManager struct {
	mux          sync.Mutex
	endpoints    map[string]*endpointQueue
	count        int
	maxQueueSize int
}

type endpointQueue struct {
	inFlight *transaction
	lockedID *transactionID
	queue    []*transaction
}

func newTransactionManager(maxQueueSize int) *transactionManager {
	return &transactionManager{
		endpoints:    map[string]*endpointQueue{},
		maxQueueSize: maxQueueSize,
	}
}

// addAndGetReadyToSend admits a transaction. Returns true when the caller
// must transmit it now (nothing else in flight for this endpoint), false
// when it was queued behind the current exchange. With forceAdmit false the
// per-endpoint queue cap applies.
func (tm *transactionManager) addAndGetReadyToSend(t *transaction, forceAdmit bool) (bool, error) {
	tm.mux.Lock()
	defer tm.mux.Unlock()

	eq, found := tm.endpoints[t.id.addr]
	if !found {
		eq = &endpointQueue{}
		tm.endpoints[t.id.addr] = eq
	}

	if eq.inFlight == nil && eq.lockedID == nil {
		eq.inFlight = t
		tm.count++
		return true, nil
	}

	depth := len(eq.queue)
	if eq.inFlight != nil {
		depth++
	}
	if !forceAdmit && tm.maxQueueSize > 0 && depth >= tm.maxQueueSize {
		return false, ErrTooManyRequests
	}

	// insert before the first lower-priority entry, FIFO within a priority
	pos := len(eq.queue)
	for i, queued := range eq.queue {
		if queued.priority < t.priority {
			pos = i
			break
		}
	}
	eq.queue = append(eq.queue, nil)
	copy(eq.queue[pos+1:], eq.queue[pos:])
	eq.queue[pos] = t
	tm.count++
	return false, nil
}

// removeAndLock atomically takes the in-flight transaction matching id and
// holds the endpoint locked until unlockOrRemoveAndGetNext releases it.
func (tm *transactionManager) removeAndLock(id transactionID) *transaction {
	tm.mux.Lock()
	defer tm.mux.Unlock()

	eq, found := tm.endpoints[id.addr]
	if !found || eq.inFlight == nil || eq.inFlight.id != id {
		return nil
	}
	t := eq.inFlight
	eq.inFlight = nil
	lid := id
	eq.lockedID = &lid
	tm.count--
	return t
}

// findMatchAndRemoveForSeparateResponse matches the in-flight transaction by
// token and remote, for peers that answer a request with a new confirmable
// message instead of piggybacking. The endpoint is locked like removeAndLock.
func (tm *transactionManager) findMatchAndRemoveForSeparateResponse(msg *Message) *transaction {
	if len(msg.Token) == 0 {
		return nil
	}

	tm.mux.Lock()
	defer tm.mux.Unlock()

	eq, found := tm.endpoints[msg.Meta.RemoteAddr]
	if !found || eq.inFlight == nil {
		return nil
	}
	t := eq.inFlight
	if !bytes.Equal(t.packet.Token, msg.Token) {
		return nil
	}
	eq.inFlight = nil
	lid := t.id
	eq.lockedID = &lid
	tm.count--
	return t
}

// unlockOrRemoveAndGetNext releases the dispatch lock held for id (or drops
// the matching transaction if it is still queued or in flight) and promotes
// the next queued transaction for the endpoint, returning it for transmit.
func (tm *transactionManager) unlockOrRemoveAndGetNext(id transactionID) *transaction {
	tm.mux.Lock()
	defer tm.mux.Unlock()

	eq, found := tm.endpoints[id.addr]
	if !found {
		return nil
	}

	if eq.lockedID != nil && *eq.lockedID == id {
		eq.lockedID = nil
	} else if eq.inFlight != nil && eq.inFlight.id == id {
		eq.inFlight = nil
		tm.count--
	} else {
		for i, queued := range eq.queue {
			if queued.id == id {
				eq.queue = append(eq.queue[:i], eq.queue[i+1:]...)
				tm.count--
				break
			}
		}
	}

	if eq.inFlight == nil && eq.lockedID == nil && len(eq.queue) > 0 {
		next := eq.queue[0]
		eq.queue = eq.queue[1:]
		eq.inFlight = next
		return next
	}

	if eq.inFlight == nil && eq.lockedID == nil && len(eq.queue) == 0 {
		delete(tm.endpoints, id.addr)
	}
	return nil
}

// findTimeoutTransactions returns the in-flight transactions whose deadline
// has passed.
func (tm *transactionManager) findTimeoutTransactions(now time.Time) []*transaction {
	tm.mux.Lock()
	defer tm.mux.Unlock()

	var timedOut []*transaction
	for _, eq := range tm.endpoints {
		if eq.inFlight != nil && eq.inFlight.isTimedOut(now) {
			timedOut = append(timedOut, eq.inFlight)
		}
	}
	return timedOut
}

// removeAll drains every transaction, in flight and queued. Used on shutdown.
func (tm *transactionManager) removeAll() []*transaction {
	tm.mux.Lock()
	defer tm.mux.Unlock()

	var all []*transaction
	for _, eq := range tm.endpoints {
		if eq.inFlight != nil {
			all = append(all, eq.inFlight)
		}
		all = append(all, eq.queue...)
	}
	tm.endpoints = map[string]*endpointQueue{}
	tm.count = 0
	return all
}

func (tm *transactionManager) transactionCount() int {
	tm.mux.Lock()
	defer tm.mux.Unlock()
	return tm.count
}
