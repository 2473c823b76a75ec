package coap

import (
	"sync"
	"time"
)

// delayedTransactionManager parks transactions whose peer acknowledged with
// an empty ack and promised a separate response, keyed by (token, remote).
// Also holds non-confirmable requests awaiting their response.
type delayedTransactionManager struct {
	mux          sync.Mutex
	transactions map[delayedKey]*transaction
}

func newDelayedTransactionManager() *delayedTransactionManager {
	return &delayedTransactionManager{transactions: map[delayedKey]*transaction{}}
}

func (dm *delayedTransactionManager) add(id delayedKey, t *transaction, expire time.Time) {
	t.delayedExpire = expire

	dm.mux.Lock()
	dm.transactions[id] = t
	dm.mux.Unlock()
}

// findAndRemove takes the transaction awaiting this separate response.
func (dm *delayedTransactionManager) findAndRemove(msg *Message) *transaction {
	id := delayedKey{token: string(msg.Token), addr: msg.Meta.RemoteAddr}

	dm.mux.Lock()
	defer dm.mux.Unlock()

	t, found := dm.transactions[id]
	if !found {
		return nil
	}
	delete(dm.transactions, id)
	return t
}

func (dm *delayedTransactionManager) remove(id delayedKey) {
	dm.mux.Lock()
	delete(dm.transactions, id)
	dm.mux.Unlock()
}

// findTimeoutTransactions removes and returns transactions whose separate
// response window has elapsed.
func (dm *delayedTransactionManager) findTimeoutTransactions(now time.Time) []*transaction {
	dm.mux.Lock()
	defer dm.mux.Unlock()

	var timedOut []*transaction
	for id, t := range dm.transactions {
		if !now.Before(t.delayedExpire) {
			timedOut = append(timedOut, t)
			delete(dm.transactions, id)
		}
	}
	return timedOut
}

func (dm *delayedTransactionManager) removeAll() []*transaction {
	dm.mux.Lock()
	defer dm.mux.Unlock()

	var all []*transaction
	for _, t := range dm.transactions {
		all = append(all, t)
	}
	dm.transactions = map[delayedKey]*transaction{}
	return all
}

func (dm *delayedTransactionManager) size() int {
	dm.mux.Lock()
	defer dm.mux.Unlock()
	return len(dm.transactions)
}
