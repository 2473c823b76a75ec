package coap

import (
	"container/list"
	"sync"
	"time"
)

type dedupKey struct {
	addr string
	mid  uint16
}

// dedupEntry holds the response previously sent for a request, or pending
// while the original is still being processed.
type dedupEntry struct {
	key      dedupKey
	pending  bool
	rsp      *Message
	inserted time.Time
}

// dedupCache rejects repeated (remote, message-id) pairs inside a bounded
// time window and replays the response that was sent the first time. Entries
// are evicted oldest-first, both on expiry and on overflow.
type dedupCache struct {
	mux        sync.Mutex
	entries    map[dedupKey]*list.Element
	order      *list.List
	maxEntries int
	expiration time.Duration
	now        func() time.Time
}

func newDedupCache(maxEntries int, expiration time.Duration, now func() time.Time) *dedupCache {
	return &dedupCache{
		entries:    map[dedupKey]*list.Element{},
		order:      list.New(),
		maxEntries: maxEntries,
		expiration: expiration,
		now:        now,
	}
}

// check records the request if it is new and returns the new pending entry
// and true. For a repeat it returns the existing entry and false; entry.rsp is
// nil while the original request is still pending.
func (d *dedupCache) check(req *Message) (*dedupEntry, bool) {
	key := dedupKey{addr: req.Meta.RemoteAddr, mid: req.MessageID}

	d.mux.Lock()
	defer d.mux.Unlock()

	if el, found := d.entries[key]; found {
		return el.Value.(*dedupEntry), false
	}

	if d.order.Len() >= d.maxEntries {
		oldest := d.order.Front()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*dedupEntry).key)
		}
	}

	entry := &dedupEntry{key: key, pending: true, inserted: d.now()}
	d.entries[key] = d.order.PushBack(entry)
	return entry, true
}

// save overwrites the pending sentinel with the response actually sent,
// inserting an entry when the request was never run through check.
func (d *dedupCache) save(req *Message, rsp *Message) {
	key := dedupKey{addr: req.Meta.RemoteAddr, mid: req.MessageID}

	d.mux.Lock()
	defer d.mux.Unlock()

	if el, found := d.entries[key]; found {
		entry := el.Value.(*dedupEntry)
		entry.rsp = rsp
		entry.pending = false
		return
	}

	if d.order.Len() >= d.maxEntries {
		oldest := d.order.Front()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*dedupEntry).key)
		}
	}
	entry := &dedupEntry{key: key, rsp: rsp, inserted: d.now()}
	d.entries[key] = d.order.PushBack(entry)
}

// evict drops entries older than the expiration window.
func (d *dedupCache) evict(now time.Time) {
	deadline := now.Add(-d.expiration)

	d.mux.Lock()
	defer d.mux.Unlock()

	for el := d.order.Front(); el != nil; {
		entry := el.Value.(*dedupEntry)
		if entry.inserted.After(deadline) {
			break
		}
		next := el.Next()
		d.order.Remove(el)
		delete(d.entries, entry.key)
		el = next
	}
}

func (d *dedupCache) size() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.order.Len()
}
