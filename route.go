// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"strings"
	"sync"
)

// RouteCallback handles one request exchange. Returning a *CodeError turns
// into a protocol error response with that code; any other error becomes
// 5.00 InternalServerError.
type RouteCallback func(ex *Exchange) error

type routeEntry struct {
	uri      string
	wildcard bool
	callback RouteCallback
}

// router maps request URIs to handlers. Exact matches win; otherwise
// handlers registered with a trailing star match by prefix, first
// registered first.
type router struct {
	mux   sync.RWMutex
	exact map[string]*routeEntry
	wild  []*routeEntry
}

func newRouter() *router {
	return &router{exact: map[string]*routeEntry{}}
}

func normalizeURI(uri string) string {
	uri = strings.TrimPrefix(uri, "/")
	return "/" + uri
}

func (r *router) add(uri string, callback RouteCallback) {
	norm := normalizeURI(uri)

	r.mux.Lock()
	defer r.mux.Unlock()

	if strings.HasSuffix(norm, "*") {
		entry := &routeEntry{uri: strings.TrimSuffix(norm, "*"), wildcard: true, callback: callback}
		for i, w := range r.wild {
			if w.uri == entry.uri {
				r.wild[i] = entry
				return
			}
		}
		r.wild = append(r.wild, entry)
		return
	}
	r.exact[norm] = &routeEntry{uri: norm, callback: callback}
}

func (r *router) remove(uri string) {
	norm := normalizeURI(uri)

	r.mux.Lock()
	defer r.mux.Unlock()

	if strings.HasSuffix(norm, "*") {
		prefix := strings.TrimSuffix(norm, "*")
		for i, w := range r.wild {
			if w.uri == prefix {
				r.wild = append(r.wild[:i], r.wild[i+1:]...)
				return
			}
		}
		return
	}
	delete(r.exact, norm)
}

func (r *router) find(uri string) RouteCallback {
	norm := normalizeURI(uri)

	r.mux.RLock()
	defer r.mux.RUnlock()

	if entry, found := r.exact[norm]; found {
		return entry.callback
	}
	for _, w := range r.wild {
		if strings.HasPrefix(norm, w.uri) {
			return w.callback
		}
	}
	return nil
}

// AddRoute registers a handler for a URI. A trailing star makes it a prefix
// handler: /s/temp* receives every request under /s/temp.
func (s *Server) AddRoute(uri string, callback RouteCallback) {
	s.routes.add(uri, callback)
	logDebug(nil, nil, "coap: handler added on %s", uri)
}

// RemoveRoute drops the handler registered for the URI.
func (s *Server) RemoveRoute(uri string) {
	s.routes.remove(uri)
}
