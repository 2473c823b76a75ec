// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"math/rand"
	"time"
)

// transmissionParams is the confirmable retransmission schedule (RFC 7252
// section 4.8): a per-transaction base timeout drawn from
// [ackTimeout, ackTimeout*randomFactor], doubled on each attempt, with at
// most maxRetransmit retransmissions after the initial send.
type transmissionParams struct {
	ackTimeout    time.Duration
	randomFactor  float64
	maxRetransmit int
	rnd           func() float64
}

func newTransmissionParams(conf *Config) *transmissionParams {
	return &transmissionParams{
		ackTimeout:    conf.AckTimeout,
		randomFactor:  conf.AckRandomFactor,
		maxRetransmit: conf.MaxRetransmit,
		rnd:           rand.Float64,
	}
}

// base draws the randomized initial timeout for one transaction.
func (p *transmissionParams) base() time.Duration {
	if p.randomFactor <= 1.0 {
		return p.ackTimeout
	}
	spread := float64(p.ackTimeout) * (p.randomFactor - 1.0)
	return p.ackTimeout + time.Duration(spread*p.rnd())
}
