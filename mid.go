package coap

import (
	"math/rand"

	"go.uber.org/atomic"
)

// midSupplier hands out 16-bit message ids, starting from a random value and
// wrapping modulo 2^16. Uniqueness within the duplicate window is the
// detector's concern, not the supplier's.
type midSupplier struct {
	mid atomic.Uint32
}

func newMidSupplier() *midSupplier {
	s := &midSupplier{}
	s.mid.Store(rand.Uint32() & 0xFFFF)
	return s
}

func (s *midSupplier) next() uint16 {
	return uint16(s.mid.Inc())
}
