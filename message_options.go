// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

// OptionID identifies an option in a message.
type OptionID uint8

/*
   +-----+----+---+---+---+----------------+--------+--------+---------+
   | No. | C  | U | N | R | Name           | Format | Length | Default |
   +-----+----+---+---+---+----------------+--------+--------+---------+
   |   1 | x  |   |   | x | If-Match       | opaque | 0-8    | (none)  |
   |   3 | x  | x | - |   | Uri-Host       | string | 1-255  | (see    |
   |     |    |   |   |   |                |        |        | below)  |
   |   4 |    |   |   | x | ETag           | opaque | 1-8    | (none)  |
   |   5 | x  |   |   |   | If-None-Match  | empty  | 0      | (none)  |
   |   7 | x  | x | - |   | Uri-Port       | uint   | 0-2    | (see    |
   |     |    |   |   |   |                |        |        | below)  |
   |   8 |    |   |   | x | Location-Path  | string | 0-255  | (none)  |
   |  11 | x  | x | - | x | Uri-Path       | string | 0-255  | (none)  |
   |  12 |    |   |   |   | Content-Format | uint   | 0-2    | (none)  |
   |  14 |    | x | - |   | Max-Age        | uint   | 0-4    | 60      |
   |  15 | x  | x | - | x | Uri-Query      | string | 0-255  | (none)  |
   |  17 | x  |   |   |   | Accept         | uint   | 0-2    | (none)  |
   |  20 |    |   |   | x | Location-Query | string | 0-255  | (none)  |
   |  23 | x  | x |   |   | Block2         | uint   | 0-3    | (none)  |
   |  27 | x  | x |   |   | Block1         | uint   | 0-3    | (none)  |
   |  35 | x  | x | - |   | Proxy-Uri      | string | 1-1034 | (none)  |
   |  39 | x  | x | - |   | Proxy-Scheme   | string | 1-255  | (none)  |
   |  60 |    |   | x |   | Size1          | uint   | 0-4    | (none)  |
   +-----+----+---+---+---+----------------+--------+--------+---------+
*/

// Option IDs.
const (
	OptIfMatch       OptionID = 1
	OptURIHost       OptionID = 3
	OptETag          OptionID = 4
	OptIfNoneMatch   OptionID = 5
	OptObserve       OptionID = 6
	OptURIPort       OptionID = 7
	OptLocationPath  OptionID = 8
	OptURIPath       OptionID = 11
	OptContentFormat OptionID = 12
	OptMaxAge        OptionID = 14
	OptURIQuery      OptionID = 15
	OptAccept        OptionID = 17
	OptLocationQuery OptionID = 20
	OptBlock2        OptionID = 23
	OptBlock1        OptionID = 27
	OptProxyURI      OptionID = 35
	OptProxyScheme   OptionID = 39
	OptSize1         OptionID = 60
	OptSize2         OptionID = 28
)

var knownOptions = map[OptionID]bool{
	OptIfMatch:       true,
	OptURIHost:       true,
	OptETag:          true,
	OptIfNoneMatch:   true,
	OptObserve:       true,
	OptURIPort:       true,
	OptLocationPath:  true,
	OptURIPath:       true,
	OptContentFormat: true,
	OptMaxAge:        true,
	OptURIQuery:      true,
	OptAccept:        true,
	OptLocationQuery: true,
	OptBlock2:        true,
	OptBlock1:        true,
	OptProxyURI:      true,
	OptProxyScheme:   true,
	OptSize1:         true,
	OptSize2:         true,
}

// IsCritical reports whether an option must be understood by the receiver
// (RFC 7252 section 5.4.1: odd option numbers are critical).
func (o OptionID) IsCritical() bool {
	return o&1 == 1
}

type option struct {
	ID    OptionID
	Value interface{}
}

type options []option

func (o options) Minus(oid OptionID) options {
	rv := options{}
	for _, opt := range o {
		if opt.ID != oid {
			rv = append(rv, opt)
		}
	}
	return rv
}

// CriticalOptTest fails when the message carries a critical option this
// runtime does not recognize.
func (m *Message) CriticalOptTest() error {
	for _, opt := range m.opts {
		if !knownOptions[opt.ID] && opt.ID.IsCritical() {
			return ErrBadOption
		}
	}
	return nil
}
