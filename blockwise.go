// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package coap

import (
	"errors"
	"math"
)

// BlockMetadata is the decoded form of a block1/block2 option (RFC 7959).
type BlockMetadata struct {
	Size int
	More bool
	Num  int
}

func blockDecode(i interface{}) (*BlockMetadata, error) {
	if i == nil {
		return nil, nil
	}

	buf, ok := i.([]byte)
	if !ok {
		return nil, errors.New("coap: invalid block option type")
	}

	var bm BlockMetadata

	switch len(buf) {
	case 0:
		bm.Size = 16
	case 1:
		if (buf[0] & 0x08) == 0x08 {
			bm.More = true
		}
		bm.Size = int(math.Pow(2.0, 4.0+float64(buf[0]&0x07)))
		bm.Num = int(buf[0] >> 4)
	case 2:
		if (buf[1] & 0x08) == 0x08 {
			bm.More = true
		}
		bm.Size = int(math.Pow(2.0, 4.0+float64(buf[1]&0x07)))
		bm.Num = int(buf[0])<<4 + int(buf[1]>>4)
	case 3:
		if (buf[2] & 0x08) == 0x08 {
			bm.More = true
		}
		bm.Size = int(math.Pow(2.0, 4.0+float64(buf[2]&0x07)))
		bm.Num = int(buf[0])<<12 + int(buf[1])<<4 + int(buf[2]>>4)
	default:
		return nil, errors.New("coap: block option invalid length")
	}

	return &bm, nil
}

func blockInit(num int, more bool, sz int) *BlockMetadata {
	return &BlockMetadata{Size: sz, Num: num, More: more}
}

func (bm *BlockMetadata) Encode() []byte {
	sz := byte(0)
	switch bm.Size {
	case 16:
		sz = 0x00
	case 32:
		sz = 0x01
	case 64:
		sz = 0x02
	case 128:
		sz = 0x03
	case 256:
		sz = 0x04
	case 512:
		sz = 0x05
	case 1024:
		sz = 0x06
	case 2048:
		sz = 0x07
	}

	var buf []byte
	if bm.Num <= 7 {
		buf = make([]byte, 1)
		buf[0] = byte((bm.Num << 4) & 0xFF)
	} else if bm.Num <= 4095 {
		buf = make([]byte, 2)
		buf[0] = byte((bm.Num >> 4) & 0xFF)
		buf[1] = byte((bm.Num << 4) & 0xFF)
	} else {
		buf = make([]byte, 3)
		buf[0] = byte((bm.Num >> 12) & 0xFF)
		buf[1] = byte((bm.Num >> 4) & 0xFF)
		buf[2] = byte((bm.Num << 4) & 0xFF)
	}
	last := len(buf) - 1
	if bm.More {
		buf[last] |= 0x08
	}
	buf[last] |= sz
	return buf
}

// MakeBlockFollowUpRequest queues the next block of an ongoing transfer. It
// bypasses the endpoint queue cap so a transfer already admitted always
// completes in order.
func (s *Server) MakeBlockFollowUpRequest(packet *Message, callback Callback, transCtx TransportContext) error {
	return s.MakeRequestWithPriority(packet, callback, transCtx, PriorityHigh, true)
}
