package coap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupFirstSeen(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(10, time.Second*30, func() time.Time { return now })

	req := inboundRequest(TypeConfirmable, CodePut, 0x300, []byte{0x01}, "10.0.0.1:5683", "/x")

	entry, fresh := cache.check(req)
	require.True(t, fresh)
	assert.True(t, entry.pending)
	assert.Equal(t, 1, cache.size())
}

func TestDedupRepeatWhilePending(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(10, time.Second*30, func() time.Time { return now })

	req := inboundRequest(TypeConfirmable, CodePut, 0x300, []byte{0x01}, "10.0.0.1:5683", "/x")
	_, fresh := cache.check(req)
	require.True(t, fresh)

	entry, fresh := cache.check(req)
	require.False(t, fresh)
	assert.True(t, entry.pending)
	assert.Nil(t, entry.rsp)
}

func TestDedupReplayAfterResponse(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(10, time.Second*30, func() time.Time { return now })

	req := inboundRequest(TypeConfirmable, CodePut, 0x300, []byte{0x01}, "10.0.0.1:5683", "/x")
	_, _ = cache.check(req)
	rsp := req.MakeReply(RspCodeChanged, nil)
	cache.save(req, rsp)

	entry, fresh := cache.check(req)
	require.False(t, fresh)
	assert.False(t, entry.pending)
	assert.Same(t, rsp, entry.rsp)
}

func TestDedupSameMidDifferentRemote(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(10, time.Second*30, func() time.Time { return now })

	a := inboundRequest(TypeConfirmable, CodeGet, 0x300, nil, "10.0.0.1:5683", "/x")
	b := inboundRequest(TypeConfirmable, CodeGet, 0x300, nil, "10.0.0.2:5683", "/x")

	_, fresh := cache.check(a)
	assert.True(t, fresh)
	_, fresh = cache.check(b)
	assert.True(t, fresh)
}

func TestDedupExpiration(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(10, time.Second*30, func() time.Time { return now })

	req := inboundRequest(TypeConfirmable, CodeGet, 0x300, nil, "10.0.0.1:5683", "/x")
	_, _ = cache.check(req)

	cache.evict(now.Add(time.Second * 29))
	assert.Equal(t, 1, cache.size())

	cache.evict(now.Add(time.Second * 31))
	assert.Equal(t, 0, cache.size())

	_, fresh := cache.check(req)
	assert.True(t, fresh)
}

func TestDedupCapacityDropsOldest(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(3, time.Second*30, func() time.Time { return now })

	for mid := uint16(1); mid <= 4; mid++ {
		req := inboundRequest(TypeConfirmable, CodeGet, mid, nil, "10.0.0.1:5683", "/x")
		_, fresh := cache.check(req)
		require.True(t, fresh)
	}
	assert.Equal(t, 3, cache.size())

	// mid 1 was the oldest and is gone, mid 4 is still present
	first := inboundRequest(TypeConfirmable, CodeGet, 1, nil, "10.0.0.1:5683", "/x")
	_, fresh := cache.check(first)
	assert.True(t, fresh)

	last := inboundRequest(TypeConfirmable, CodeGet, 4, nil, "10.0.0.1:5683", "/x")
	_, fresh = cache.check(last)
	assert.False(t, fresh)
}
