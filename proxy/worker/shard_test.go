package worker

import (
	"testing"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/util"
	"github.com/stretchr/testify/assert"
)

func TestShardSizes(t *testing.T) {
	tests := []struct {
		keys, backends int
		want           []int
	}{
		{7, 3, []int{3, 2, 2}},
		{6, 3, []int{2, 2, 2}},
		{2, 3, []int{1, 1, 0}},
		{0, 2, []int{0, 0}},
		{5, 1, []int{5}},
		{3, 0, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shardSizes(tt.keys, tt.backends), "%d keys on %d backends", tt.keys, tt.backends)
	}
}

func fakeBackends(n int) *util.OffsetList[*backendConn] {
	l := util.NewOffsetList[*backendConn]()
	for i := 0; i < n; i++ {
		l.Add(&backendConn{backend: env.Backend{Index: i}})
	}
	return l
}

func indices(shards []shard) []int {
	out := make([]int, len(shards))
	for i, s := range shards {
		out[i] = s.backend.backend.Index
	}
	return out
}

func TestPlanShards(t *testing.T) {
	backends := fakeBackends(3)
	backends.SetOffset(1)

	t.Run("store goes everywhere", func(t *testing.T) {
		shards := planShards(nil, &protocol.Request{Kind: protocol.KindStore, KeyCount: 1}, backends, true)
		assert.Equal(t, []int{1, 2, 0}, indices(shards))
		for _, s := range shards {
			assert.True(t, s.verbatim)
		}
	})

	t.Run("unsharded fetch", func(t *testing.T) {
		shards := planShards(nil, &protocol.Request{Kind: protocol.KindFetch, KeyCount: 7}, backends, false)
		assert.Equal(t, []int{1}, indices(shards))
		assert.True(t, shards[0].verbatim)
	})

	t.Run("single key is not split", func(t *testing.T) {
		shards := planShards(nil, &protocol.Request{Kind: protocol.KindFetch, KeyCount: 1}, backends, true)
		assert.Equal(t, []int{1}, indices(shards))
		assert.True(t, shards[0].verbatim)
	})

	t.Run("truncated key list is not split", func(t *testing.T) {
		req := &protocol.Request{Kind: protocol.KindFetch, KeyCount: 250, Truncated: true}
		shards := planShards(nil, req, backends, true)
		assert.Equal(t, []int{1}, indices(shards))
	})

	t.Run("sharded fetch", func(t *testing.T) {
		shards := planShards(nil, &protocol.Request{Kind: protocol.KindFetch, KeyCount: 7}, backends, true)
		assert.Equal(t, []int{1, 2, 0}, indices(shards))
		assert.Equal(t, []shard{
			{backend: backends.At(0), from: 0, count: 3},
			{backend: backends.At(1), from: 3, count: 2},
			{backend: backends.At(2), from: 5, count: 2},
		}, shards)
	})

	t.Run("backends without keys are skipped", func(t *testing.T) {
		shards := planShards(nil, &protocol.Request{Kind: protocol.KindFetch, KeyCount: 2}, backends, true)
		assert.Equal(t, []int{1, 2}, indices(shards))
	})

	t.Run("no backends", func(t *testing.T) {
		assert.Empty(t, planShards(nil, &protocol.Request{Kind: protocol.KindStore}, fakeBackends(0), true))
	})
}
