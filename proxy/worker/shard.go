package worker

import (
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/util"
)

// shard is one backend write of a request
type shard struct {
	backend *backendConn
	// verbatim writes the request as received, otherwise count keys starting
	// at key from are sent as their own fetch command
	verbatim bool
	from     int
	count    int
}

// shardSizes splits keys over backends as evenly as possible. The first
// keys%backends backends get one key more than the rest.
func shardSizes(keys, backends int) []int {
	if backends <= 0 {
		return nil
	}
	base, remainder := keys/backends, keys%backends
	sizes := make([]int, backends)
	for i := range sizes {
		sizes[i] = base
		if remainder > 0 {
			sizes[i]++
			remainder--
		}
	}
	return sizes
}

// planShards appends the writes for req to dst. backends must already be
// rotated to the request's round-robin index.
//
//   - stores go verbatim to every backend in rotated order
//   - fetches go verbatim to the first backend unless sharding is on and the
//     request has more than one tracked key
//   - sharded fetches split their keys with shardSizes, backends without keys
//     get no write
func planShards(dst []shard, req *protocol.Request, backends *util.OffsetList[*backendConn], sharded bool) []shard {
	if backends.Len() == 0 {
		return dst
	}

	switch {
	case req.Kind == protocol.KindStore:
		for _, b := range backends.All() {
			dst = append(dst, shard{backend: b, verbatim: true})
		}
	case !sharded || req.KeyCount < 2 || req.Truncated:
		dst = append(dst, shard{backend: backends.At(0), verbatim: true})
	default:
		sizes := shardSizes(req.KeyCount, backends.Len())
		from := 0
		for i, b := range backends.All() {
			if sizes[i] == 0 {
				continue
			}
			dst = append(dst, shard{backend: b, from: from, count: sizes[i]})
			from += sizes[i]
		}
	}
	return dst
}

// write sends the shard to its backend
func (s shard) write(req *protocol.Request) error {
	var err error
	if s.verbatim {
		_, err = req.WriteTo(s.backend.conn)
	} else {
		_, err = req.WriteShardTo(s.backend.conn, s.from, s.count)
	}
	return err
}
