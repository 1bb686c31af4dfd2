package protocol

import (
	"io"
	"net"
	"time"
)

// RequestKind distinguishes store and fetch requests
type RequestKind uint8

const (
	KindStore RequestKind = iota + 1
	KindFetch
)

func (k RequestKind) String() string {
	switch k {
	case KindStore:
		return "set"
	case KindFetch:
		return "get"
	default:
		return "unknown"
	}
}

// Submitter is the client connection a request was read from
type Submitter interface {
	// Name identifies the connection in logs and statistics
	Name() string
	// Conn is the socket the response has to be written to
	Conn() net.Conn
}

// KeyDescriptor locates a key inside the raw bytes of a request
type KeyDescriptor struct {
	Offset int
	Length int
}

var (
	crlf    = []byte("\r\n")
	space   = []byte(" ")
	getCmd  = []byte("get ")
	getsCmd = []byte("gets ")
	noReply = []byte("noreply")
)

// Request is a complete client command. Its raw bytes and key descriptors live
// in the buffer of the parser that produced it and stay valid until Release is
// called.
type Request struct {
	Kind      RequestKind
	Submitter Submitter

	// Cas is set for gets commands
	Cas bool
	// NoReply is set for store commands carrying the noreply option
	NoReply bool
	// KeyCount is the number of tracked keys
	KeyCount int
	// IsMulti is set for fetches with more than one key
	IsMulti bool
	// Truncated is set when the request had more keys than could be tracked
	Truncated bool
	// DataLength is the declared size of a store data block
	DataLength int

	// RoundRobinIndex is the backend that is served first for this request
	RoundRobinIndex int
	// MissCount is the number of requested keys still unanswered
	MissCount int

	// instrumentation
	ArrivedAt    time.Time
	EnqueuedAt   time.Time
	DequeuedAt   time.Time
	EnqueueDepth int
	DequeueDepth int
	SentAt       []time.Time
	ReceivedAt   []time.Time

	parser *RequestParser
	raw    []byte
	keys   []KeyDescriptor
}

// Bytes returns the raw command as received from the client
func (r *Request) Bytes() []byte {
	return r.raw
}

// Key returns the i-th key of the request
func (r *Request) Key(i int) []byte {
	d := r.keys[i]
	return r.raw[d.Offset : d.Offset+d.Length]
}

// Keys returns the key descriptors of the request
func (r *Request) Keys() []KeyDescriptor {
	return r.keys
}

// WriteTo writes the raw command verbatim to w. It can be called any number
// of times, e.g. once per backend a store is replicated to.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	bufs := net.Buffers{r.raw}
	return bufs.WriteTo(w)
}

// AppendKeys appends count keys starting at key from to bufs, separated by
// single spaces. No command header and no terminator are added.
func (r *Request) AppendKeys(bufs net.Buffers, from, count int) net.Buffers {
	for i := from; i < from+count && i < len(r.keys); i++ {
		if i > from {
			bufs = append(bufs, space)
		}
		bufs = append(bufs, r.Key(i))
	}
	return bufs
}

// WriteShardTo writes a fetch command for count keys starting at key from to
// w. The command keyword of the client request is kept.
func (r *Request) WriteShardTo(w io.Writer, from, count int) (int64, error) {
	header := getCmd
	if r.Cas {
		header = getsCmd
	}
	bufs := make(net.Buffers, 0, 2*count+2)
	bufs = append(bufs, header)
	bufs = r.AppendKeys(bufs, from, count)
	bufs = append(bufs, crlf)
	return bufs.WriteTo(w)
}

// Release hands the raw bytes back to the parser. The request must not be
// used for any backend write afterwards. Calling it twice is harmless.
func (r *Request) Release() {
	if r.parser != nil {
		r.parser.Release()
		r.parser = nil
	}
}
