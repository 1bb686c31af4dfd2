package mctest

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
)

// Mode selects how a Backend answers
type Mode int32

const (
	// Normal answers like a memcached server
	Normal Mode = iota
	// ServerError answers every request with SERVER_ERROR
	ServerError
	// Hang reads requests but never answers
	Hang
	// CloseOnRequest closes the connection when a request arrives
	CloseOnRequest
	// Malformed answers with a value block broken by a line outside the
	// reply grammar
	Malformed
)

type item struct {
	flags string
	data  []byte
	cas   uint64
}

// Backend is an in-memory memcached server speaking the subset of the text
// protocol the proxy forwards (set, get, gets)
type Backend struct {
	listener net.Listener
	mode     atomic.Int32
	delay    atomic.Int64

	mu       sync.Mutex
	items    map[string]item
	received []string
	conns    map[net.Conn]struct{}
	cas      uint64

	wg     sync.WaitGroup
	closed atomic.Bool
}

// submitter adapts a net.Conn to protocol.Submitter
type submitter struct {
	conn net.Conn
	name string
}

func (s *submitter) Name() string   { return s.name }
func (s *submitter) Conn() net.Conn { return s.conn }

// NewBackend starts a backend on a random local port. It is closed when the
// test finishes.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	b, err := StartBackend("127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start backend: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

// StartBackend starts a backend listening on addr
func StartBackend(addr string) (*Backend, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		listener: listener,
		items:    make(map[string]item),
		conns:    make(map[net.Conn]struct{}),
	}
	b.wg.Add(1)
	go b.accept()
	return b, nil
}

// Addr returns the address of the backend
func (b *Backend) Addr() string {
	return b.listener.Addr().String()
}

// SetMode changes how requests are answered from now on
func (b *Backend) SetMode(m Mode) {
	b.mode.Store(int32(m))
}

// SetDelay delays every answer by d
func (b *Backend) SetDelay(d time.Duration) {
	b.delay.Store(int64(d))
}

// Put stores a value directly
func (b *Backend) Put(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cas++
	b.items[key] = item{flags: "0", data: []byte(value), cas: b.cas}
}

// Value returns a stored value
func (b *Backend) Value(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[key]
	return string(it.data), ok
}

// Received returns every command received so far, as sent by the client
func (b *Backend) Received() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

// ConnCount returns the number of open connections
func (b *Backend) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close stops the listener and closes every connection
func (b *Backend) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	_ = b.listener.Close()
	b.mu.Lock()
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Backend) accept() {
	defer b.wg.Done()
	for id := 0; ; id++ {
		c, err := b.listener.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.closed.Load() {
			b.mu.Unlock()
			_ = c.Close()
			return
		}
		b.conns[c] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(c, fmt.Sprintf("backend-client-%d", id))
	}
}

func (b *Backend) serve(c net.Conn, name string) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = c.Close()
	}()

	parser := protocol.NewRequestParser(&submitter{conn: c, name: name}, protocol.ParserConfig{})
	defer parser.Close()

	for {
		req := parser.Advance()
		if req == nil {
			n, err := parser.Fill(c)
			if n == 0 && err != nil {
				return
			}
			continue
		}

		b.mu.Lock()
		b.received = append(b.received, string(req.Bytes()))
		b.mu.Unlock()

		reply := b.handle(req)
		req.Release()

		switch Mode(b.mode.Load()) {
		case Hang:
			continue
		case CloseOnRequest:
			return
		case ServerError:
			reply = []byte("SERVER_ERROR out of memory\r\n")
		case Malformed:
			reply = []byte("VALUE k 0 1\r\nX\r\nBOGUS\r\nEND\r\n")
		}

		if d := time.Duration(b.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		if len(reply) > 0 {
			if _, err := c.Write(reply); err != nil && !errors.Is(err, net.ErrClosed) {
				return
			}
		}
	}
}

func (b *Backend) handle(req *protocol.Request) []byte {
	raw := req.Bytes()
	line := raw
	if i := bytes.Index(raw, []byte("\r\n")); i >= 0 {
		line = raw[:i]
	}
	fields := strings.Fields(string(line))

	b.mu.Lock()
	defer b.mu.Unlock()

	if req.Kind == protocol.KindStore {
		if len(fields) < 5 {
			return []byte("CLIENT_ERROR bad command line format\r\n")
		}
		start := len(line) + 2
		b.cas++
		b.items[fields[1]] = item{
			flags: fields[2],
			data:  append([]byte(nil), raw[start:start+req.DataLength]...),
			cas:   b.cas,
		}
		if req.NoReply {
			return nil
		}
		return []byte("STORED\r\n")
	}

	if req.KeyCount == 0 {
		return []byte("ERROR\r\n")
	}
	var out bytes.Buffer
	for i := 0; i < req.KeyCount; i++ {
		key := string(req.Key(i))
		it, ok := b.items[key]
		if !ok {
			continue
		}
		out.WriteString("VALUE " + key + " " + it.flags + " " + strconv.Itoa(len(it.data)))
		if req.Cas {
			out.WriteString(" " + strconv.FormatUint(it.cas, 10))
		}
		out.WriteString("\r\n")
		out.Write(it.data)
		out.WriteString("\r\n")
	}
	out.WriteString("END\r\n")
	return out.Bytes()
}
