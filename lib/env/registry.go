// Package env holds the registry of live entities the proxy works with: the
// connected clients and the configured backends.
//
// A Registry is created once per proxy and passed to the dispatcher and the
// worker pool. There is no package level state, several proxies can run in one
// process (which the tests do).
package env

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("env")

// Backend is a configured backend cache server
type Backend struct {
	// Index is the position of the backend in the configured list
	Index   int
	Name    string
	Address string
}

func (b Backend) String() string {
	return fmt.Sprintf("%s (%s)", b.Name, b.Address)
}

// Registry tracks connected clients and the static backend list
type Registry struct {
	backends []Backend
	clients  *xsync.MapOf[string, *Client]
	nextID   atomic.Uint64
	accepted *xsync.Counter
}

// NewRegistry creates a registry for the given backend addresses. Backends are
// named Server-0, Server-1, ... in the order given.
func NewRegistry(addresses []string) *Registry {
	backends := make([]Backend, len(addresses))
	for i, addr := range addresses {
		backends[i] = Backend{Index: i, Name: fmt.Sprintf("Server-%d", i), Address: addr}
	}
	return &Registry{
		backends: backends,
		clients:  xsync.NewMapOf[string, *Client](),
		accepted: xsync.NewCounter(),
	}
}

// Backends returns the configured backends
func (r *Registry) Backends() []Backend {
	return r.backends
}

// AddClient registers a new client connection and creates its request parser
func (r *Registry) AddClient(conn net.Conn, config protocol.ParserConfig) *Client {
	c := &Client{
		name: fmt.Sprintf("Client-%d", r.nextID.Add(1)-1),
		conn: conn,
	}
	c.turn.waiting = make(map[uint64]chan struct{})
	c.turn.finished = make(map[uint64]struct{})
	c.parser = protocol.NewRequestParser(c, config)

	r.clients.Store(c.name, c)
	r.accepted.Inc()
	Logger.Debugf("registered %s from %s", c.name, conn.RemoteAddr())
	return c
}

// RemoveClient unregisters a client, closes its socket and frees its parser
// buffer once no request holds it anymore. It returns false if the client was
// not registered.
func (r *Registry) RemoveClient(c *Client) bool {
	if _, ok := r.clients.LoadAndDelete(c.name); !ok {
		return false
	}
	_ = c.conn.Close()
	c.parser.Close()
	Logger.Debugf("removed %s", c.name)
	return true
}

// Client returns the client registered under name
func (r *Registry) Client(name string) (*Client, bool) {
	return r.clients.Load(name)
}

// ClientCount returns the number of connected clients
func (r *Registry) ClientCount() int {
	return r.clients.Size()
}

// AcceptedCount returns the number of clients registered since start
func (r *Registry) AcceptedCount() int64 {
	return r.accepted.Value()
}

// CloseClients closes every client socket. Readers blocked on a socket return
// with an error and remove their client themselves.
func (r *Registry) CloseClients() {
	r.clients.Range(func(_ string, c *Client) bool {
		_ = c.conn.Close()
		return true
	})
}
