package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dispatcher")

// ErrNotListening is returned by Run before Listen succeeded
var ErrNotListening = errors.New("dispatcher: not listening")

// Dispatcher accepts clients and turns their bytes into queued jobs
type Dispatcher struct {
	config    common.ProxyConfig
	registry  *env.Registry
	queue     *queue.Queue[*env.Job]
	recorder  stats.Recorder
	connector transport.IServerConnector

	listener net.Listener
	rr       atomic.Uint64
	readers  sync.WaitGroup
}

// New creates a dispatcher feeding q
func New(config common.ProxyConfig, registry *env.Registry, q *queue.Queue[*env.Job],
	recorder stats.Recorder, connector transport.IServerConnector) *Dispatcher {
	return &Dispatcher{
		config:    config,
		registry:  registry,
		queue:     q,
		recorder:  recorder,
		connector: connector,
	}
}

// Listen opens the client listener on the configured endpoint
func (d *Dispatcher) Listen() error {
	listener, err := d.connector.Listen(d.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Endpoint, err)
	}
	d.listener = listener
	Logger.Infof("accepting %s clients on %s", d.connector.GetName(), listener.Addr())
	return nil
}

// Addr returns the address clients connect to
func (d *Dispatcher) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Run accepts clients until ctx is done. On return every client connection is
// closed and every reader has exited or the join timeout has passed.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.listener == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = d.listener.Close() })
	defer stop()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			Logger.Errorf("accept error: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if err := d.connector.UpgradeConnection(conn, d.config.ClientSocket); err != nil {
			Logger.Warningf("failed to tune client socket %s: %v", conn.RemoteAddr(), err)
		}

		c := d.registry.AddClient(conn, d.config.RequestParserConfig())
		d.readers.Add(1)
		go d.serve(ctx, c)
	}

	_ = d.listener.Close()
	d.registry.CloseClients()
	if !d.join() {
		Logger.Warningf("client readers did not exit within %s", d.config.JoinTimeout)
	}
	return nil
}

// join waits for all readers, bounded by the join timeout
func (d *Dispatcher) join() bool {
	done := make(chan struct{})
	go func() {
		d.readers.Wait()
		close(done)
	}()
	if d.config.JoinTimeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d.config.JoinTimeout):
		return false
	}
}

// serve reads requests of one client. Only one request of a client is in
// flight at a time: after queueing it the reader waits until the worker has
// released the parser buffer.
func (d *Dispatcher) serve(ctx context.Context, c *env.Client) {
	defer d.readers.Done()
	defer func() {
		d.registry.RemoveClient(c)
		d.recorder.ClientClosed(c.Name())
	}()

	p := c.Parser()
	for {
		if req := p.Advance(); req != nil {
			if !d.submit(ctx, c, req) {
				return
			}
			continue
		}

		n, err := p.Fill(c.Conn())
		if n > 0 {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				Logger.Debugf("%s closed the connection", c.Name())
			case ctx.Err() != nil, errors.Is(err, net.ErrClosed):
			default:
				Logger.Warningf("read from %s failed: %v", c.Name(), err)
			}
			return
		}
	}
}

// submit queues req and waits until its buffer is released. It returns false
// if the client has to be dropped.
func (d *Dispatcher) submit(ctx context.Context, c *env.Client, req *protocol.Request) bool {
	if n := len(d.registry.Backends()); n > 0 {
		req.RoundRobinIndex = int((d.rr.Add(1) - 1) % uint64(n))
	}
	d.recorder.ClientArrival(c.Name(), req.ArrivedAt)

	job := &env.Job{Request: req, Client: c, Ticket: c.Ticket()}
	released := c.Parser().Released()

	req.EnqueueDepth = d.queue.Len()
	req.EnqueuedAt = time.Now()
	if err := d.queue.Put(ctx, job); err != nil {
		Logger.Debugf("dropping %s request of %s: %v", req.Kind, c.Name(), err)
		job.Abandon()
		return false
	}

	select {
	case <-released:
		return true
	case <-ctx.Done():
		return false
	}
}
