package worker

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport"
)

// Pool runs the configured number of workers on one request queue
type Pool struct {
	config    common.ProxyConfig
	registry  *env.Registry
	queue     *queue.Queue[*env.Job]
	recorder  stats.Recorder
	connector transport.IClientConnector

	workers []*Worker
	conns   []net.Conn // every backend connection, closed on a forced stop
	alive   atomic.Int64
	wg      sync.WaitGroup
}

// NewPool creates a pool, Start connects and runs the workers
func NewPool(config common.ProxyConfig, registry *env.Registry, q *queue.Queue[*env.Job],
	recorder stats.Recorder, connector transport.IClientConnector) *Pool {
	return &Pool{
		config:    config,
		registry:  registry,
		queue:     q,
		recorder:  recorder,
		connector: connector,
	}
}

// Start connects every worker to every backend and starts the workers. If a
// single backend cannot be reached nothing is started and the error wraps
// ErrBackendUnavailable.
func (p *Pool) Start(ctx context.Context) error {
	backends := p.registry.Backends()
	if len(backends) == 0 {
		return ErrNoBackends
	}

	for i := 0; i < max(p.config.Workers, 1); i++ {
		w := newWorker(i, p.config, p.queue, p.recorder, &p.alive)
		if err := w.connect(ctx, backends, p.connector); err != nil {
			for _, started := range p.workers {
				started.closeBackends()
			}
			p.workers = nil
			p.conns = nil
			return err
		}
		for _, b := range w.backends.Items() {
			p.conns = append(p.conns, b.conn)
		}
		p.workers = append(p.workers, w)
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.run(ctx)
		}(w)
	}
	Logger.Infof("started %d workers, each connected to %d backends", len(p.workers), len(backends))
	return nil
}

// Size returns the number of started workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// AliveBackends returns the number of open backend connections over all
// workers
func (p *Pool) AliveBackends() int64 {
	return p.alive.Load()
}

// Wait joins the workers after their context was cancelled. If they do not
// exit within timeout their backend connections are closed, which ends any
// wait for a backend reply, and Wait gives them one more timeout. It reports
// whether every worker exited.
func (p *Pool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
	}

	Logger.Warningf("workers did not exit within %s, closing backend connections", timeout)
	for _, conn := range p.conns {
		_ = conn.Close()
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		Logger.Errorf("workers did not exit after closing their backend connections")
		return false
	}
}
