package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/dispatcher"
	"github.com/ValentinKolb/mcmw/proxy/transport"
	"github.com/ValentinKolb/mcmw/proxy/worker"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("proxy")

// ErrNotStarted is returned by operations that need a started proxy
var ErrNotStarted = errors.New("proxy: not started")

// Proxy is a running memcached proxy: one dispatcher accepting clients, a
// pool of workers talking to the backends and the statistics collector
type Proxy struct {
	config common.ProxyConfig

	registry   *env.Registry
	queue      *queue.Queue[*env.Job]
	collector  *stats.Collector
	pool       *worker.Pool
	dispatcher *dispatcher.Dispatcher

	metrics     *http.Server
	metricsAddr net.Addr

	cancel         context.CancelFunc
	dispatcherDone chan struct{}
	stopFlush      chan struct{}
	flushDone      chan struct{}

	mu           sync.Mutex
	started      bool
	shutdownOnce sync.Once
}

// New creates a proxy for config. Nothing is connected or opened before Start.
//
// Usage:
//
//	p, err := server.New(config, tcp.NewTCPServerConnector(), tcp.NewTCPClientConnector(5*time.Second))
//	if err != nil {
//		return err
//	}
//	return p.Serve()
func New(config common.ProxyConfig, server transport.IServerConnector, client transport.IClientConnector) (*Proxy, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	ordering, err := common.ParseOrdering(config.QueueOrdering)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		config:    config,
		registry:  env.NewRegistry(config.Backends),
		queue:     queue.New[*env.Job](config.QueueCapacity, ordering),
		collector: stats.NewCollector(config.StatsConfig()),
	}
	p.pool = worker.NewPool(config, p.registry, p.queue, p.collector, client)
	p.dispatcher = dispatcher.New(config, p.registry, p.queue, p.collector, server)

	p.collector.Gauge("mcmw_queue_depth", func() float64 { return float64(p.queue.Len()) })
	p.collector.Gauge("mcmw_clients_connected", func() float64 { return float64(p.registry.ClientCount()) })
	p.collector.Gauge("mcmw_backend_connections", func() float64 { return float64(p.pool.AliveBackends()) })
	return p, nil
}

// Start connects the workers to every backend, opens the client listener and
// starts serving. A backend that cannot be reached is fatal: Start returns an
// error wrapping worker.ErrBackendUnavailable and nothing keeps running.
func (p *Proxy) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("proxy: already started")
	}

	if err := common.InitLoggers(p.config); err != nil {
		return err
	}
	Logger.Infof("starting proxy\n%s", p.config.String())

	ctx, cancel := context.WithCancel(context.Background())
	fail := func(err error) error {
		cancel()
		p.pool.Wait(p.config.JoinTimeout)
		if closeErr := p.collector.Close(); closeErr != nil {
			Logger.Warningf("failed to close statistics: %v", closeErr)
		}
		return err
	}

	if err := p.pool.Start(ctx); err != nil {
		return fail(err)
	}
	if p.config.MetricsEndpoint != "" {
		if err := p.serveMetrics(); err != nil {
			return fail(err)
		}
	}
	if err := p.dispatcher.Listen(); err != nil {
		if p.metrics != nil {
			_ = p.metrics.Close()
		}
		return fail(err)
	}

	p.cancel = cancel
	p.dispatcherDone = make(chan struct{})
	go func() {
		defer close(p.dispatcherDone)
		if err := p.dispatcher.Run(ctx); err != nil {
			Logger.Errorf("dispatcher stopped: %v", err)
		}
	}()

	if p.config.Stats.Interval > 0 && p.config.Stats.ExportDir != "" {
		p.stopFlush = make(chan struct{})
		p.flushDone = make(chan struct{})
		go p.flushPeriodically(p.config.Stats.Interval)
	}

	p.started = true
	Logger.Infof("proxy listening on %s with %d workers and %d backends",
		p.dispatcher.Addr(), p.pool.Size(), len(p.config.Backends))
	return nil
}

// Addr returns the address clients connect to, nil before Start
func (p *Proxy) Addr() net.Addr {
	return p.dispatcher.Addr()
}

// MetricsAddr returns the address of the metrics endpoint, nil if disabled
func (p *Proxy) MetricsAddr() net.Addr {
	return p.metricsAddr
}

// Collector returns the statistics collector of the proxy
func (p *Proxy) Collector() *stats.Collector {
	return p.collector
}

// Registry returns the client and backend registry of the proxy
func (p *Proxy) Registry() *env.Registry {
	return p.registry
}

// Serve starts the proxy and blocks until SIGINT or SIGTERM, then shuts down
func (p *Proxy) Serve() error {
	if err := p.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	sig := <-signals
	Logger.Infof("received %s, shutting down", sig)
	return p.Shutdown()
}

// Shutdown stops accepting clients, lets the workers finish the request they
// are processing, abandons what is still queued and writes the final
// statistics. The dispatcher and the workers are each given the join timeout.
func (p *Proxy) Shutdown() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	var err error
	p.shutdownOnce.Do(func() {
		p.cancel()
		<-p.dispatcherDone

		p.queue.Close()
		if !p.pool.Wait(p.config.JoinTimeout) {
			Logger.Errorf("workers did not stop, continuing shutdown")
		}
		if left := p.queue.Drain(); len(left) > 0 {
			Logger.Warningf("abandoning %d queued requests", len(left))
			for _, job := range left {
				job.Abandon()
			}
		}

		if p.stopFlush != nil {
			close(p.stopFlush)
			<-p.flushDone
		}
		if p.metrics != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if shutdownErr := p.metrics.Shutdown(ctx); shutdownErr != nil {
				Logger.Warningf("failed to stop metrics endpoint: %v", shutdownErr)
			}
			cancel()
		}

		err = p.collector.Close()
		Logger.Infof("proxy stopped\n%s", p.collector.Summary())
	})
	return err
}

func (p *Proxy) serveMetrics() error {
	listener, err := net.Listen("tcp", p.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", p.config.MetricsEndpoint, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		p.collector.WritePrometheus(w)
	})
	p.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	p.metricsAddr = listener.Addr()

	go func() {
		if err := p.metrics.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	Logger.Infof("serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

func (p *Proxy) flushPeriodically(interval time.Duration) {
	defer close(p.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopFlush:
			return
		case <-ticker.C:
			if err := p.collector.FlushAll(); err != nil {
				Logger.Errorf("failed to export statistics: %v", err)
			}
		}
	}
}
