// Package stats collects per-request timing samples, client thinking times and
// error counters of the proxy.
//
// Samples are pushed into an MPSC queue and applied by a single collector
// goroutine, so recording never blocks a worker. The collected data is
// available in three forms:
//
//   - Prometheus metrics (VictoriaMetrics set, see WritePrometheus)
//   - stat files in the export directory (per job, per time bucket, histogram
//     and thinking time), written by Flush and Close
//   - a summary text logged at shutdown
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("stats")

// Recorder receives statistics events from the dispatcher and the workers
type Recorder interface {
	// Record queues the sample of a processed or abandoned request
	Record(s Sample)
	// ClientArrival reports the first byte of a new request from client
	ClientArrival(client string, at time.Time)
	// ClientReplied reports the last byte of a reply sent to client
	ClientReplied(client string, at time.Time)
	// ClientClosed forgets the reply time of a disconnected client
	ClientClosed(client string)
	// BackendReply counts a reply received from backend
	BackendReply(backend string, kind protocol.ResponseKind)
	// Flush writes the exports of one worker
	Flush(worker int) error
}

// Config controls what the collector keeps and exports
type Config struct {
	// ExportDir is the directory for stat files, empty disables file exports
	ExportDir string
	// Launch prefixes every file name, defaults to the start time
	Launch string
	// Percentile reported next to average and median (1..100)
	Percentile float64
	// Resolution is the length of one per-second bucket
	Resolution time.Duration
	// HistogramBinWidth and HistogramBins shape the response time histogram
	HistogramBinWidth time.Duration
	HistogramBins     int
	// SampleSize is the reservoir size of the percentile samples
	SampleSize int

	PerJob       bool
	PerSecond    bool
	Histogram    bool
	ThinkingTime bool
}

// DefaultConfig returns a config with every export enabled but no export dir
func DefaultConfig() Config {
	return Config{
		Percentile:        99,
		Resolution:        time.Second,
		HistogramBinWidth: 100 * time.Microsecond,
		HistogramBins:     200,
		SampleSize:        1028,
		PerJob:            true,
		PerSecond:         true,
		Histogram:         true,
		ThinkingTime:      true,
	}
}

func (c Config) withDefaults(start time.Time) Config {
	d := DefaultConfig()
	if c.Launch == "" {
		c.Launch = start.Format("20060102-150405")
	}
	if c.Percentile <= 0 || c.Percentile > 100 {
		c.Percentile = d.Percentile
	}
	if c.Resolution <= 0 {
		c.Resolution = d.Resolution
	}
	if c.HistogramBinWidth <= 0 {
		c.HistogramBinWidth = d.HistogramBinWidth
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = d.HistogramBins
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	return c
}

type seriesKey struct {
	worker int
	class  Class
}

// Collector is the default Recorder
type Collector struct {
	config Config
	start  time.Time

	samples *util.MPSC[Sample]
	done    chan struct{}

	series    *xsync.MapOf[seriesKey, *series]
	thinking  *xsync.MapOf[string, gometrics.Histogram]
	lastReply *xsync.MapOf[string, time.Time]
	backends  *xsync.MapOf[string, *xsync.Counter]

	set       *metrics.Set
	requests  [len(classes)]*metrics.Counter
	abandoned [len(classes)]*metrics.Counter
	response  [len(classes)]*metrics.Histogram
	queueTime *metrics.Histogram
	misses    *metrics.Counter
	errors    map[protocol.ResponseKind]*metrics.Counter

	exportMu  sync.Mutex
	closeOnce sync.Once
}

// NewCollector creates a collector and starts its goroutine
func NewCollector(config Config) *Collector {
	start := time.Now()
	c := &Collector{
		config:    config.withDefaults(start),
		start:     start,
		samples:   util.NewMPSC[Sample](),
		done:      make(chan struct{}),
		series:    xsync.NewMapOf[seriesKey, *series](),
		thinking:  xsync.NewMapOf[string, gometrics.Histogram](),
		lastReply: xsync.NewMapOf[string, time.Time](),
		backends:  xsync.NewMapOf[string, *xsync.Counter](),
		set:       metrics.NewSet(),
		errors:    make(map[protocol.ResponseKind]*metrics.Counter),
	}

	for _, class := range classes {
		c.requests[class] = c.set.NewCounter(fmt.Sprintf(`mcmw_requests_total{class=%q}`, class))
		c.abandoned[class] = c.set.NewCounter(fmt.Sprintf(`mcmw_requests_abandoned_total{class=%q}`, class))
		c.response[class] = c.set.NewHistogram(fmt.Sprintf(`mcmw_response_time_seconds{class=%q}`, class))
	}
	c.queueTime = c.set.NewHistogram("mcmw_queue_time_seconds")
	c.misses = c.set.NewCounter("mcmw_keys_missed_total")
	for _, kind := range []protocol.ResponseKind{protocol.KindError, protocol.KindClientError, protocol.KindServerError} {
		c.errors[kind] = c.set.NewCounter(fmt.Sprintf(`mcmw_backend_errors_total{kind=%q}`, kind))
	}

	go c.run()
	return c
}

func (c *Collector) run() {
	defer close(c.done)
	for s := range c.samples.Recv() {
		c.apply(s)
	}
}

func (c *Collector) apply(s Sample) {
	sr, _ := c.series.LoadOrCompute(seriesKey{s.Worker, s.Class}, func() *series {
		return newSeries(s.Worker, s.Class, c.config)
	})
	sr.add(s, c.start)

	if s.Abandoned {
		c.abandoned[s.Class].Inc()
		return
	}
	c.requests[s.Class].Inc()
	c.misses.Add(s.Misses)
	if rt := s.ResponseTime(); rt > 0 {
		c.response[s.Class].Update(rt.Seconds())
	}
	if qt := s.QueueTime(); qt > 0 {
		c.queueTime.Update(qt.Seconds())
	}
}

// Record implements Recorder
func (c *Collector) Record(s Sample) {
	if !c.samples.Push(s) {
		Logger.Debugf("dropping sample of %s, collector is closed", s.Client)
	}
}

// ClientArrival implements Recorder. The gap to the last reply sent to the
// same client is a thinking time sample.
func (c *Collector) ClientArrival(client string, at time.Time) {
	last, ok := c.lastReply.Load(client)
	if !ok || !at.After(last) {
		return
	}
	h, _ := c.thinking.LoadOrCompute(client, func() gometrics.Histogram {
		return gometrics.NewHistogram(gometrics.NewUniformSample(c.config.SampleSize))
	})
	h.Update(at.Sub(last).Microseconds())
}

// ClientReplied implements Recorder
func (c *Collector) ClientReplied(client string, at time.Time) {
	c.lastReply.Store(client, at)
}

// ClientClosed implements Recorder
func (c *Collector) ClientClosed(client string) {
	c.lastReply.Delete(client)
}

// BackendReply implements Recorder
func (c *Collector) BackendReply(backend string, kind protocol.ResponseKind) {
	counter, _ := c.backends.LoadOrCompute(backend, xsync.NewCounter)
	counter.Inc()
	if errs, ok := c.errors[kind]; ok {
		errs.Inc()
	}
}

// Gauge registers a gauge metric computed by f on every scrape
func (c *Collector) Gauge(name string, f func() float64) {
	c.set.NewGauge(name, f)
}

// WritePrometheus writes the proxy metrics followed by the process metrics
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}

// BackendLoad returns the number of replies received per backend
func (c *Collector) BackendLoad() map[string]int64 {
	out := make(map[string]int64)
	c.backends.Range(func(name string, counter *xsync.Counter) bool {
		out[name] = counter.Value()
		return true
	})
	return out
}

// Flush implements Recorder. It writes the exports of worker. Samples still
// queued in the collector are not included.
func (c *Collector) Flush(worker int) error {
	if c.config.ExportDir == "" {
		return nil
	}
	c.exportMu.Lock()
	defer c.exportMu.Unlock()

	var err error
	c.series.Range(func(key seriesKey, sr *series) bool {
		if key.worker == worker {
			err = sr.export(c.config, false)
		}
		return err == nil
	})
	return err
}

// FlushAll writes the exports of every worker and the thinking times
func (c *Collector) FlushAll() error {
	if c.config.ExportDir == "" {
		return nil
	}
	c.exportMu.Lock()
	defer c.exportMu.Unlock()
	return c.exportAll(false)
}

func (c *Collector) exportAll(final bool) error {
	var err error
	c.series.Range(func(_ seriesKey, sr *series) bool {
		err = sr.export(c.config, final)
		return err == nil
	})
	if err != nil {
		return err
	}
	if c.config.ThinkingTime {
		return c.exportThinking()
	}
	return nil
}

// Close applies every queued sample and writes the final exports
func (c *Collector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.samples.Close()
		<-c.done
		if c.config.ExportDir == "" {
			return
		}
		c.exportMu.Lock()
		defer c.exportMu.Unlock()
		err = c.exportAll(true)
	})
	return err
}

// Summary renders totals per request class, thinking times and the backend
// load distribution
func (c *Collector) Summary() string {
	var sb strings.Builder

	type total struct {
		count, abandoned, misses int64
		response                 gometrics.Histogram
	}
	totals := make(map[Class]*total)
	for _, class := range classes {
		totals[class] = &total{response: gometrics.NewHistogram(gometrics.NewUniformSample(c.config.SampleSize))}
	}
	c.series.Range(func(key seriesKey, sr *series) bool {
		sr.mu.Lock()
		t := totals[key.class]
		t.count += sr.count
		t.abandoned += sr.abandoned
		t.misses += sr.misses
		for _, v := range sr.response.Sample().Values() {
			t.response.Update(v)
		}
		sr.mu.Unlock()
		return true
	})

	fmt.Fprintf(&sb, "statistics after %s\n", time.Since(c.start).Round(time.Millisecond))
	for _, class := range classes {
		t := totals[class]
		fmt.Fprintf(&sb, "  %-4s: %d requests, %d abandoned, %d misses, avg %.0fus, p%.0f %.0fus\n",
			class, t.count, t.abandoned, t.misses, t.response.Mean(),
			c.config.Percentile, t.response.Percentile(c.config.Percentile/100))
	}

	load := c.BackendLoad()
	if len(load) > 0 {
		names := make([]string, 0, len(load))
		values := make([]float64, 0, len(load))
		for name := range load {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&sb, "  %-10s: %d replies\n", name, load[name])
			values = append(values, float64(load[name]))
		}
		fmt.Fprintf(&sb, "  backend load: %s\n", util.NewDistributionStats(values))
	}

	clients := 0
	c.thinking.Range(func(string, gometrics.Histogram) bool {
		clients++
		return true
	})
	if clients > 0 {
		fmt.Fprintf(&sb, "  thinking time recorded for %d clients\n", clients)
	}
	return sb.String()
}
