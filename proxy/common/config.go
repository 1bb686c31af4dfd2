package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
)

// --------------------------------------------------------------------------
// Socket options
// --------------------------------------------------------------------------

// SocketConf holds the tuning applied to every client or backend socket
type SocketConf struct {
	NoDelay bool
	// KeepAlive is the keep-alive period, 0 disables keep-alive
	KeepAlive       time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	// LingerSec is passed to SetLinger, a negative value keeps the OS default
	LingerSec int
}

func (s SocketConf) String() string {
	keepAlive := "off"
	if s.KeepAlive > 0 {
		keepAlive = s.KeepAlive.String()
	}
	linger := "os default"
	if s.LingerSec >= 0 {
		linger = fmt.Sprintf("%d sec", s.LingerSec)
	}
	return fmt.Sprintf("no-delay=%t keep-alive=%s rcvbuf=%s sndbuf=%s linger=%s",
		s.NoDelay, keepAlive, sizeOrDefault(s.ReadBufferSize), sizeOrDefault(s.WriteBufferSize), linger)
}

func sizeOrDefault(n int) string {
	if n <= 0 {
		return "os default"
	}
	return strconv.Itoa(n)
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// StatsConf controls the statistics exports
type StatsConf struct {
	ExportDir         string
	Percentile        float64
	Resolution        time.Duration
	HistogramBinWidth time.Duration
	HistogramBins     int
	PerJob            bool
	PerSecond         bool
	Histogram         bool
	ThinkingTime      bool
	// Interval between periodic exports, 0 exports only at shutdown and
	// when a worker abandons a request
	Interval time.Duration
}

// --------------------------------------------------------------------------
// Proxy configuration struct
// --------------------------------------------------------------------------

// ProxyConfig holds every tunable of the proxy
type ProxyConfig struct {
	// Endpoint is the listen address for clients
	Endpoint string
	// Backends are the addresses of the backend cache servers
	Backends []string

	Workers       int
	Sharded       bool
	QueueCapacity int
	// QueueOrdering is fifo or lifo
	QueueOrdering string

	RequestBufferSize  int
	ResponseBufferSize int
	MaxKeys            int
	MaxValueSize       int
	// MaxLineLength bounds client command lines, longer lines are discarded
	MaxLineLength int

	// WorkerPollTimeout bounds the wait for a request so workers notice shutdown
	WorkerPollTimeout time.Duration
	// BackendTimeout bounds the wait for one backend reply, 0 waits forever
	BackendTimeout time.Duration
	// ClientWriteTimeout bounds writing a reply to a client, 0 waits forever
	ClientWriteTimeout time.Duration
	// JoinTimeout bounds the wait for the dispatcher and the workers on shutdown
	JoinTimeout time.Duration

	ClientSocket  SocketConf
	BackendSocket SocketConf

	Stats StatsConf

	// MetricsEndpoint serves /metrics when set
	MetricsEndpoint string

	LogLevel string
}

// DefaultProxyConfig returns the configuration used by the CLI defaults
func DefaultProxyConfig() ProxyConfig {
	parser := protocol.DefaultParserConfig()
	statsConfig := stats.DefaultConfig()
	return ProxyConfig{
		Endpoint:           "127.0.0.1:11212",
		Workers:            4,
		QueueCapacity:      1024,
		QueueOrdering:      queue.FIFO.String(),
		RequestBufferSize:  parser.BufferSize,
		ResponseBufferSize: 16 * 1024,
		MaxKeys:            parser.MaxKeys,
		MaxValueSize:       parser.MaxValueSize,
		MaxLineLength:      parser.MaxLineLength,
		WorkerPollTimeout:  100 * time.Millisecond,
		BackendTimeout:     5 * time.Second,
		ClientWriteTimeout: 5 * time.Second,
		JoinTimeout:        5 * time.Second,
		ClientSocket:       SocketConf{NoDelay: true, KeepAlive: 30 * time.Second, LingerSec: -1},
		BackendSocket:      SocketConf{NoDelay: true, KeepAlive: 30 * time.Second, LingerSec: -1},
		Stats: StatsConf{
			Percentile:        statsConfig.Percentile,
			Resolution:        statsConfig.Resolution,
			HistogramBinWidth: statsConfig.HistogramBinWidth,
			HistogramBins:     statsConfig.HistogramBins,
			PerJob:            true,
			PerSecond:         true,
			Histogram:         true,
			ThinkingTime:      true,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values the proxy cannot run with
func (c *ProxyConfig) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if len(c.Backends) == 0 {
		errs = append(errs, errors.New("at least one backend is required"))
	}
	for i, addr := range c.Backends {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, fmt.Errorf("backend %d has an empty address", i))
		}
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be at least 1, got %d", c.QueueCapacity))
	}
	if _, err := ParseOrdering(c.QueueOrdering); err != nil {
		errs = append(errs, err)
	}
	if c.MaxKeys < 1 {
		errs = append(errs, fmt.Errorf("max keys must be at least 1, got %d", c.MaxKeys))
	}
	if c.MaxValueSize < 0 {
		errs = append(errs, fmt.Errorf("max value size must not be negative, got %d", c.MaxValueSize))
	}
	if c.MaxLineLength < 16 {
		errs = append(errs, fmt.Errorf("max line length must be at least 16 bytes, got %d", c.MaxLineLength))
	}
	if c.WorkerPollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("worker poll timeout must be positive, got %s", c.WorkerPollTimeout))
	}
	if c.Stats.Percentile < 1 || c.Stats.Percentile > 100 {
		errs = append(errs, fmt.Errorf("percentile must be in 1..100, got %g", c.Stats.Percentile))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseOrdering converts fifo or lifo to a queue ordering
func ParseOrdering(s string) (queue.Ordering, error) {
	switch strings.ToLower(s) {
	case "fifo", "":
		return queue.FIFO, nil
	case "lifo":
		return queue.LIFO, nil
	default:
		return queue.FIFO, fmt.Errorf("invalid queue ordering: %s. must be one of fifo, lifo", s)
	}
}

// RequestParserConfig returns the parser settings for client connections
func (c *ProxyConfig) RequestParserConfig() protocol.ParserConfig {
	return protocol.ParserConfig{
		BufferSize:    c.RequestBufferSize,
		MaxKeys:       c.MaxKeys,
		MaxValueSize:  c.MaxValueSize,
		MaxLineLength: c.MaxLineLength,
	}
}

// ResponseParserConfig returns the parser settings for backend connections
func (c *ProxyConfig) ResponseParserConfig() protocol.ParserConfig {
	return protocol.ParserConfig{
		BufferSize:   c.ResponseBufferSize,
		MaxKeys:      c.MaxKeys,
		MaxValueSize: c.MaxValueSize,
	}
}

// StatsConfig returns the collector settings
func (c *ProxyConfig) StatsConfig() stats.Config {
	return stats.Config{
		ExportDir:         c.Stats.ExportDir,
		Percentile:        c.Stats.Percentile,
		Resolution:        c.Stats.Resolution,
		HistogramBinWidth: c.Stats.HistogramBinWidth,
		HistogramBins:     c.Stats.HistogramBins,
		PerJob:            c.Stats.PerJob,
		PerSecond:         c.Stats.PerSecond,
		Histogram:         c.Stats.Histogram,
		ThinkingTime:      c.Stats.ThinkingTime,
	}
}

// String returns a formatted string representation of the configuration
func (c *ProxyConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	durationOrOff := func(d time.Duration) string {
		if d <= 0 {
			return "off"
		}
		return d.String()
	}

	addSection("Proxy")
	addField("Endpoint", c.Endpoint)
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Sharded Reads", strconv.FormatBool(c.Sharded))
	addField("Queue", fmt.Sprintf("%d (%s)", c.QueueCapacity, c.QueueOrdering))
	addField("Metrics Endpoint", c.MetricsEndpoint)

	addSection("Backends")
	for i, addr := range c.Backends {
		addField(fmt.Sprintf("Server-%d", i), addr)
	}

	addSection("Protocol")
	addField("Request Buffer", fmt.Sprintf("%d bytes", c.RequestBufferSize))
	addField("Response Buffer", fmt.Sprintf("%d bytes", c.ResponseBufferSize))
	addField("Max Keys", strconv.Itoa(c.MaxKeys))
	addField("Max Value Size", fmt.Sprintf("%d bytes", c.MaxValueSize))
	addField("Max Line Length", fmt.Sprintf("%d bytes", c.MaxLineLength))

	addSection("Timeouts")
	addField("Worker Poll", c.WorkerPollTimeout.String())
	addField("Backend Reply", durationOrOff(c.BackendTimeout))
	addField("Client Write", durationOrOff(c.ClientWriteTimeout))
	addField("Join", durationOrOff(c.JoinTimeout))

	addSection("Sockets")
	addField("Client", c.ClientSocket.String())
	addField("Backend", c.BackendSocket.String())

	addSection("Statistics")
	exportDir := c.Stats.ExportDir
	if exportDir == "" {
		exportDir = "disabled"
	}
	addField("Export Dir", exportDir)
	addField("Percentile", fmt.Sprintf("%g", c.Stats.Percentile))
	addField("Resolution", c.Stats.Resolution.String())
	addField("Histogram", fmt.Sprintf("%d x %s", c.Stats.HistogramBins, c.Stats.HistogramBinWidth))
	addField("Exports", fmt.Sprintf("per-job=%t per-second=%t histogram=%t thinking-time=%t",
		c.Stats.PerJob, c.Stats.PerSecond, c.Stats.Histogram, c.Stats.ThinkingTime))
	addField("Interval", durationOrOff(c.Stats.Interval))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
