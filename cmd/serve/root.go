package serve

import (
	"fmt"

	cmdUtil "github.com/ValentinKolb/mcmw/cmd/util"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultProxyConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the proxy",
		Long:    `Start the proxy with the specified configuration. The configuration can be set via command line flags, environment variables or a config file. The format of the environment variables is MCMW_<flag> (e.g. MCMW_BACKENDS=10.0.0.1:11211,10.0.0.2:11211)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	d := common.DefaultProxyConfig()
	flags := ServeCmd.PersistentFlags()

	// proxy
	key := "endpoint"
	flags.String(key, d.Endpoint, cmdUtil.WrapString("The address on which the proxy accepts clients"))
	key = "transport"
	flags.String(key, "tcp", cmdUtil.WrapString("Transport of the client listener (tcp, unix). For unix the endpoint is the socket path"))
	key = "backend-transport"
	flags.String(key, "tcp", cmdUtil.WrapString("Transport used to reach the backends (tcp, unix). For unix the backends are socket paths"))
	key = "backends"
	flags.String(key, "", cmdUtil.WrapString("Comma-separated list of memcached servers (host:port). Every server must be reachable at startup"))
	key = "workers"
	flags.Int(key, d.Workers, cmdUtil.WrapString("Number of workers. Every worker opens one connection to every backend"))
	key = "sharded"
	flags.Bool(key, d.Sharded, cmdUtil.WrapString("Split multi-key gets into one get per backend instead of sending them to a single backend"))
	key = "queue-capacity"
	flags.Int(key, d.QueueCapacity, cmdUtil.WrapString("Maximum number of requests waiting for a worker. Client readers block when the queue is full"))
	key = "queue-ordering"
	flags.String(key, d.QueueOrdering, cmdUtil.WrapString("Order in which waiting requests are taken by the workers (fifo, lifo)"))

	// protocol
	key = "request-buffer-size"
	flags.Int(key, d.RequestBufferSize, cmdUtil.WrapString("Initial read buffer size per client in bytes. Buffers grow for larger requests"))
	key = "response-buffer-size"
	flags.Int(key, d.ResponseBufferSize, cmdUtil.WrapString("Initial read buffer size per backend connection in bytes"))
	key = "max-keys"
	flags.Int(key, d.MaxKeys, cmdUtil.WrapString("Maximum number of keys tracked per get. Gets with more keys are never split"))
	key = "max-value-size"
	flags.Int(key, d.MaxValueSize, cmdUtil.WrapString("Maximum data block size in bytes. Larger stores and values are discarded"))
	key = "max-line-length"
	flags.Int(key, d.MaxLineLength, cmdUtil.WrapString("Maximum length of a client command line in bytes, line break included. Longer lines are discarded"))

	// timeouts
	key = "worker-poll-timeout"
	flags.Duration(key, d.WorkerPollTimeout, cmdUtil.WrapString("How long a worker waits for a request before checking for shutdown"))
	key = "backend-timeout"
	flags.Duration(key, d.BackendTimeout, cmdUtil.WrapString("How long a worker waits for a backend reply. A backend that does not answer in time is dropped (0 waits forever)"))
	key = "client-write-timeout"
	flags.Duration(key, d.ClientWriteTimeout, cmdUtil.WrapString("How long writing a reply to a client may take (0 waits forever)"))
	key = "join-timeout"
	flags.Duration(key, d.JoinTimeout, cmdUtil.WrapString("How long shutdown waits for client readers and for workers"))

	// sockets
	for _, side := range []struct {
		prefix string
		conf   common.SocketConf
	}{{"client", d.ClientSocket}, {"backend", d.BackendSocket}} {
		flags.Bool(side.prefix+"-no-delay", side.conf.NoDelay, cmdUtil.WrapString(fmt.Sprintf("Whether to enable TCP_NODELAY on %s sockets", side.prefix)))
		flags.Duration(side.prefix+"-keepalive", side.conf.KeepAlive, cmdUtil.WrapString(fmt.Sprintf("Keep-alive period of %s sockets (0 disables keep-alive)", side.prefix)))
		flags.Int(side.prefix+"-read-buffer", side.conf.ReadBufferSize, cmdUtil.WrapString(fmt.Sprintf("Kernel receive buffer of %s sockets in bytes (0 keeps the OS default)", side.prefix)))
		flags.Int(side.prefix+"-write-buffer", side.conf.WriteBufferSize, cmdUtil.WrapString(fmt.Sprintf("Kernel send buffer of %s sockets in bytes (0 keeps the OS default)", side.prefix)))
		flags.Int(side.prefix+"-linger", side.conf.LingerSec, cmdUtil.WrapString(fmt.Sprintf("Linger time of %s sockets in seconds (negative keeps the OS default)", side.prefix)))
	}

	// statistics
	key = "stats-dir"
	flags.String(key, d.Stats.ExportDir, cmdUtil.WrapString("Directory for the statistics files. No files are written when empty"))
	key = "stats-percentile"
	flags.Float64(key, d.Stats.Percentile, cmdUtil.WrapString("Percentile reported next to average and median (1-100)"))
	key = "stats-resolution"
	flags.Duration(key, d.Stats.Resolution, cmdUtil.WrapString("Width of the time buckets of the per-second statistics"))
	key = "stats-histogram-bin"
	flags.Duration(key, d.Stats.HistogramBinWidth, cmdUtil.WrapString("Width of one response time histogram bin"))
	key = "stats-histogram-bins"
	flags.Int(key, d.Stats.HistogramBins, cmdUtil.WrapString("Number of response time histogram bins"))
	key = "stats-per-job"
	flags.Bool(key, d.Stats.PerJob, cmdUtil.WrapString("Write one line per request"))
	key = "stats-per-second"
	flags.Bool(key, d.Stats.PerSecond, cmdUtil.WrapString("Write aggregated statistics per time bucket"))
	key = "stats-histogram"
	flags.Bool(key, d.Stats.Histogram, cmdUtil.WrapString("Write the response time histogram"))
	key = "stats-thinking-time"
	flags.Bool(key, d.Stats.ThinkingTime, cmdUtil.WrapString("Write the client thinking times"))
	key = "stats-interval"
	flags.Duration(key, d.Stats.Interval, cmdUtil.WrapString("Interval of periodic statistics exports (0 exports only on shutdown and when a request is abandoned)"))

	// observability
	key = "metrics-endpoint"
	flags.String(key, d.MetricsEndpoint, cmdUtil.WrapString("Address of the Prometheus /metrics endpoint (e.g. 127.0.0.1:9100). Disabled when empty"))
	key = "log-level"
	flags.String(key, d.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the proxy configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	serveCmdConfig = readConfig()
	return serveCmdConfig.Validate()
}

// readConfig builds the proxy configuration from the values known to viper
func readConfig() common.ProxyConfig {
	return common.ProxyConfig{
		Endpoint:           viper.GetString("endpoint"),
		Backends:           cmdUtil.SplitList(viper.GetString("backends")),
		Workers:            viper.GetInt("workers"),
		Sharded:            viper.GetBool("sharded"),
		QueueCapacity:      viper.GetInt("queue-capacity"),
		QueueOrdering:      viper.GetString("queue-ordering"),
		RequestBufferSize:  viper.GetInt("request-buffer-size"),
		ResponseBufferSize: viper.GetInt("response-buffer-size"),
		MaxKeys:            viper.GetInt("max-keys"),
		MaxValueSize:       viper.GetInt("max-value-size"),
		MaxLineLength:      viper.GetInt("max-line-length"),
		WorkerPollTimeout:  viper.GetDuration("worker-poll-timeout"),
		BackendTimeout:     viper.GetDuration("backend-timeout"),
		ClientWriteTimeout: viper.GetDuration("client-write-timeout"),
		JoinTimeout:        viper.GetDuration("join-timeout"),
		ClientSocket:       readSocketConf("client"),
		BackendSocket:      readSocketConf("backend"),
		Stats: common.StatsConf{
			ExportDir:         viper.GetString("stats-dir"),
			Percentile:        viper.GetFloat64("stats-percentile"),
			Resolution:        viper.GetDuration("stats-resolution"),
			HistogramBinWidth: viper.GetDuration("stats-histogram-bin"),
			HistogramBins:     viper.GetInt("stats-histogram-bins"),
			PerJob:            viper.GetBool("stats-per-job"),
			PerSecond:         viper.GetBool("stats-per-second"),
			Histogram:         viper.GetBool("stats-histogram"),
			ThinkingTime:      viper.GetBool("stats-thinking-time"),
			Interval:          viper.GetDuration("stats-interval"),
		},
		MetricsEndpoint: viper.GetString("metrics-endpoint"),
		LogLevel:        viper.GetString("log-level"),
	}
}

func readSocketConf(prefix string) common.SocketConf {
	return common.SocketConf{
		NoDelay:         viper.GetBool(prefix + "-no-delay"),
		KeepAlive:       viper.GetDuration(prefix + "-keepalive"),
		ReadBufferSize:  viper.GetInt(prefix + "-read-buffer"),
		WriteBufferSize: viper.GetInt(prefix + "-write-buffer"),
		LingerSec:       viper.GetInt(prefix + "-linger"),
	}
}

// run starts the proxy and blocks until it is stopped by a signal
func run(_ *cobra.Command, _ []string) error {
	// Parse the transports
	listen, err := cmdUtil.GetServerConnector(viper.GetString("transport"))
	if err != nil {
		return err
	}
	dial, err := cmdUtil.GetClientConnector(viper.GetString("backend-transport"), serveCmdConfig.BackendTimeout)
	if err != nil {
		return err
	}

	p, err := server.New(serveCmdConfig, listen, dial)
	if err != nil {
		return err
	}
	return p.Serve()
}
