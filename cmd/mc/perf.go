package mc

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/mcmw/cmd/util"
	"github.com/ValentinKolb/mcmw/lib/mcclient"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Load generator measuring latency and throughput through the proxy",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfMultiKeys        = 10
	perfDuration         = 5 * time.Second
	perfSkip             = make([]string, 0)
)

var perfPercentiles = []float64{0.5, 0.95, 0.99}

func init() {
	// add flags
	key := "skip"
	perfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get-multi)"))
	key = "threads"
	perfCmd.Flags().Int(key, perfNumThreads, util.WrapString("Number of parallel clients, each with its own connection"))
	key = "duration"
	perfCmd.Flags().Duration(key, perfDuration, util.WrapString("How long every benchmark runs"))
	key = "large-value-size"
	perfCmd.Flags().Int(key, perfLargeValueSizeKB, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfCmd.Flags().Int(key, perfKeySpread, util.WrapString("How many different keys to use for the tests"))
	key = "multi-keys"
	perfCmd.Flags().Int(key, perfMultiKeys, util.WrapString("Number of keys of one get in the get-multi test"))
	key = "csv"
	perfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfMultiKeys = max(viper.GetInt("multi-keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfDuration = viper.GetDuration("duration")
	perfSkip = util.SplitList(viper.GetString("skip"))
	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// benchmark is one perf test. prepare runs once on the shared client, op
// runs in a loop on every thread's own client.
type benchmark struct {
	name    string
	prepare func(c *mcclient.Client, keys []string) error
	op      func(c *mcclient.Client, keys []string, i int) error
}

// result is the outcome of one benchmark
type result struct {
	name    string
	skipped bool
	elapsed time.Duration
	timer   gometrics.Timer
	errors  gometrics.Counter
}

func (r result) opsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.elapsed.Seconds()
}

func benchmarks() []benchmark {
	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	fill := func(c *mcclient.Client, keys []string) error {
		for _, k := range keys {
			if err := c.Set(k, 0, value); err != nil {
				return err
			}
		}
		return nil
	}

	return []benchmark{
		{
			name: "set",
			op: func(c *mcclient.Client, keys []string, i int) error {
				return c.Set(keys[i%len(keys)], 0, value)
			},
		},
		{
			name: "set-large",
			op: func(c *mcclient.Client, keys []string, i int) error {
				return c.Set(keys[i%len(keys)], 0, largeValue)
			},
		},
		{
			name:    "get",
			prepare: fill,
			op: func(c *mcclient.Client, keys []string, i int) error {
				_, err := c.Get(keys[i%len(keys)])
				return err
			},
		},
		{
			name:    "get-multi",
			prepare: fill,
			op: func(c *mcclient.Client, keys []string, i int) error {
				batch := make([]string, perfMultiKeys)
				for j := range batch {
					batch[j] = keys[(i*perfMultiKeys+j)%len(keys)]
				}
				_, err := c.Get(batch...)
				return err
			},
		},
		{
			name: "get-miss",
			op: func(c *mcclient.Client, _ []string, i int) error {
				_, err := c.Get(fmt.Sprintf("%s-missing-%d", perfKeyPrefix, i%perfKeySpread))
				return err
			},
		},
		{
			name:    "mixed",
			prepare: fill,
			op: func(c *mcclient.Client, keys []string, i int) error {
				key := keys[i%len(keys)]
				if i%10 == 0 {
					return c.Set(key, 0, value)
				}
				_, err := c.Get(key)
				return err
			},
		},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	config := util.GetClientConfig()

	fmt.Fprintln(out, "Performance testing tool for memcached proxies")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprint(out, config.String())
	fmt.Fprintf(out, "  %-22s: %d\n", "Threads", perfNumThreads)
	fmt.Fprintf(out, "  %-22s: %s\n", "Duration", perfDuration)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "starting tests...")

	var results []result
	for _, b := range benchmarks() {
		if slices.Contains(perfSkip, b.name) {
			r := result{name: b.name, skipped: true}
			results = append(results, r)
			printResult(out, r)
			continue
		}
		r, err := runBenchmark(config, b)
		if err != nil {
			return fmt.Errorf("benchmark %s failed: %w", b.name, err)
		}
		results = append(results, r)
		printResult(out, r)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Fprintf(out, "\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Fprintln(out, "Export complete")
	}
	return nil
}

// runBenchmark runs b on perfNumThreads connections for perfDuration
func runBenchmark(config util.ClientConfig, b benchmark) (result, error) {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, b.name, i)
	}
	if b.prepare != nil {
		if err := b.prepare(client, keys); err != nil {
			return result{}, err
		}
	}

	clients := make([]*mcclient.Client, perfNumThreads)
	for i := range clients {
		c, err := mcclient.Dial(context.Background(), config.Endpoint, config.Timeout)
		if err != nil {
			for _, opened := range clients[:i] {
				_ = opened.Close()
			}
			return result{}, err
		}
		clients[i] = c
	}

	r := result{
		name:   b.name,
		timer:  gometrics.NewTimer(),
		errors: gometrics.NewCounter(),
	}
	start := time.Now()
	deadline := start.Add(perfDuration)

	var wg sync.WaitGroup
	for t, c := range clients {
		wg.Add(1)
		go func(t int, c *mcclient.Client) {
			defer wg.Done()
			defer c.Close()
			// threads start at different keys
			for i := t * perfKeySpread / perfNumThreads; time.Now().Before(deadline); i++ {
				opStart := time.Now()
				if err := b.op(c, keys, i); err != nil {
					r.errors.Inc(1)
					continue
				}
				r.timer.UpdateSince(opStart)
			}
		}(t, c)
	}
	wg.Wait()
	r.elapsed = time.Since(start)
	return r, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printResult prints the result of a benchmark test in a formatted way
func printResult(w io.Writer, r result) {
	if r.skipped {
		fmt.Fprintf(w, "%-12sskipped\n", r.name)
		return
	}
	p := r.timer.Percentiles(perfPercentiles)
	fmt.Fprintf(w, "%-12s%10.0f ops/sec  mean %-10s p50 %-10s p95 %-10s p99 %-10s errors %d\n",
		r.name, r.opsPerSec(),
		time.Duration(r.timer.Mean()).Round(time.Microsecond),
		time.Duration(p[0]).Round(time.Microsecond),
		time.Duration(p[1]).Round(time.Microsecond),
		time.Duration(p[2]).Round(time.Microsecond),
		r.errors.Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result, config util.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Ops", "OpsPerSec", "MeanNs", "P50Ns", "P95Ns", "P99Ns", "Errors", "Skipped",
		"Endpoint", "Threads", "DurationSec", "LargeValueSizeKB", "Keys", "MultiKeys",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		row := []string{r.name, "0", "0", "0", "0", "0", "0", "0", "true"}
		if !r.skipped {
			p := r.timer.Percentiles(perfPercentiles)
			row = []string{
				r.name,
				strconv.FormatInt(r.timer.Count(), 10),
				fmt.Sprintf("%.0f", r.opsPerSec()),
				fmt.Sprintf("%.0f", r.timer.Mean()),
				fmt.Sprintf("%.0f", p[0]),
				fmt.Sprintf("%.0f", p[1]),
				fmt.Sprintf("%.0f", p[2]),
				strconv.FormatInt(r.errors.Count(), 10),
				"false",
			}
		}
		row = append(row,
			config.Endpoint,
			strconv.Itoa(perfNumThreads),
			fmt.Sprintf("%.0f", perfDuration.Seconds()),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfMultiKeys),
		)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.name, err)
		}
	}
	return nil
}
