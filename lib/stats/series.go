package stats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/mcmw/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
)

// series holds everything recorded for one worker and request class
type series struct {
	mu         sync.Mutex
	worker     int
	class      Class
	resolution time.Duration
	sampleSize int

	count, abandoned, misses int64

	jobs      []Sample // not yet exported
	windows   map[int64]*window
	histogram *util.Histogram
	response  gometrics.Histogram
}

// window aggregates the samples of one time bucket
type window struct {
	count        int64
	response     gometrics.Sample
	queue        gometrics.Sample
	service      gometrics.Sample
	enqueueDepth int64
	dequeueDepth int64
}

func newSeries(worker int, class Class, config Config) *series {
	return &series{
		worker:     worker,
		class:      class,
		resolution: config.Resolution,
		sampleSize: config.SampleSize,
		windows:    make(map[int64]*window),
		histogram:  util.NewHistogram(config.HistogramBinWidth.Microseconds(), config.HistogramBins),
		response:   gometrics.NewHistogram(gometrics.NewUniformSample(config.SampleSize)),
	}
}

func (sr *series) add(s Sample, start time.Time) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.jobs = append(sr.jobs, s)
	if s.Abandoned {
		sr.abandoned++
		return
	}
	sr.count++
	sr.misses += int64(s.Misses)

	rt := s.ResponseTime().Microseconds()
	sr.histogram.AddSample(rt)
	sr.response.Update(rt)

	// windows are indexed by arrival relative to the collector start
	idx := int64(0)
	if s.ArrivedAt.After(start) {
		idx = int64(s.ArrivedAt.Sub(start) / sr.resolution)
	}
	w, ok := sr.windows[idx]
	if !ok {
		w = &window{
			response: gometrics.NewUniformSample(sr.sampleSize),
			queue:    gometrics.NewUniformSample(sr.sampleSize),
			service:  gometrics.NewUniformSample(sr.sampleSize),
		}
		sr.windows[idx] = w
	}
	w.count++
	w.response.Update(rt)
	w.queue.Update(s.QueueTime().Microseconds())
	w.service.Update(s.ServiceTime().Microseconds())
	w.enqueueDepth += int64(s.EnqueueDepth)
	w.dequeueDepth += int64(s.DequeueDepth)
}

// export writes the stat files of the series. Per job lines and finished
// windows are appended and forgotten, the histogram is rewritten. With final
// set the window still in progress is written too.
func (sr *series) export(config Config, final bool) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if config.PerJob && len(sr.jobs) > 0 {
		if err := sr.exportJobs(config); err != nil {
			return err
		}
	}
	sr.jobs = sr.jobs[:0]

	if config.PerSecond {
		if err := sr.exportWindows(config, final); err != nil {
			return err
		}
	}

	if config.Histogram {
		if err := sr.exportHistogram(config); err != nil {
			return err
		}
	}
	return nil
}

func (sr *series) fileName(config Config, kind string) string {
	return filepath.Join(config.ExportDir, fmt.Sprintf("%s_%s_%d_%s.stat", config.Launch, kind, sr.worker, sr.class))
}

func (sr *series) exportJobs(config Config) error {
	return appendStat(sr.fileName(config, "PJ"),
		"# client\tkeys\tmisses\tabandoned\tarrived_us\tenqueue_depth\tdequeue_depth\tqueue_us\tservice_us\tresponse_us",
		func(w *bufio.Writer) {
			for _, s := range sr.jobs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%t\t%d\t%d\t%d\t%d\t%d\t%d\n",
					s.Client, s.Keys, s.Misses, s.Abandoned, s.ArrivedAt.UnixMicro(),
					s.EnqueueDepth, s.DequeueDepth, s.QueueTime().Microseconds(),
					s.ServiceTime().Microseconds(), s.ResponseTime().Microseconds())
			}
		})
}

func (sr *series) exportWindows(config Config, final bool) error {
	indexes := make([]int64, 0, len(sr.windows))
	for idx := range sr.windows {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	// the newest window may still receive samples
	if !final && len(indexes) > 0 {
		indexes = indexes[:len(indexes)-1]
	}
	if len(indexes) == 0 {
		return nil
	}

	p := config.Percentile / 100
	err := appendStat(sr.fileName(config, "PS"),
		fmt.Sprintf("# bucket\tcount\tavg_response_us\tmedian_response_us\tp%.0f_response_us\tavg_queue_us\tavg_service_us\tavg_enqueue_depth\tavg_dequeue_depth", config.Percentile),
		func(w *bufio.Writer) {
			for _, idx := range indexes {
				win := sr.windows[idx]
				fmt.Fprintf(w, "%d\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.2f\t%.2f\n",
					idx, win.count, win.response.Mean(), win.response.Percentile(0.5),
					win.response.Percentile(p), win.queue.Mean(), win.service.Mean(),
					float64(win.enqueueDepth)/float64(win.count),
					float64(win.dequeueDepth)/float64(win.count))
			}
		})
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		delete(sr.windows, idx)
	}
	return nil
}

func (sr *series) exportHistogram(config Config) error {
	return writeStat(sr.fileName(config, "HG"), "# lower_us\tupper_us\tcount", func(w *bufio.Writer) {
		for _, b := range sr.histogram.Buckets() {
			fmt.Fprintf(w, "%d\t%d\t%d\n", b.Lower, b.Upper, b.Count)
		}
	})
}

func (c *Collector) exportThinking() error {
	type row struct {
		client string
		h      gometrics.Histogram
	}
	var rows []row
	c.thinking.Range(func(client string, h gometrics.Histogram) bool {
		rows = append(rows, row{client, h})
		return true
	})
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].client < rows[j].client })

	name := filepath.Join(c.config.ExportDir, fmt.Sprintf("%s_TT.stat", c.config.Launch))
	p := c.config.Percentile / 100
	return writeStat(name,
		fmt.Sprintf("# client\tcount\tavg_us\tmedian_us\tp%.0f_us", c.config.Percentile),
		func(w *bufio.Writer) {
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%.1f\n",
					r.client, r.h.Count(), r.h.Mean(), r.h.Percentile(0.5), r.h.Percentile(p))
			}
		})
}

// appendStat appends lines to a stat file, the header is written when the
// file is new
func appendStat(name, header string, body func(w *bufio.Writer)) error {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return finishStat(f, info.Size() == 0, header, body)
}

// writeStat replaces a stat file
func writeStat(name, header string, body func(w *bufio.Writer)) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	return finishStat(f, true, header, body)
}

func finishStat(f *os.File, withHeader bool, header string, body func(w *bufio.Writer)) error {
	w := bufio.NewWriter(f)
	if withHeader {
		fmt.Fprintln(w, header)
	}
	body(w)
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", f.Name(), err)
	}
	return f.Close()
}
