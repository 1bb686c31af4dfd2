package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(worker int, class Class, arrived time.Time, response time.Duration) Sample {
	return Sample{
		Worker:          worker,
		Class:           class,
		Client:          "Client-0",
		Keys:            3,
		Misses:          1,
		ArrivedAt:       arrived,
		EnqueuedAt:      arrived.Add(10 * time.Microsecond),
		DequeuedAt:      arrived.Add(30 * time.Microsecond),
		RespondedAt:     arrived.Add(response),
		EnqueueDepth:    2,
		DequeueDepth:    1,
		BackendSent:     []time.Time{arrived.Add(40 * time.Microsecond), {}},
		BackendReceived: []time.Time{arrived.Add(90 * time.Microsecond), {}},
	}
}

func TestSampleTimes(t *testing.T) {
	now := time.Now()
	s := sampleAt(0, ClassGet, now, 200*time.Microsecond)

	assert.Equal(t, 200*time.Microsecond, s.ResponseTime())
	assert.Equal(t, 20*time.Microsecond, s.QueueTime())
	assert.Equal(t, 50*time.Microsecond, s.ServiceTime())

	// missing timestamps never produce negative durations
	assert.Zero(t, Sample{ArrivedAt: now}.ResponseTime())
	assert.Zero(t, Sample{EnqueuedAt: now, DequeuedAt: now.Add(-time.Second)}.QueueTime())
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassSet, ClassOf(protocol.KindStore))
	assert.Equal(t, ClassGet, ClassOf(protocol.KindFetch))
	assert.Equal(t, "get", ClassGet.String())
	assert.Equal(t, "set", ClassSet.String())
}

func TestCollectorExports(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.ExportDir = dir
	config.Launch = "test"
	c := NewCollector(config)

	now := time.Now()
	c.Record(sampleAt(0, ClassGet, now, 150*time.Microsecond))
	c.Record(sampleAt(0, ClassGet, now, 250*time.Microsecond))
	c.Record(sampleAt(1, ClassSet, now, 100*time.Microsecond))
	c.Record(Sample{Worker: 1, Class: ClassSet, Client: "Client-1", Abandoned: true})

	c.ClientReplied("Client-0", now)
	c.ClientArrival("Client-0", now.Add(time.Millisecond))
	c.BackendReply("Server-0", protocol.KindValueBlock)
	c.BackendReply("Server-1", protocol.KindServerError)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for _, name := range []string{
		"test_PJ_0_get.stat", "test_PS_0_get.stat", "test_HG_0_get.stat",
		"test_PJ_1_set.stat", "test_HG_1_set.stat", "test_TT.stat",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	jobs, err := os.ReadFile(filepath.Join(dir, "test_PJ_0_get.stat"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(jobs)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "# client"))
	assert.True(t, strings.HasSuffix(lines[1], "\t150"))

	setJobs, err := os.ReadFile(filepath.Join(dir, "test_PJ_1_set.stat"))
	require.NoError(t, err)
	assert.Contains(t, string(setJobs), "Client-1\t0\t0\ttrue")

	thinking, err := os.ReadFile(filepath.Join(dir, "test_TT.stat"))
	require.NoError(t, err)
	assert.Contains(t, string(thinking), "Client-0\t1\t1000.0")

	var prom bytes.Buffer
	c.WritePrometheus(&prom)
	assert.Contains(t, prom.String(), `mcmw_requests_total{class="get"} 2`)
	assert.Contains(t, prom.String(), `mcmw_requests_abandoned_total{class="set"} 1`)
	assert.Contains(t, prom.String(), `mcmw_keys_missed_total 3`)
	assert.Contains(t, prom.String(), `mcmw_backend_errors_total{kind="SERVER_ERROR"} 1`)

	assert.Equal(t, map[string]int64{"Server-0": 1, "Server-1": 1}, c.BackendLoad())
	summary := c.Summary()
	assert.Contains(t, summary, "get : 2 requests, 0 abandoned, 2 misses")
	assert.Contains(t, summary, "backend load")
}

func TestFlushAppendsJobs(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()
	config.ExportDir = dir
	config.Launch = "flush"
	c := NewCollector(config)
	defer c.Close()

	pending := func() bool {
		sr, ok := c.series.Load(seriesKey{3, ClassGet})
		if !ok {
			return false
		}
		sr.mu.Lock()
		defer sr.mu.Unlock()
		return len(sr.jobs) == 1
	}

	c.Record(sampleAt(3, ClassGet, time.Now(), time.Millisecond))
	require.Eventually(t, pending, time.Second, time.Millisecond)
	require.NoError(t, c.Flush(3))

	c.Record(sampleAt(3, ClassGet, time.Now(), time.Millisecond))
	require.Eventually(t, pending, time.Second, time.Millisecond)
	require.NoError(t, c.Flush(3))

	// other workers are not exported
	require.NoError(t, c.Flush(4))

	jobs, err := os.ReadFile(filepath.Join(dir, "flush_PJ_3_get.stat"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(jobs)), "\n"), 3, "one header and two jobs")
	assert.NoFileExists(t, filepath.Join(dir, "flush_PJ_4_get.stat"))
}

func TestThinkingTimeNeedsPriorReply(t *testing.T) {
	c := NewCollector(DefaultConfig())
	defer c.Close()

	now := time.Now()
	c.ClientArrival("Client-7", now)
	_, ok := c.thinking.Load("Client-7")
	assert.False(t, ok, "first request of a client has no thinking time")

	c.ClientReplied("Client-7", now)
	c.ClientClosed("Client-7")
	c.ClientArrival("Client-7", now.Add(time.Second))
	_, ok = c.thinking.Load("Client-7")
	assert.False(t, ok, "closed clients start over")
}
