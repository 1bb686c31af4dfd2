package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/lib/mcclient"
	"github.com/ValentinKolb/mcmw/lib/mctest"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport/tcp"
	"github.com/ValentinKolb/mcmw/proxy/transport/unix"
	"github.com/ValentinKolb/mcmw/proxy/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backends ...*mctest.Backend) common.ProxyConfig {
	config := common.DefaultProxyConfig()
	config.Endpoint = "127.0.0.1:0"
	config.Workers = 2
	config.WorkerPollTimeout = 10 * time.Millisecond
	config.BackendTimeout = time.Second
	config.JoinTimeout = time.Second
	config.LogLevel = "warn"
	for _, b := range backends {
		config.Backends = append(config.Backends, b.Addr())
	}
	return config
}

func startProxy(t *testing.T, config common.ProxyConfig) *Proxy {
	t.Helper()
	p, err := New(config, tcp.NewTCPServerConnector(), tcp.NewTCPClientConnector(time.Second))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func connect(t *testing.T, p *Proxy) *mcclient.Client {
	t.Helper()
	c, err := mcclient.Dial(context.Background(), p.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestProxyReplicatesAndShards(t *testing.T) {
	b0, b1, b2 := mctest.NewBackend(t), mctest.NewBackend(t), mctest.NewBackend(t)
	config := testConfig(b0, b1, b2)
	config.Sharded = true
	p := startProxy(t, config)
	c := connect(t, p)

	keys := make([]string, 10)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		require.NoError(t, c.Set(keys[i], uint32(i), []byte("value-"+keys[i])))
	}
	for _, b := range []*mctest.Backend{b0, b1, b2} {
		for _, k := range keys {
			v, ok := b.Value(k)
			require.True(t, ok)
			assert.Equal(t, "value-"+k, v)
		}
	}

	items, err := c.Get(keys...)
	require.NoError(t, err)
	require.Len(t, items, len(keys))
	for i, k := range keys {
		assert.Equal(t, "value-"+k, string(items[k].Value))
		assert.Equal(t, uint32(i), items[k].Flags)
	}

	// every backend served a part of the sharded fetch
	for _, b := range []*mctest.Backend{b0, b1, b2} {
		received := b.Received()
		last := received[len(received)-1]
		assert.True(t, strings.HasPrefix(last, "get key-"), last)
	}
}

func TestProxyManyClients(t *testing.T) {
	b0, b1 := mctest.NewBackend(t), mctest.NewBackend(t)
	config := testConfig(b0, b1)
	config.Workers = 4
	p := startProxy(t, config)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := mcclient.Dial(context.Background(), p.Addr().String(), 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("c%d-%d", i, j)
				if err := c.Set(key, 0, []byte(key)); err != nil {
					errs <- err
					return
				}
				items, err := c.Get(key)
				if err != nil {
					errs <- err
					return
				}
				if it, ok := items[key]; !ok || string(it.Value) != key {
					errs <- fmt.Errorf("client %d read wrong value for %s", i, key)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, int64(8), p.Registry().AcceptedCount())
}

func TestProxyPipelinedRequests(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Put("a", "1")
	b.Put("b", "22")
	p := startProxy(t, testConfig(b))
	c := connect(t, p)

	// both commands in one write, replies must come back in order
	reply, err := c.Do([]byte("get a\r\nget b\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VALUE a 0 1\r\n1\r\nEND\r\n", string(reply))

	reply, err = c.Do(nil)
	require.NoError(t, err)
	assert.Equal(t, "VALUE b 0 2\r\n22\r\nEND\r\n", string(reply))
}

func TestProxyInvalidCommandIsSkipped(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Put("a", "1")
	p := startProxy(t, testConfig(b))
	c := connect(t, p)

	reply, err := c.Do([]byte("delete a\r\nget a\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VALUE a 0 1\r\n1\r\nEND\r\n", string(reply))
	assert.Equal(t, []string{"get a\r\n"}, b.Received())
}

func TestProxyStartFailsWithUnreachableBackend(t *testing.T) {
	up := mctest.NewBackend(t)
	down := mctest.NewBackend(t)
	config := testConfig(up, down)
	down.Close()

	p, err := New(config, tcp.NewTCPServerConnector(), tcp.NewTCPClientConnector(time.Second))
	require.NoError(t, err)
	err = p.Start()
	assert.ErrorIs(t, err, worker.ErrBackendUnavailable)
	assert.Nil(t, p.Addr())
	assert.ErrorIs(t, p.Shutdown(), ErrNotStarted)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := common.DefaultProxyConfig()
	_, err := New(config, tcp.NewTCPServerConnector(), tcp.NewTCPClientConnector(time.Second))
	assert.ErrorContains(t, err, "at least one backend")
}

func TestProxyMetricsEndpoint(t *testing.T) {
	b := mctest.NewBackend(t)
	config := testConfig(b)
	config.MetricsEndpoint = "127.0.0.1:0"
	p := startProxy(t, config)
	c := connect(t, p)

	require.NoError(t, c.Set("k", 0, []byte("v")))
	_, err := c.Get("k")
	require.NoError(t, err)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + p.MetricsAddr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		body = string(raw)
		return strings.Contains(body, `mcmw_requests_total{class="get"} 1`)
	}, 2*time.Second, 10*time.Millisecond, body)

	assert.Contains(t, body, `mcmw_requests_total{class="set"} 1`)
	assert.Contains(t, body, "mcmw_clients_connected 1")
	assert.Contains(t, body, "mcmw_backend_connections 2")
	assert.Contains(t, body, "mcmw_queue_depth 0")
}

func TestProxyShutdownWritesStatistics(t *testing.T) {
	b := mctest.NewBackend(t)
	config := testConfig(b)
	config.Workers = 1
	config.Stats.ExportDir = t.TempDir()
	config.Stats.Interval = 20 * time.Millisecond
	p := startProxy(t, config)
	c := connect(t, p)

	require.NoError(t, c.Set("k", 0, []byte("v")))
	_, err := c.Get("k", "missing")
	require.NoError(t, err)

	// the periodic export picks the samples up before shutdown
	require.Eventually(t, func() bool {
		files, _ := filepath.Glob(filepath.Join(config.Stats.ExportDir, "*_PJ_0_get.stat"))
		return len(files) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown())

	for _, pattern := range []string{"*_PJ_0_set.stat", "*_PS_0_get.stat", "*_HG_0_get.stat", "*_TT.stat"} {
		files, err := filepath.Glob(filepath.Join(config.Stats.ExportDir, pattern))
		require.NoError(t, err)
		require.Len(t, files, 1, pattern)
		info, err := os.Stat(files[0])
		require.NoError(t, err)
		assert.Positive(t, info.Size(), pattern)
	}
	assert.Contains(t, p.Collector().Summary(), "get : 1 requests, 0 abandoned, 1 misses")
}

func TestProxyShutdownWithHangingBackend(t *testing.T) {
	b := mctest.NewBackend(t)
	config := testConfig(b)
	config.Workers = 1
	config.BackendTimeout = 0
	config.JoinTimeout = 100 * time.Millisecond
	p := startProxy(t, config)
	c := connect(t, p)

	b.SetMode(mctest.Hang)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get("k")
	}()
	require.Eventually(t, func() bool { return len(b.Received()) == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
	<-done
}

func TestProxyOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "mcmw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	b := mctest.NewBackend(t)
	config := testConfig(b)
	config.Endpoint = filepath.Join(dir, "proxy.sock")
	p, err := New(config, unix.NewUnixServerConnector(), tcp.NewTCPClientConnector(time.Second))
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Shutdown() })
	assert.Equal(t, config.Endpoint, p.Addr().String())

	c := connect(t, p)
	require.NoError(t, c.Set("a", 0, []byte("1")))
	items, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(items["a"].Value))
}
