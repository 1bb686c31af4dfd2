package dispatcher

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSetup struct {
	dispatcher *Dispatcher
	registry   *env.Registry
	queue      *queue.Queue[*env.Job]
	cancel     context.CancelFunc
	done       chan error
}

func startDispatcher(t *testing.T) *testSetup {
	t.Helper()
	config := common.DefaultProxyConfig()
	config.Endpoint = "127.0.0.1:0"
	config.JoinTimeout = time.Second

	s := &testSetup{
		registry: env.NewRegistry([]string{"b0", "b1", "b2"}),
		queue:    queue.New[*env.Job](8, queue.FIFO),
		done:     make(chan error, 1),
	}
	s.dispatcher = New(config, s.registry, s.queue, stats.Nop{}, tcp.NewTCPServerConnector())
	require.NoError(t, s.dispatcher.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { s.done <- s.dispatcher.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-s.done
	})
	return s
}

func (s *testSetup) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.dispatcher.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testSetup) poll(t *testing.T, timeout time.Duration) (*env.Job, bool) {
	t.Helper()
	job, ok, err := s.queue.Poll(context.Background(), timeout)
	require.NoError(t, err)
	return job, ok
}

func TestOneRequestInFlightPerClient(t *testing.T) {
	s := startDispatcher(t)
	conn := s.dial(t)

	_, err := conn.Write([]byte("get a\r\nget b c\r\n"))
	require.NoError(t, err)

	first, ok := s.poll(t, time.Second)
	require.True(t, ok)
	assert.Equal(t, protocol.KindFetch, first.Request.Kind)
	assert.Equal(t, 1, first.Request.KeyCount)
	assert.Equal(t, 0, first.Request.RoundRobinIndex)
	assert.Equal(t, uint64(0), first.Ticket)
	assert.False(t, first.Request.EnqueuedAt.IsZero())
	assert.False(t, first.Request.ArrivedAt.After(first.Request.EnqueuedAt))

	// the pipelined request waits until the first one is released
	_, ok = s.poll(t, 50*time.Millisecond)
	assert.False(t, ok)

	first.Request.Release()
	first.Client.Done(first.Ticket)

	second, ok := s.poll(t, time.Second)
	require.True(t, ok)
	assert.Equal(t, 2, second.Request.KeyCount)
	assert.Equal(t, "get b c\r\n", string(second.Request.Bytes()))
	assert.Equal(t, 1, second.Request.RoundRobinIndex)
	assert.Equal(t, uint64(1), second.Ticket)
	assert.Same(t, first.Client, second.Client)
	second.Abandon()
}

func TestInvalidLinesAreSkipped(t *testing.T) {
	s := startDispatcher(t)
	conn := s.dial(t)

	_, err := conn.Write([]byte("bogus\r\nset k 0 0 2\r\n"))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = conn.Write([]byte("hi\r\n"))
	require.NoError(t, err)

	job, ok := s.poll(t, time.Second)
	require.True(t, ok)
	assert.Equal(t, protocol.KindStore, job.Request.Kind)
	assert.Equal(t, 2, job.Request.DataLength)
	assert.Equal(t, "set k 0 0 2\r\nhi\r\n", string(job.Request.Bytes()))
	job.Abandon()
}

func TestClientsAreRegisteredAndRemoved(t *testing.T) {
	s := startDispatcher(t)

	a := s.dial(t)
	s.dial(t)
	require.Eventually(t, func() bool { return s.registry.ClientCount() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return s.registry.ClientCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), s.registry.AcceptedCount())
}

func TestRoundRobinAcrossClients(t *testing.T) {
	s := startDispatcher(t)

	var indexes []int
	for i := 0; i < 4; i++ {
		conn := s.dial(t)
		_, err := conn.Write([]byte("get k\r\n"))
		require.NoError(t, err)

		job, ok := s.poll(t, time.Second)
		require.True(t, ok)
		indexes = append(indexes, job.Request.RoundRobinIndex)
		job.Abandon()
	}
	assert.Equal(t, []int{0, 1, 2, 0}, indexes)
}

func TestShutdownClosesClients(t *testing.T) {
	s := startDispatcher(t)
	conn := s.dial(t)
	require.Eventually(t, func() bool { return s.registry.ClientCount() == 1 }, time.Second, time.Millisecond)

	s.cancel()
	select {
	case err := <-s.done:
		assert.NoError(t, err)
		s.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 0, s.registry.ClientCount())

	_, err = net.Dial("tcp", s.dispatcher.Addr().String())
	assert.Error(t, err)
}

func TestRunWithoutListen(t *testing.T) {
	d := New(common.DefaultProxyConfig(), env.NewRegistry(nil), queue.New[*env.Job](1, queue.FIFO),
		stats.Nop{}, tcp.NewTCPServerConnector())
	assert.ErrorIs(t, d.Run(context.Background()), ErrNotListening)
	assert.Nil(t, d.Addr())
}
