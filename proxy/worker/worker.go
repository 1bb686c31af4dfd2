package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/merge"
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/ValentinKolb/mcmw/lib/queue"
	"github.com/ValentinKolb/mcmw/lib/stats"
	"github.com/ValentinKolb/mcmw/lib/util"
	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("worker")

var (
	// ErrBackendUnavailable is returned when a backend cannot be reached at
	// startup
	ErrBackendUnavailable = errors.New("worker: backend unavailable")
	// ErrNoBackends means a request could not be sent to any backend
	ErrNoBackends = errors.New("worker: no backends left")

	errNoReply      = errors.New("no backend replied")
	errTurnTimedOut = errors.New("earlier reply to the same client did not finish in time")
)

// result is the outcome of reading one backend reply
type result struct {
	backend *backendConn
	resp    *protocol.Response
	err     error
}

// Worker processes queued jobs using its own connection to every backend
type Worker struct {
	id       int
	config   common.ProxyConfig
	queue    *queue.Queue[*env.Job]
	recorder stats.Recorder

	// configured backend count, timestamps are indexed by backend index
	configured int
	backends   *util.OffsetList[*backendConn]
	alive      *atomic.Int64

	merger  *merge.Merger
	shards  []shard
	results chan result
}

func newWorker(id int, config common.ProxyConfig, q *queue.Queue[*env.Job], recorder stats.Recorder, alive *atomic.Int64) *Worker {
	return &Worker{
		id:       id,
		config:   config,
		queue:    q,
		recorder: recorder,
		backends: util.NewOffsetList[*backendConn](),
		alive:    alive,
		merger:   merge.New(),
	}
}

// connect opens a connection to every backend. On failure the connections
// opened so far are closed again.
func (w *Worker) connect(ctx context.Context, backends []env.Backend, connector transport.IClientConnector) error {
	for _, b := range backends {
		conn, err := connector.Connect(ctx, b.Address, w.config.BackendSocket)
		if err != nil {
			w.closeBackends()
			return fmt.Errorf("%w: worker %d cannot reach %s: %v", ErrBackendUnavailable, w.id, b, err)
		}
		w.backends.Add(&backendConn{
			backend: b,
			conn:    conn,
			parser:  protocol.NewResponseParser(b.Name, w.config.ResponseParserConfig()),
		})
		w.alive.Add(1)
	}
	w.configured = len(backends)
	w.results = make(chan result, len(backends))
	return nil
}

// run processes jobs until ctx is done. A job that was taken from the queue
// is finished before the worker exits.
func (w *Worker) run(ctx context.Context) {
	defer w.closeBackends()
	for ctx.Err() == nil {
		job, ok, err := w.queue.Poll(ctx, w.config.WorkerPollTimeout)
		if err != nil {
			return
		}
		if ok {
			w.process(job)
		}
	}
}

func (w *Worker) process(job *env.Job) {
	req := job.Request
	req.DequeuedAt = time.Now()
	req.DequeueDepth = w.queue.Len()
	req.SentAt = make([]time.Time, w.configured)
	req.ReceivedAt = make([]time.Time, w.configured)

	if w.backends.Len() == 0 {
		w.abandon(job, ErrNoBackends)
		return
	}

	w.backends.SetOffset(req.RoundRobinIndex)
	w.shards = planShards(w.shards[:0], req, w.backends, w.config.Sharded)

	expected := w.shards[:0]
	for _, s := range w.shards {
		req.SentAt[s.backend.backend.Index] = time.Now()
		if err := s.write(req); err != nil {
			w.dropBackend(s.backend, fmt.Errorf("write failed: %w", err))
			continue
		}
		expected = append(expected, s)
	}

	// the dispatcher may parse the next request of this client from here on
	req.Release()

	if len(expected) == 0 {
		w.abandon(job, ErrNoBackends)
		return
	}
	if req.NoReply {
		job.Client.Done(job.Ticket)
		w.record(job, time.Now(), false)
		return
	}

	w.collect(req, expected)
	if len(w.merger.Results()) == 0 {
		w.abandon(job, errNoReply)
		return
	}
	if err := w.merger.Merge(); err != nil {
		w.abandon(job, err)
		return
	}
	if dropped := w.merger.Dropped(); dropped > 0 && req.Kind == protocol.KindFetch {
		Logger.Debugf("worker %d dropped %d replies merging a fetch of %s", w.id, dropped, job.Client.Name())
	}
	if err := w.reply(job); err != nil {
		w.abandon(job, err)
		return
	}

	now := time.Now()
	job.Client.Done(job.Ticket)
	w.merger.Release()
	w.recorder.ClientReplied(job.Client.Name(), now)
	w.record(job, now, false)
}

// collect reads one reply from every expected backend and adds them to the
// merger in arrival order. Backends that fail or time out are dropped.
func (w *Worker) collect(req *protocol.Request, expected []shard) {
	var deadline time.Time
	if w.config.BackendTimeout > 0 {
		deadline = time.Now().Add(w.config.BackendTimeout)
	}

	if len(expected) == 1 {
		b := expected[0].backend
		resp, err := b.readResponse(deadline)
		w.accept(req, result{backend: b, resp: resp, err: err})
	} else {
		for _, s := range expected {
			go func(b *backendConn) {
				resp, err := b.readResponse(deadline)
				w.results <- result{backend: b, resp: resp, err: err}
			}(s.backend)
		}
		for range expected {
			w.accept(req, <-w.results)
		}
	}

	if req.Kind == protocol.KindFetch && req.MissCount < 0 {
		Logger.Warningf("worker %d: fetch with %d keys got more values than requested (miss count %d)",
			w.id, req.KeyCount, req.MissCount)
	}
}

func (w *Worker) accept(req *protocol.Request, r result) {
	if r.err != nil {
		w.dropBackend(r.backend, fmt.Errorf("read failed: %w", r.err))
		return
	}

	req.ReceivedAt[r.backend.backend.Index] = r.resp.ArrivedAt
	w.recorder.BackendReply(r.backend.backend.Name, r.resp.Kind)
	switch {
	case r.resp.Kind.IsError():
		Logger.Debugf("worker %d: %s answered %s %s", w.id, r.backend, r.resp.Kind, r.resp.Message)
	case req.Kind == protocol.KindFetch:
		req.MissCount -= r.resp.ValueCount
	}

	if err := w.merger.AddResult(r.resp); err != nil {
		Logger.Errorf("worker %d: %v", w.id, err)
		r.resp.Release()
	}
}

// reply writes the merged reply once every earlier reply to the same client
// has been written
func (w *Worker) reply(job *env.Job) error {
	c := job.Client
	if !c.AwaitTurn(job.Ticket, w.config.ClientWriteTimeout) {
		return errTurnTimedOut
	}

	if w.config.ClientWriteTimeout > 0 {
		if err := c.Conn().SetWriteDeadline(time.Now().Add(w.config.ClientWriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline for %s: %w", c.Name(), err)
		}
	}
	for w.merger.HasRemaining() {
		if _, err := w.merger.WriteToClient(c.Conn()); err != nil {
			return fmt.Errorf("write to %s failed: %w", c.Name(), err)
		}
	}
	return nil
}

// abandon gives up on a job. The client gets no reply, the statistics of the
// worker are exported.
func (w *Worker) abandon(job *env.Job, reason error) {
	Logger.Warningf("worker %d abandons %s request of %s: %v", w.id, job.Request.Kind, job.Client.Name(), reason)
	job.Abandon()
	w.merger.Release()
	w.record(job, time.Time{}, true)
	if err := w.recorder.Flush(w.id); err != nil {
		Logger.Errorf("worker %d failed to export statistics: %v", w.id, err)
	}
}

func (w *Worker) record(job *env.Job, respondedAt time.Time, abandoned bool) {
	s := stats.SampleOf(w.id, job.Request)
	s.RespondedAt = respondedAt
	s.Abandoned = abandoned
	w.recorder.Record(s)
}

// dropBackend closes a failed backend connection and removes it for the rest
// of the worker's lifetime
func (w *Worker) dropBackend(b *backendConn, reason error) {
	if w.backends.RemoveFunc(func(x *backendConn) bool { return x == b }) == 0 {
		return
	}
	b.close()
	w.alive.Add(-1)
	Logger.Errorf("worker %d lost %s: %v (%d backends left)", w.id, b, reason, w.backends.Len())
}

func (w *Worker) closeBackends() {
	for _, b := range w.backends.Items() {
		b.close()
	}
	w.alive.Add(-int64(w.backends.Len()))
	w.backends.RemoveFunc(func(*backendConn) bool { return true })
}
