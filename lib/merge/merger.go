// Package merge combines the replies of several backends to one client
// request into a single reply stream.
//
// A Merger is owned by one worker and reused for every request it handles:
//
//	m.Clear()
//	m.AddResult(resp) // once per backend reply, in arrival order
//	m.Merge()
//	m.WriteToClient(conn) // until HasRemaining reports false
//	m.Release()
//
// Merging never copies reply bytes. The write plan is a list of windows into
// the buffers of the contributing response parsers, which is why Release must
// only be called after the plan has been written (or abandoned).
//
// Merge policy:
//
//   - Value blocks are concatenated in arrival order. Every block except the
//     last one is trimmed in front of its END line, so the stream ends with
//     exactly one END.
//   - If at least one value block arrived, error replies (and any other
//     reply) are dropped and counted.
//   - Without value blocks the first error reply wins. If there is none the
//     first reply is forwarded unchanged, e.g. the first STORED of a
//     replicated store.
package merge

import (
	"errors"
	"io"
	"net"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("merge")

var (
	// ErrAlreadyMerged is returned by AddResult after Merge without Clear
	ErrAlreadyMerged = errors.New("merger: results already merged")
	// ErrNotMerged is returned by WriteToClient before Merge
	ErrNotMerged = errors.New("merger: results not merged")
)

// Merger assembles backend replies into one client reply
type Merger struct {
	results []*protocol.Response
	plan    net.Buffers
	pending net.Buffers
	spare   net.Buffers
	merged  bool
	dropped int
	values  int
}

// New creates an empty merger
func New() *Merger {
	return &Merger{
		results: make([]*protocol.Response, 0, 8),
		plan:    make(net.Buffers, 0, 8),
	}
}

// Clear prepares the merger for the next request. Replies that were added
// are forgotten, not released.
func (m *Merger) Clear() {
	clear(m.results)
	m.results = m.results[:0]
	clear(m.plan)
	m.plan = m.plan[:0]
	clear(m.spare)
	m.pending = nil
	m.merged = false
	m.dropped = 0
	m.values = 0
}

// AddResult appends a reply. Replies must be added in arrival order.
func (m *Merger) AddResult(resp *protocol.Response) error {
	if m.merged {
		return ErrAlreadyMerged
	}
	m.results = append(m.results, resp)
	return nil
}

// Merge builds the write plan from the added replies
func (m *Merger) Merge() error {
	if m.merged {
		return ErrAlreadyMerged
	}
	m.merged = true

	var block, firstError, first *protocol.Response
	for _, resp := range m.results {
		if first == nil {
			first = resp
		}
		switch {
		case resp.Kind == protocol.KindValueBlock:
			block = resp
		case resp.Kind.IsError() && firstError == nil:
			firstError = resp
		}
	}

	switch {
	case block != nil:
		var last *protocol.Response
		for _, resp := range m.results {
			if resp.Kind != protocol.KindValueBlock {
				m.dropped++
				Logger.Debugf("dropping %s reply in favour of value blocks", resp.Kind)
				continue
			}
			if last != nil {
				last.Trim()
				m.plan = append(m.plan, last.Bytes())
			}
			m.values += resp.ValueCount
			last = resp
		}
		m.plan = append(m.plan, last.Bytes())
	case firstError != nil:
		m.plan = append(m.plan, firstError.Bytes())
		m.dropped = len(m.results) - 1
	case first != nil:
		m.plan = append(m.plan, first.Bytes())
		m.dropped = len(m.results) - 1
	}

	// writing consumes the buffers, the plan itself stays intact
	m.spare = append(m.spare[:0], m.plan...)
	m.pending = m.spare
	return nil
}

// HasRemaining reports whether merged bytes are still to be written
func (m *Merger) HasRemaining() bool {
	for _, b := range m.pending {
		if len(b) > 0 {
			return true
		}
	}
	return false
}

// WriteToClient writes the remaining merged bytes to w. If the write fails
// part way the written bytes are consumed, a later call continues behind them.
func (m *Merger) WriteToClient(w io.Writer) (int64, error) {
	if !m.merged {
		return 0, ErrNotMerged
	}
	return m.pending.WriteTo(w)
}

// Bytes returns a copy of the complete merged reply
func (m *Merger) Bytes() []byte {
	var size int
	for _, b := range m.plan {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for _, b := range m.plan {
		out = append(out, b...)
	}
	return out
}

// Results returns the replies added since the last Clear
func (m *Merger) Results() []*protocol.Response {
	return m.results
}

// Dropped returns the number of replies left out of the merged reply
func (m *Merger) Dropped() int {
	return m.dropped
}

// ValueCount returns the number of VALUE entries in the merged reply
func (m *Merger) ValueCount() int {
	return m.values
}

// Release hands every added reply back to its parser and clears the merger.
// It is safe to call without a prior Merge and more than once.
func (m *Merger) Release() {
	for _, resp := range m.results {
		resp.Release()
	}
	m.Clear()
}
