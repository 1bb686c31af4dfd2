package protocol

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("protocol")

var (
	// ErrParserBlocked is returned when a blocked parser is asked to read
	ErrParserBlocked = errors.New("parser is blocked until its message is released")
	// ErrParserClosed is returned when a closed parser is asked to read
	ErrParserClosed = errors.New("parser is closed")
	// ErrMalformedReply is returned by a response parser that met bytes outside
	// the reply grammar. The stream cannot be trusted afterwards.
	ErrMalformedReply = errors.New("malformed reply")
)

// closedSignal is returned by Released for parsers that never completed a message
var closedSignal = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// parserBase holds the ownership handoff shared by both parsers.
//
// The goroutine that feeds a parser owns its buffer until a message completes.
// Completing a message blocks the parser and passes ownership to whoever holds
// the message. Release passes it back. The blocked flag is the only
// synchronization between the two sides, the mutex just orders Release against
// Close so that the buffer is freed exactly once.
type parserBase struct {
	cur      *ByteCursor
	blocked  atomic.Bool
	released chan struct{}

	mu     sync.Mutex
	closed bool
}

func newParserBase(size int) parserBase {
	return parserBase{
		cur:      NewByteCursor(size),
		released: closedSignal,
	}
}

// Fill reads once from r into the parser buffer. It fails with
// ErrParserBlocked while a completed message has not been released.
func (p *parserBase) Fill(r io.Reader) (int, error) {
	if p.blocked.Load() {
		return 0, ErrParserBlocked
	}
	if p.cur.buf == nil {
		return 0, ErrParserClosed
	}
	return p.cur.Fill(r)
}

// Blocked reports whether a completed message still owns the parser buffer
func (p *parserBase) Blocked() bool {
	return p.blocked.Load()
}

// Released returns a channel that is closed once the last completed message
// has been released
func (p *parserBase) Released() <-chan struct{} {
	return p.released
}

// Buffered returns the number of received but not yet parsed bytes
func (p *parserBase) Buffered() int {
	if p.cur.buf == nil {
		return 0
	}
	return p.cur.Buffered()
}

// block marks the current message as complete and hands the buffer over
func (p *parserBase) block() {
	p.released = make(chan struct{})
	p.blocked.Store(true)
}

// unblock hands the buffer back. reset runs before the flag is cleared.
// Calling it on a parser that is not blocked does nothing.
func (p *parserBase) unblock(reset func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.blocked.Load() {
		return
	}
	if p.closed {
		p.cur.Free()
	} else {
		reset()
	}
	p.blocked.Store(false)
	close(p.released)
}

// Close frees the buffer. If a message still holds it, the buffer is freed
// when that message is released.
func (p *parserBase) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	if !p.blocked.Load() {
		p.cur.Free()
	}
}
