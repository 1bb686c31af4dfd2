package protocol

import (
	"fmt"
	"io"
	"time"
)

// ResponseParser parses the reply stream of one backend connection
type ResponseParser struct {
	parserBase
	backend      string
	maxValueSize int
	state        respState
	// err is set once the stream left the reply grammar
	err error

	// per message
	kind         ResponseKind
	values       int
	limit        int
	messageStart int
	message      string
	dataLen      int
	remaining    int
}

// NewResponseParser creates a parser for the connection to backend
func NewResponseParser(backend string, config ParserConfig) *ResponseParser {
	config = config.withDefaults()
	return &ResponseParser{
		parserBase:   newParserBase(config.BufferSize),
		backend:      backend,
		maxValueSize: config.MaxValueSize,
	}
}

// Feed appends data to the buffer and parses it. A blocked parser ignores the
// data and returns nil.
func (p *ResponseParser) Feed(data []byte) *Response {
	if p.Blocked() || p.cur.buf == nil {
		return nil
	}
	p.cur.Append(data)
	return p.Advance()
}

// Fill reads once from r into the parser buffer. It fails with
// ErrMalformedReply once the stream left the reply grammar.
func (p *ResponseParser) Fill(r io.Reader) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	return p.parserBase.Fill(r)
}

// Err returns the ErrMalformedReply that stopped the parser, if any
func (p *ResponseParser) Err() error {
	return p.err
}

// Advance parses the buffered bytes until they are exhausted or a reply is
// complete. A grammar violation stops the parser, Advance then returns nil
// and Fill and Err report the violation until Reset.
func (p *ResponseParser) Advance() (resp *Response) {
	if p.Blocked() || p.cur.buf == nil || p.err != nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("response parser of %s recovered in state %s: %v", p.backend, p.state, r)
			p.Reset()
			resp = nil
		}
	}()

	c := p.cur
	for c.pos < c.end {
		if p.state.phase == respValueData {
			n := min(p.remaining, c.end-c.pos)
			c.pos += n
			p.remaining -= n
			if p.remaining == 0 {
				p.state = state(respValueDataCR)
			}
			continue
		}

		b := c.buf[c.pos]
		next, action := stepResponse(p.state, b)

		switch action {
		case respMarkLimit:
			p.limit = c.offset()
		case respServerErrKw:
			p.kind = KindServerError
			p.messageStart = c.offset() + 1
		case respClientErrKw:
			p.kind = KindClientError
			p.messageStart = c.offset() + 1
		case respMessageEnd:
			p.message = string(c.buf[c.start+p.messageStart : c.pos])
		case respDigit:
			p.dataLen = p.dataLen*10 + int(b-'0')
			if p.dataLen > p.maxValueSize {
				p.fail(fmt.Sprintf("data block exceeds %d bytes", p.maxValueSize))
				return nil
			}
		case respDataBegin:
			p.remaining = p.dataLen
			p.dataLen = 0
			if p.remaining == 0 {
				next = state(respValueDataCR)
			}
		case respValueDone:
			p.values++
		case respReject:
			p.fail(fmt.Sprintf("unexpected %q in state %s", b, p.state))
			return nil
		case respStored:
			p.kind = KindStored
		case respError:
			p.kind = KindError
		case respEnd:
			p.kind = KindValueBlock
		}

		p.state = next
		c.pos++

		if next.phase == respDone {
			return p.complete()
		}
	}
	return nil
}

// Release hands the buffer back once the reply has been forwarded
func (p *ResponseParser) Release() {
	p.unblock(func() {
		p.cur.skip()
		p.resetMessage()
	})
}

// Reset drops every buffered byte, any partially parsed reply and a grammar
// violation. It must only be called by the owner of an unblocked parser, e.g.
// after a backend timed out in the middle of a reply.
func (p *ResponseParser) Reset() {
	if p.cur.buf != nil {
		p.cur.reset()
	}
	p.err = nil
	p.resetMessage()
}

// fail stops the parser, the partial reply is never completed
func (p *ResponseParser) fail(reason string) {
	Logger.Warningf("reply stream of %s is malformed: %s", p.backend, reason)
	p.err = fmt.Errorf("%w from %s: %s", ErrMalformedReply, p.backend, reason)
	p.state = state(respInvalid)
}

// Idle reports whether the parser is between replies
func (p *ResponseParser) Idle() bool {
	return p.state.phase == respInitial && !p.Blocked()
}

func (p *ResponseParser) complete() *Response {
	resp := &Response{
		Kind:       p.kind,
		ArrivedAt:  time.Now(),
		Message:    p.message,
		ValueCount: p.values,
		parser:     p,
		raw:        p.cur.window(),
		limit:      p.limit,
	}
	if resp.Kind != KindValueBlock {
		resp.limit = len(resp.raw)
	}

	p.block()
	return resp
}

func (p *ResponseParser) resetMessage() {
	p.state = state(respInitial)
	p.kind = 0
	p.values = 0
	p.limit = 0
	p.messageStart = 0
	p.message = ""
	p.dataLen = 0
	p.remaining = 0
}
