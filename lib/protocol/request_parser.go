package protocol

import (
	"bytes"
	"time"
)

// ParserConfig bounds what a parser accepts
type ParserConfig struct {
	// BufferSize is the initial buffer capacity, the buffer grows on demand
	BufferSize int
	// MaxKeys is the number of keys tracked per fetch, excess keys are dropped
	MaxKeys int
	// MaxValueSize is the largest accepted data block of a store command
	MaxValueSize int
	// MaxLineLength is the longest accepted command line, line break
	// included. Longer lines are discarded as they arrive.
	MaxLineLength int
}

// DefaultParserConfig returns the limits used when none are configured
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		BufferSize:   DefaultBufferSize,
		MaxKeys:      250,
		MaxValueSize: 1024 * 1024,
		// room for 250 keys of 250 bytes
		MaxLineLength: 64 * 1024,
	}
}

func (c ParserConfig) withDefaults() ParserConfig {
	d := DefaultParserConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = d.MaxKeys
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = d.MaxValueSize
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = d.MaxLineLength
	}
	return c
}

// RequestParser parses the command stream of one client connection
type RequestParser struct {
	parserBase
	config    ParserConfig
	submitter Submitter
	state     reqState

	// per message
	kind       RequestKind
	cas        bool
	noReply    bool
	keys       []KeyDescriptor
	truncated  bool
	tokenStart int
	dataLen    int
	remaining  int
	arrivedAt  time.Time
}

// NewRequestParser creates a parser for the connection of submitter
func NewRequestParser(submitter Submitter, config ParserConfig) *RequestParser {
	config = config.withDefaults()
	return &RequestParser{
		parserBase: newParserBase(config.BufferSize),
		config:     config,
		submitter:  submitter,
		keys:       make([]KeyDescriptor, 0, min(config.MaxKeys, 16)),
	}
}

// Feed appends data to the buffer and parses it. A blocked parser ignores the
// data and returns nil.
func (p *RequestParser) Feed(data []byte) *Request {
	if p.Blocked() || p.cur.buf == nil {
		return nil
	}
	p.cur.Append(data)
	return p.Advance()
}

// Advance parses the buffered bytes until they are exhausted or a request is
// complete. Bytes behind a completed request stay buffered and are parsed by
// the first Advance after Release.
func (p *RequestParser) Advance() (req *Request) {
	if p.Blocked() || p.cur.buf == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("request parser of %s recovered in state %s: %v", p.name(), p.state, r)
			p.cur.reset()
			p.resetMessage()
			req = nil
		}
	}()

	c := p.cur
	for c.pos < c.end {
		// data blocks are skipped in bulk
		if p.state == reqSetData {
			n := min(p.remaining, c.end-c.pos)
			c.pos += n
			p.remaining -= n
			if p.remaining == 0 {
				p.state = reqSetDataCR
			}
			continue
		}

		// a discarded line is dropped up to its line feed without buffering it
		if p.state == reqInvalid {
			if i := bytes.IndexByte(c.buf[c.pos:c.end], '\n'); i >= 0 {
				c.pos += i
			} else {
				c.pos = c.end
				c.skip()
				continue
			}
		}

		if p.state.commandLine() && c.offset() >= p.config.MaxLineLength {
			Logger.Warningf("discarding line from %s: longer than %d bytes", p.name(), p.config.MaxLineLength)
			p.state = reqInvalid
			continue
		}

		if p.state == reqInitial && p.arrivedAt.IsZero() {
			p.arrivedAt = time.Now()
		}

		b := c.buf[c.pos]
		next, action := stepRequest(p.state, b)

		switch action {
		case reqStore:
			p.kind = KindStore
		case reqFetch:
			p.kind = KindFetch
		case reqFetchCas:
			p.kind = KindFetch
			p.cas = true
		case reqTokenStart:
			p.tokenStart = c.offset()
		case reqKeyEnd:
			p.addKey(c.offset())
		case reqOptionEnd:
			if bytes.Equal(c.buf[c.start+p.tokenStart:c.pos], noReply) {
				p.noReply = true
			}
		case reqDigit:
			p.dataLen = p.dataLen*10 + int(b-'0')
			if p.dataLen > p.config.MaxValueSize {
				Logger.Warningf("discarding store from %s: data block exceeds %d bytes", p.name(), p.config.MaxValueSize)
				next = reqInvalid
			}
		case reqDataBegin:
			p.remaining = p.dataLen
			if p.remaining == 0 {
				next = reqSetDataCR
			}
		case reqReject:
			Logger.Warningf("discarding invalid line from %s: unexpected %q in state %s", p.name(), b, p.state)
		case reqDiscard:
			if p.state != reqInvalid {
				Logger.Warningf("discarding invalid line from %s: unexpected line feed in state %s", p.name(), p.state)
			}
			c.pos++
			c.skip()
			p.resetMessage()
			continue
		case reqComplete:
			c.pos++
			p.state = reqDone
			return p.complete()
		}

		p.state = next
		c.pos++
	}
	return nil
}

// Release hands the buffer back after the last request has been written to
// every backend. The parser resets to its initial state and continues with
// any bytes that were received behind the request.
func (p *RequestParser) Release() {
	p.unblock(func() {
		p.cur.skip()
		p.resetMessage()
	})
}

// addKey records the token that started at tokenStart and ends before end
func (p *RequestParser) addKey(end int) {
	length := end - p.tokenStart
	if length <= 0 {
		return
	}
	if len(p.keys) >= p.config.MaxKeys {
		if !p.truncated {
			Logger.Warningf("request from %s has more than %d keys, excess keys are not tracked", p.name(), p.config.MaxKeys)
		}
		p.truncated = true
		return
	}
	p.keys = append(p.keys, KeyDescriptor{Offset: p.tokenStart, Length: length})
}

// complete builds the request for the current message and blocks the parser
func (p *RequestParser) complete() *Request {
	req := &Request{
		Kind:       p.kind,
		Submitter:  p.submitter,
		Cas:        p.cas,
		NoReply:    p.noReply,
		KeyCount:   len(p.keys),
		Truncated:  p.truncated,
		DataLength: p.dataLen,
		ArrivedAt:  p.arrivedAt,
		parser:     p,
		raw:        p.cur.window(),
		keys:       p.keys,
	}
	if req.Kind == KindFetch {
		req.IsMulti = req.KeyCount > 1 || req.Truncated
		req.MissCount = req.KeyCount
	}

	p.block()
	return req
}

func (p *RequestParser) resetMessage() {
	p.state = reqInitial
	p.kind = 0
	p.cas = false
	p.noReply = false
	p.keys = p.keys[:0]
	p.truncated = false
	p.tokenStart = 0
	p.dataLen = 0
	p.remaining = 0
	p.arrivedAt = time.Time{}
}

func (p *RequestParser) name() string {
	if p.submitter == nil {
		return "unknown client"
	}
	return p.submitter.Name()
}
