package protocol

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

const (
	// DefaultBufferSize is the initial capacity of a parser buffer
	DefaultBufferSize = 4 * 1024
)

// ByteCursor is a growable byte buffer with three cursors:
//
//	start <= pos <= end <= len(buf)
//
// start marks the first byte of the message being parsed, pos the next byte to
// examine and end the number of bytes received so far. The backing array comes
// from a bytebufferpool and is handed back with Free.
type ByteCursor struct {
	bb    *bytebufferpool.ByteBuffer
	buf   []byte
	start int
	pos   int
	end   int
}

// NewByteCursor creates a cursor with at least size bytes of capacity
func NewByteCursor(size int) *ByteCursor {
	if size <= 0 {
		size = DefaultBufferSize
	}

	bb := bytebufferpool.Get()
	if cap(bb.B) < size {
		bb.B = make([]byte, size)
	}
	bb.B = bb.B[:cap(bb.B)]

	return &ByteCursor{bb: bb, buf: bb.B}
}

// Fill reads once from r into the free space behind end. When there is no free
// space left the buffer is compacted (bytes before start are dropped) or, if
// the current message already spans the whole buffer, grown to twice its size.
// Cursor positions relative to start are preserved in both cases.
func (c *ByteCursor) Fill(r io.Reader) (int, error) {
	c.reserve()
	n, err := r.Read(c.buf[c.end:])
	if n > 0 {
		c.end += n
	}
	return n, err
}

// Append copies data behind end, growing the buffer as needed
func (c *ByteCursor) Append(data []byte) {
	for len(data) > 0 {
		c.reserve()
		n := copy(c.buf[c.end:], data)
		c.end += n
		data = data[n:]
	}
}

// reserve makes sure there is at least one free byte behind end
func (c *ByteCursor) reserve() {
	if c.end < len(c.buf) {
		return
	}
	if c.start > 0 {
		c.compact()
		return
	}

	grown := make([]byte, 2*len(c.buf))
	copy(grown, c.buf[:c.end])
	c.buf = grown
	if c.bb != nil {
		c.bb.B = grown
	}
}

// compact moves the bytes of the current message to the front of the buffer
func (c *ByteCursor) compact() {
	if c.start == 0 {
		return
	}
	n := copy(c.buf, c.buf[c.start:c.end])
	c.pos -= c.start
	c.end = n
	c.start = 0
}

// Buffered returns the number of received bytes that have not been parsed yet
func (c *ByteCursor) Buffered() int {
	return c.end - c.pos
}

// Cap returns the current capacity of the buffer
func (c *ByteCursor) Cap() int {
	return len(c.buf)
}

// offset returns pos relative to the message start
func (c *ByteCursor) offset() int {
	return c.pos - c.start
}

// window returns the bytes from the message start to pos
func (c *ByteCursor) window() []byte {
	return c.buf[c.start:c.pos]
}

// skip moves the message start up to pos, dropping everything before it.
// If no unparsed bytes remain the buffer is rewound.
func (c *ByteCursor) skip() {
	c.start = c.pos
	if c.start == c.end {
		c.start, c.pos, c.end = 0, 0, 0
	}
}

// reset drops every byte in the buffer
func (c *ByteCursor) reset() {
	c.start, c.pos, c.end = 0, 0, 0
}

// Free hands the backing array back to the pool. The cursor must not be used
// afterwards.
func (c *ByteCursor) Free() {
	if c.bb == nil {
		return
	}
	c.bb.B = c.buf[:0]
	bytebufferpool.Put(c.bb)
	c.bb = nil
	c.buf = nil
	c.reset()
}
