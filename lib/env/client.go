package env

import (
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
)

// Client is a connected cache client
type Client struct {
	name   string
	conn   net.Conn
	parser *protocol.RequestParser

	// replies are written in request order. next is the lowest unfinished
	// ticket, finished holds tickets above it that are already done.
	turn struct {
		sync.Mutex
		issued   uint64
		next     uint64
		finished map[uint64]struct{}
		waiting  map[uint64]chan struct{}
	}
}

// Name implements protocol.Submitter
func (c *Client) Name() string {
	return c.name
}

// Conn implements protocol.Submitter
func (c *Client) Conn() net.Conn {
	return c.conn
}

// Parser returns the request parser reading from this client
func (c *Client) Parser() *protocol.RequestParser {
	return c.parser
}

// Ticket reserves the next position in the reply order of this client. Every
// ticket must be finished with Done exactly once.
func (c *Client) Ticket() uint64 {
	c.turn.Lock()
	defer c.turn.Unlock()

	t := c.turn.issued
	c.turn.issued++
	return t
}

// AwaitTurn blocks until every reply for an earlier ticket has been written or
// abandoned, or until timeout passes. It reports whether the turn was reached.
// A timeout of zero waits without limit.
func (c *Client) AwaitTurn(ticket uint64, timeout time.Duration) bool {
	c.turn.Lock()
	if c.turn.next >= ticket {
		c.turn.Unlock()
		return true
	}
	ch := make(chan struct{})
	c.turn.waiting[ticket] = ch
	c.turn.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		c.turn.Lock()
		defer c.turn.Unlock()
		delete(c.turn.waiting, ticket)
		return c.turn.next >= ticket
	}
}

// Done finishes ticket. The turn only moves on once every earlier ticket is
// finished as well, so a reply can never overtake an earlier one.
func (c *Client) Done(ticket uint64) {
	c.turn.Lock()
	defer c.turn.Unlock()

	if ticket < c.turn.next {
		return
	}
	c.turn.finished[ticket] = struct{}{}
	for {
		if _, ok := c.turn.finished[c.turn.next]; !ok {
			break
		}
		delete(c.turn.finished, c.turn.next)
		c.turn.next++
	}
	if ch, ok := c.turn.waiting[c.turn.next]; ok {
		close(ch)
		delete(c.turn.waiting, c.turn.next)
	}
}
