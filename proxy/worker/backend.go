package worker

import (
	"net"
	"time"

	"github.com/ValentinKolb/mcmw/lib/env"
	"github.com/ValentinKolb/mcmw/lib/protocol"
)

// backendConn is the connection of one worker to one backend. It is owned by
// that worker for the lifetime of the process.
type backendConn struct {
	backend env.Backend
	conn    net.Conn
	parser  *protocol.ResponseParser
}

// readResponse reads until the parser has a complete reply. A non-zero
// deadline bounds the wait.
func (b *backendConn) readResponse(deadline time.Time) (*protocol.Response, error) {
	if resp := b.parser.Advance(); resp != nil {
		return resp, nil
	}
	if err := b.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		n, err := b.parser.Fill(b.conn)
		if n > 0 {
			if resp := b.parser.Advance(); resp != nil {
				return resp, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *backendConn) close() {
	_ = b.conn.Close()
	b.parser.Close()
}

func (b *backendConn) String() string {
	return b.backend.String()
}
