package mcclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/valyala/bytebufferpool"
)

var Logger = logger.GetLogger("mcclient")

var (
	// ErrMalformedKey is returned for keys longer than 250 bytes or with
	// spaces or control characters
	ErrMalformedKey = errors.New("mcclient: malformed key")
	// ErrUnexpectedReply is returned when the reply does not fit the command
	ErrUnexpectedReply = errors.New("mcclient: unexpected reply")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("mcclient: client closed")
)

var crlf = []byte("\r\n")

// ServerError is an ERROR, CLIENT_ERROR or SERVER_ERROR reply
type ServerError struct {
	Kind    protocol.ResponseKind
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "mcclient: " + e.Kind.String()
	}
	return fmt.Sprintf("mcclient: %s %s", e.Kind, e.Message)
}

// Item is a value returned by Get or Gets
type Item struct {
	Key   string
	Flags uint32
	Value []byte
	// Cas is only set by Gets
	Cas uint64
}

// Client is a connection to a memcached compatible server. It is safe for
// concurrent use, commands are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	parser  *protocol.ResponseParser
	timeout time.Duration
	closed  bool
}

// Dial connects to addr, a host:port or the path of a Unix socket starting
// with /. timeout bounds the connect and every later command, 0 disables it.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	network := "tcp"
	if strings.HasPrefix(addr, "/") {
		network = "unix"
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	Logger.Debugf("connected to %s", addr)
	return New(conn, timeout), nil
}

// New wraps an open connection
func New(conn net.Conn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		parser:  protocol.NewResponseParser(conn.RemoteAddr().String(), protocol.ParserConfig{}),
		timeout: timeout,
	}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.parser.Close()
	return c.conn.Close()
}

// --------------------------------------------------------------------------
// Commands
// --------------------------------------------------------------------------

// Set stores value under key
func (c *Client) Set(key string, flags uint32, value []byte) error {
	return c.set(key, flags, value, false)
}

// SetNoReply stores value under key without waiting for the server
func (c *Client) SetNoReply(key string, flags uint32, value []byte) error {
	return c.set(key, flags, value, true)
}

func (c *Client) set(key string, flags uint32, value []byte, noreply bool) error {
	if !legalKey(key) {
		return ErrMalformedKey
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = append(buf.B, "set "...)
	buf.B = append(buf.B, key...)
	buf.B = append(buf.B, ' ')
	buf.B = strconv.AppendUint(buf.B, uint64(flags), 10)
	buf.B = append(buf.B, " 0 "...)
	buf.B = strconv.AppendInt(buf.B, int64(len(value)), 10)
	if noreply {
		buf.B = append(buf.B, " noreply"...)
	}
	buf.B = append(buf.B, crlf...)
	buf.B = append(buf.B, value...)
	buf.B = append(buf.B, crlf...)

	if noreply {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.write(buf.B)
	}

	kind, _, err := c.roundTrip(buf.B, nil)
	if err != nil {
		return err
	}
	if kind != protocol.KindStored {
		return fmt.Errorf("%w: %s to set", ErrUnexpectedReply, kind)
	}
	return nil
}

// Get fetches keys. Missing keys are not part of the result.
func (c *Client) Get(keys ...string) (map[string]*Item, error) {
	return c.fetch("get", keys)
}

// Gets fetches keys together with their cas values
func (c *Client) Gets(keys ...string) (map[string]*Item, error) {
	return c.fetch("gets", keys)
}

func (c *Client) fetch(verb string, keys []string) (map[string]*Item, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = append(buf.B, verb...)
	for _, key := range keys {
		if !legalKey(key) {
			return nil, ErrMalformedKey
		}
		buf.B = append(buf.B, ' ')
		buf.B = append(buf.B, key...)
	}
	buf.B = append(buf.B, crlf...)

	items := make(map[string]*Item, len(keys))
	kind, _, err := c.roundTrip(buf.B, func(raw []byte) error {
		return parseItems(raw, items)
	})
	if err != nil {
		return nil, err
	}
	if kind != protocol.KindValueBlock {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnexpectedReply, kind, verb)
	}
	return items, nil
}

// Do sends a raw command and returns the raw reply. Error replies are
// returned as reply, not as error.
func (c *Client) Do(cmd []byte) ([]byte, error) {
	var out []byte
	_, _, err := c.roundTrip(cmd, func(raw []byte) error {
		out = append([]byte(nil), raw...)
		return nil
	})
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return out, nil
	}
	return out, err
}

// roundTrip writes cmd and reads one reply. handle sees the raw reply bytes
// before the parser buffer is released.
func (c *Client) roundTrip(cmd []byte, handle func(raw []byte) error) (protocol.ResponseKind, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.write(cmd); err != nil {
		return 0, "", err
	}
	resp, err := c.read()
	if err != nil {
		return 0, "", err
	}
	defer resp.Release()

	if handle != nil {
		if err := handle(resp.Raw()); err != nil {
			return resp.Kind, resp.Message, err
		}
	}
	if resp.Kind.IsError() {
		return resp.Kind, resp.Message, &ServerError{Kind: resp.Kind, Message: resp.Message}
	}
	return resp.Kind, resp.Message, nil
}

func (c *Client) write(cmd []byte) error {
	if c.closed {
		return ErrClosed
	}
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(cmd)
	return err
}

func (c *Client) read() (*protocol.Response, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
	}
	for {
		if resp := c.parser.Advance(); resp != nil {
			return resp, nil
		}
		n, err := c.parser.Fill(c.conn)
		if n == 0 && err != nil {
			// a partial reply cannot be continued
			c.parser.Reset()
			return nil, err
		}
	}
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// parseItems reads the VALUE entries of a value block into items
func parseItems(raw []byte, items map[string]*Item) error {
	for len(raw) > 0 {
		i := bytes.Index(raw, crlf)
		if i < 0 {
			return fmt.Errorf("%w: unterminated line", ErrUnexpectedReply)
		}
		line := raw[:i]
		raw = raw[i+2:]

		if bytes.Equal(line, []byte("END")) {
			return nil
		}
		fields := bytes.Fields(line)
		if len(fields) < 4 || len(fields) > 5 || string(fields[0]) != "VALUE" {
			// not a value block
			return nil
		}

		flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: bad flags %q", ErrUnexpectedReply, fields[2])
		}
		size, err := strconv.Atoi(string(fields[3]))
		if err != nil || size < 0 || size+2 > len(raw) {
			return fmt.Errorf("%w: bad value length %q", ErrUnexpectedReply, fields[3])
		}
		it := &Item{
			Key:   string(fields[1]),
			Flags: uint32(flags),
			Value: bytes.Clone(raw[:size]),
		}
		if len(fields) == 5 {
			if it.Cas, err = strconv.ParseUint(string(fields[4]), 10, 64); err != nil {
				return fmt.Errorf("%w: bad cas %q", ErrUnexpectedReply, fields[4])
			}
		}
		items[it.Key] = it
		raw = raw[size+2:]
	}
	return nil
}

func legalKey(key string) bool {
	if len(key) == 0 || len(key) > 250 {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}
