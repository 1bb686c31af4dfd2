package mcclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/lib/mctest"
	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, b *mctest.Backend) *Client {
	t.Helper()
	c, err := Dial(context.Background(), b.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSetAndGet(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)

	require.NoError(t, c.Set("a", 7, []byte("hello")))
	require.NoError(t, c.Set("b", 0, []byte{}))

	items, err := c.Get("a", "b", "missing")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "hello", string(items["a"].Value))
	assert.Equal(t, uint32(7), items["a"].Flags)
	assert.Empty(t, items["b"].Value)
	assert.Zero(t, items["a"].Cas)
	assert.Equal(t, "set a 7 0 5\r\nhello\r\n", b.Received()[0])
}

func TestGetsReturnsCas(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Put("k", "v")
	c := dial(t, b)

	items, err := c.Gets("k")
	require.NoError(t, err)
	require.Contains(t, items, "k")
	assert.NotZero(t, items["k"].Cas)
}

func TestValueWithLineBreaks(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)

	value := []byte("line\r\nEND\r\nVALUE x 0 1\r\n")
	require.NoError(t, c.Set("k", 0, value))
	items, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, value, items["k"].Value)
}

func TestSetNoReply(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)

	require.NoError(t, c.SetNoReply("k", 0, []byte("x")))
	require.Eventually(t, func() bool {
		_, ok := b.Value("k")
		return ok
	}, time.Second, time.Millisecond)

	// the next reply belongs to the next command
	items, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "x", string(items["k"].Value))
}

func TestServerErrors(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)
	b.SetMode(mctest.ServerError)

	err := c.Set("k", 0, []byte("x"))
	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, protocol.KindServerError, serverErr.Kind)
	assert.Equal(t, "out of memory", serverErr.Message)

	_, err = c.Get("k")
	assert.True(t, errors.As(err, &serverErr))
}

func TestMalformedReply(t *testing.T) {
	b := mctest.NewBackend(t)
	b.SetMode(mctest.Malformed)
	c := dial(t, b)

	_, err := c.Get("k")
	assert.ErrorIs(t, err, protocol.ErrMalformedReply)
}

func TestDo(t *testing.T) {
	b := mctest.NewBackend(t)
	b.Put("k", "v")
	c := dial(t, b)

	reply, err := c.Do([]byte("get k\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VALUE k 0 1\r\nv\r\nEND\r\n", string(reply))

	reply, err = c.Do([]byte("get\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ERROR\r\n", string(reply))
}

func TestMalformedKeys(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)

	for _, key := range []string{"", "with space", "tab\tkey", string(make([]byte, 251))} {
		assert.ErrorIs(t, c.Set(key, 0, nil), ErrMalformedKey, "%q", key)
		_, err := c.Get("ok", key)
		assert.ErrorIs(t, err, ErrMalformedKey, "%q", key)
	}
	assert.Empty(t, b.Received())
}

func TestTimeout(t *testing.T) {
	b := mctest.NewBackend(t)
	b.SetMode(mctest.Hang)
	c, err := Dial(context.Background(), b.Addr(), 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get("k")
	assert.Error(t, err)
}

func TestClosed(t *testing.T) {
	b := mctest.NewBackend(t)
	c := dial(t, b)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Set("k", 0, nil), ErrClosed)
}

func TestParseItems(t *testing.T) {
	items := make(map[string]*Item)
	raw := []byte("VALUE a 1 2 9\r\nxy\r\nVALUE b 0 0\r\n\r\nEND\r\n")
	require.NoError(t, parseItems(raw, items))
	assert.Equal(t, &Item{Key: "a", Flags: 1, Value: []byte("xy"), Cas: 9}, items["a"])
	assert.Equal(t, &Item{Key: "b", Value: []byte{}}, items["b"])

	assert.ErrorIs(t, parseItems([]byte("VALUE a 0 10\r\nxy\r\nEND\r\n"), items), ErrUnexpectedReply)
	assert.ErrorIs(t, parseItems([]byte("VALUE a x 1\r\nx\r\nEND\r\n"), items), ErrUnexpectedReply)
}
