package merge

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/mcmw/lib/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reply parses raw with a fresh parser and returns the reply and its parser
func reply(t *testing.T, raw string) (*protocol.Response, *protocol.ResponseParser) {
	t.Helper()
	p := protocol.NewResponseParser("backend", protocol.ParserConfig{})
	resp := p.Feed([]byte(raw))
	require.NotNil(t, resp, "incomplete reply %q", raw)
	return resp, p
}

func mergeAll(t *testing.T, m *Merger, raws ...string) []*protocol.ResponseParser {
	t.Helper()
	m.Clear()
	parsers := make([]*protocol.ResponseParser, 0, len(raws))
	for _, raw := range raws {
		resp, p := reply(t, raw)
		require.NoError(t, m.AddResult(resp))
		parsers = append(parsers, p)
	}
	require.NoError(t, m.Merge())
	return parsers
}

func write(t *testing.T, m *Merger) string {
	t.Helper()
	var out bytes.Buffer
	_, err := m.WriteToClient(&out)
	require.NoError(t, err)
	assert.False(t, m.HasRemaining())
	return out.String()
}

func TestMergeValueBlocks(t *testing.T) {
	m := New()
	mergeAll(t, m,
		"VALUE a 0 1\r\nX\r\nVALUE b 0 1\r\nY\r\nEND\r\n",
		"VALUE c 0 1\r\nZ\r\nEND\r\n",
	)

	assert.True(t, m.HasRemaining())
	assert.Equal(t, "VALUE a 0 1\r\nX\r\nVALUE b 0 1\r\nY\r\nVALUE c 0 1\r\nZ\r\nEND\r\n", write(t, m))
	assert.Equal(t, 3, m.ValueCount())
	assert.Equal(t, 0, m.Dropped())
}

func TestMergeKeepsArrivalOrder(t *testing.T) {
	m := New()
	mergeAll(t, m,
		"VALUE c 0 1\r\nZ\r\nEND\r\n",
		"END\r\n",
		"VALUE a 0 1\r\nX\r\nEND\r\n",
	)
	assert.Equal(t, "VALUE c 0 1\r\nZ\r\nVALUE a 0 1\r\nX\r\nEND\r\n", write(t, m))
}

func TestMergeAllMisses(t *testing.T) {
	m := New()
	mergeAll(t, m, "END\r\n", "END\r\n", "END\r\n")
	assert.Equal(t, "END\r\n", write(t, m))
	assert.Equal(t, 0, m.ValueCount())
}

func TestMergePolicy(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		want    string
		dropped int
	}{
		{"single stored", []string{"STORED\r\n"}, "STORED\r\n", 0},
		{"replicated store", []string{"STORED\r\n", "STORED\r\n", "STORED\r\n"}, "STORED\r\n", 2},
		{"store first error wins", []string{"STORED\r\n", "SERVER_ERROR out of memory\r\n", "CLIENT_ERROR bad\r\n"}, "SERVER_ERROR out of memory\r\n", 2},
		{"fetch only errors", []string{"ERROR\r\n", "SERVER_ERROR busy\r\n"}, "ERROR\r\n", 1},
		{"fetch values win over errors", []string{"SERVER_ERROR busy\r\n", "VALUE a 0 1\r\nX\r\nEND\r\n", "ERROR\r\n"}, "VALUE a 0 1\r\nX\r\nEND\r\n", 2},
		{"fetch misses win over errors", []string{"END\r\n", "ERROR\r\n"}, "END\r\n", 1},
	}

	m := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mergeAll(t, m, tt.replies...)
			assert.Equal(t, tt.want, write(t, m))
			assert.Equal(t, tt.dropped, m.Dropped())
			m.Release()
		})
	}
}

func TestMergeNothing(t *testing.T) {
	m := New()
	m.Clear()
	require.NoError(t, m.Merge())
	assert.False(t, m.HasRemaining())
	assert.Equal(t, "", write(t, m))
}

func TestMergerContract(t *testing.T) {
	m := New()
	m.Clear()
	m.Clear()

	_, err := m.WriteToClient(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotMerged)

	resp, _ := reply(t, "STORED\r\n")
	require.NoError(t, m.AddResult(resp))
	require.NoError(t, m.Merge())

	late, _ := reply(t, "STORED\r\n")
	assert.ErrorIs(t, m.AddResult(late), ErrAlreadyMerged)
	assert.ErrorIs(t, m.Merge(), ErrAlreadyMerged)

	m.Clear()
	assert.NoError(t, m.AddResult(late))
}

func TestReleaseHandsBuffersBack(t *testing.T) {
	m := New()
	m.Clear()

	var parsers []*protocol.ResponseParser
	for _, raw := range []string{"END\r\n", "VALUE a 0 1\r\nX\r\nEND\r\n"} {
		resp, p := reply(t, raw)
		require.NoError(t, m.AddResult(resp))
		parsers = append(parsers, p)
	}

	// abandoned before merging
	m.Release()
	m.Release()

	for _, p := range parsers {
		assert.False(t, p.Blocked())
		assert.True(t, p.Idle())
	}
	assert.Empty(t, m.Results())
	require.NoError(t, m.Merge())
}

var errShortWrite = errors.New("short write")

// limitWriter accepts limit bytes and fails afterwards
type limitWriter struct {
	out   bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	n := min(len(p), w.limit)
	w.out.Write(p[:n])
	w.limit -= n
	if n < len(p) {
		return n, errShortWrite
	}
	return n, nil
}

func TestWriteToClientResumes(t *testing.T) {
	m := New()
	mergeAll(t, m,
		"VALUE a 0 1\r\nX\r\nEND\r\n",
		"VALUE b 0 1\r\nY\r\nEND\r\n",
	)
	want := "VALUE a 0 1\r\nX\r\nVALUE b 0 1\r\nY\r\nEND\r\n"

	w := &limitWriter{limit: 5}
	n, err := m.WriteToClient(w)
	assert.ErrorIs(t, err, errShortWrite)
	assert.Equal(t, int64(5), n)
	assert.True(t, m.HasRemaining())

	for i := 0; m.HasRemaining() && i < 100; i++ {
		w.limit = 7
		_, _ = m.WriteToClient(w)
	}
	assert.False(t, m.HasRemaining())
	assert.Equal(t, want, w.out.String())
	assert.Equal(t, want, string(m.Bytes()))
}
