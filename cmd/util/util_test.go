package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "", WrapString("  "))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, SplitList(" a:1,, b:2 ,"))
	assert.Nil(t, SplitList(""))
}

func TestConnectors(t *testing.T) {
	for _, name := range []string{"tcp", "unix"} {
		server, err := GetServerConnector(name)
		require.NoError(t, err)
		assert.Equal(t, name, server.GetName())

		client, err := GetClientConnector(name, time.Second)
		require.NoError(t, err)
		assert.Equal(t, name, client.GetName())
	}

	_, err := GetServerConnector("udp")
	assert.Error(t, err)
	_, err = GetClientConnector("http", time.Second)
	assert.Error(t, err)
}
