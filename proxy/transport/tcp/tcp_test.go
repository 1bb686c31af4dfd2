package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndUpgrade(t *testing.T) {
	server := NewTCPServerConnector()
	assert.Equal(t, "tcp", server.GetName())

	listener, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	conf := common.SocketConf{
		NoDelay:         true,
		KeepAlive:       time.Minute,
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		LingerSec:       0,
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client := NewTCPClientConnector(time.Second)
	conn, err := client.Connect(context.Background(), listener.Addr().String(), conf)
	require.NoError(t, err)
	defer conn.Close()

	peer := <-accepted
	defer peer.Close()
	require.NoError(t, server.UpgradeConnection(peer, conf))

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = NewTCPClientConnector(time.Second).Connect(context.Background(), addr, common.SocketConf{LingerSec: -1})
	assert.Error(t, err)
}

func TestUpgradeIgnoresOtherConns(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.NoError(t, UpgradeConnection(a, common.SocketConf{NoDelay: true, KeepAlive: time.Second}))
}

func TestListenInvalidEndpoint(t *testing.T) {
	_, err := NewTCPServerConnector().Listen("not-an-endpoint")
	assert.Error(t, err)
}
