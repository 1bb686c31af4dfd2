package unix

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(ctx context.Context, socketPath string, conf common.SocketConf) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := UpgradeConnection(conn, conf); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to tune connection to %s: %w", socketPath, err)
	}
	transport.Logger.Debugf("connected to unix socket %s", socketPath)
	return conn, nil
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewUnixClientConnector creates the Unix socket dialer side for backends
// listening on a socket file (memcached -s)
func NewUnixClientConnector(timeout time.Duration) transport.IClientConnector {
	return &clientConnector{dialer: net.Dialer{Timeout: timeout}}
}
