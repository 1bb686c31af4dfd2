package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/ValentinKolb/mcmw/proxy/transport"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string, conf common.SocketConf) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if err := UpgradeConnection(conn, conf); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to tune connection to %s: %w", endpoint, err)
	}
	transport.Logger.Debugf("connected to %s from %s", endpoint, conn.LocalAddr())
	return conn, nil
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewTCPClientConnector creates the TCP dialer side. A positive timeout
// bounds every connection attempt.
func NewTCPClientConnector(timeout time.Duration) transport.IClientConnector {
	return &clientConnector{dialer: net.Dialer{Timeout: timeout}}
}
