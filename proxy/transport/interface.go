package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/mcmw/proxy/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// --------------------------------------------------------------------------
// Server side
// --------------------------------------------------------------------------

// IServerConnector creates the client facing listener and tunes accepted
// client sockets
type IServerConnector interface {
	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string
	// Listen creates a listener on endpoint
	Listen(endpoint string) (net.Listener, error)
	// UpgradeConnection applies the socket options to an accepted connection
	UpgradeConnection(conn net.Conn, conf common.SocketConf) error
}

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// IClientConnector opens backend connections
type IClientConnector interface {
	// GetName returns the name of the transport type (e.g. "tcp")
	GetName() string
	// Connect establishes a connection to endpoint and applies conf to it
	Connect(ctx context.Context, endpoint string, conf common.SocketConf) (net.Conn, error)
}
