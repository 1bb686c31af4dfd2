package tcp

import (
	"net"

	"github.com/ValentinKolb/mcmw/proxy/common"
)

// UpgradeConnection applies the socket options of conf to a TCP connection.
// Other connections are left untouched.
func UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(conf.NoDelay); err != nil {
		return err
	}

	if conf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	if conf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	if conf.KeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(conf.KeepAlive); err != nil {
			return err
		}
	}

	if conf.LingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.LingerSec); err != nil {
			return err
		}
	}

	return nil
}
