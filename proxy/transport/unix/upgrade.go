package unix

import (
	"net"

	"github.com/ValentinKolb/mcmw/proxy/common"
)

// UpgradeConnection applies the socket buffer sizes of conf to a Unix socket
// connection. The TCP only options are ignored.
func UpgradeConnection(conn net.Conn, conf common.SocketConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if conf.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}
	if conf.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
