// Package tcp implements the transport connectors for TCP sockets.
//
// Key Components:
//
//   - serverConnector: listens for cache clients, see NewTCPServerConnector
//
//   - clientConnector: dials backend servers, see NewTCPClientConnector
//
//   - UpgradeConnection: applies no-delay, socket buffer sizes, keep-alive and
//     linger from common.SocketConf. Both connectors use it.
package tcp
