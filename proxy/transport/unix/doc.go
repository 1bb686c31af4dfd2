// Package unix implements the transport connectors for Unix domain sockets,
// for clients and backends running on the same machine as the proxy.
//
// Key Components:
//
//   - serverConnector: listens on a socket file, removing a stale one first
//
//   - clientConnector: dials backends listening on a socket file
//
// Only the socket buffer sizes of common.SocketConf apply to Unix sockets.
package unix
