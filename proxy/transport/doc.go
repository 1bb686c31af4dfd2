// Package transport defines how the proxy obtains its sockets. The dispatcher
// accepts clients through an IServerConnector, the workers dial backends
// through an IClientConnector. Both apply the socket options of
// common.SocketConf to every connection they hand out.
//
// The tcp subpackage holds the only implementation.
package transport
