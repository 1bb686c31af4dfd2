// Package common provides the configuration and logging shared by the proxy
// packages and the CLI.
//
// Key Components:
//
//   - ProxyConfig: every tunable of the proxy (endpoints, worker and queue
//     sizing, parser limits, timeouts, socket options, statistics exports).
//     The CLI fills it from flags, environment and config file; Validate
//     rejects configurations the proxy cannot start with.
//
//   - SocketConf: the tuning applied to accepted client sockets and to
//     backend connections.
//
//   - Logger: a dragonboat logger factory with a fixed "LEVEL | pkg | msg"
//     line format. InitLoggers installs it and sets the level of every proxy
//     logger.
package common
