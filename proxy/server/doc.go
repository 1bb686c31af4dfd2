// Package server assembles the proxy from its parts and runs it.
//
// A Proxy owns
//   - the env.Registry with the connected clients and the backend list,
//   - the request queue between the dispatcher and the workers,
//   - the worker pool, where every worker holds one connection per backend,
//   - the dispatcher, which accepts clients and queues their requests,
//   - the statistics collector and the optional /metrics endpoint.
//
// Startup is all or nothing: if a single backend cannot be reached Start fails
// and the process is expected to exit, the backend topology is static.
//
// Shutdown is cooperative. The dispatcher stops accepting and reading, the
// workers finish the request in hand (bounded by the join timeout, after which
// their backend connections are closed), queued requests are abandoned and the
// final statistics are written.
//
// Usage Example:
//
//	config := common.DefaultProxyConfig()
//	config.Backends = []string{"127.0.0.1:11211", "127.0.0.1:11311"}
//	config.Sharded = true
//
//	p, err := server.New(config, tcp.NewTCPServerConnector(), tcp.NewTCPClientConnector(5*time.Second))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := p.Serve(); err != nil {
//		log.Fatal(err)
//	}
package server
