// Package dispatcher accepts client connections and feeds their requests to
// the request queue.
//
// Every client gets one reader goroutine. The reader parses bytes with the
// client's RequestParser until a request is complete, queues it as an
// env.Job and then waits until the worker that took the job has released the
// parser buffer. Bytes received behind the request stay in the buffer and are
// parsed after the release, so a client has at most one request in flight
// and its requests are queued in arrival order.
//
// Requests are assigned a round-robin index over the backends when they are
// queued. Workers rotate their backend list by this index, which spreads
// unsharded fetches and the order of replicated stores evenly.
package dispatcher
