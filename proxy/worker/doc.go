// Package worker implements the workers that forward queued requests to the
// backends and write the merged replies back to the clients.
//
// Every worker owns one connection (with its ResponseParser) to every
// backend. For each job it
//
//  1. rotates its backend list to the request's round-robin index,
//  2. writes the request: stores verbatim to every backend, fetches verbatim
//     to the first backend or, with sharding enabled, split into one fetch
//     per backend,
//  3. releases the client's parser buffer,
//  4. reads one reply from every backend it wrote to, in parallel,
//  5. merges the replies and writes them to the client in the client's
//     request order.
//
// A backend that fails or times out is closed and removed from the worker for
// good; the request continues with the remaining replies. A request that gets
// no reply at all is abandoned: the client gets nothing and the worker's
// statistics are exported.
package worker
