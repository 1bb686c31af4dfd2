// Package util provides small generic building blocks used by the proxy.
//
// The package contains:
//   - offsetlist: an ordered list iterated from a rotating start offset, used for round-robin backend order
//   - mpsc: a lock-free Multi-Producer Single-Consumer queue used to hand statistics samples to their collector
//   - histogram: a fixed width histogram for response time distributions
//   - distribution: summary statistics and a quality rating for how evenly load is spread
package util
