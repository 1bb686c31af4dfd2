// Package mctest provides an in-memory memcached backend for tests of the
// proxy and its client.
//
// Example usage:
//
//	b := mctest.NewBackend(t)
//	b.Put("k", "v")
//	// point the proxy at b.Addr()
//
// A backend can be switched to misbehave (SetMode, SetDelay) to test how the
// proxy handles failing, slow or vanishing backends.
package mctest
