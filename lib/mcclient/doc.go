// Package mcclient is a small client for the memcached text protocol. It speaks
// the commands the proxy understands (set, get, gets) and is used by the mc
// commands of the CLI and by end-to-end tests.
//
// Replies are read with the same protocol.ResponseParser the proxy uses for
// its backend connections.
//
// Example usage:
//
//	c, err := mcclient.Dial(ctx, "127.0.0.1:11212", 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if err := c.Set("greeting", 0, []byte("hello")); err != nil {
//		return err
//	}
//	items, err := c.Get("greeting", "missing")
package mcclient
