// Package registry tracks live client connections and fans events out to
// them.
//
// # Overview
//
// The registry is the only owner of connection state. Connections are added
// on websocket handshake and removed on disconnect or transport error;
// nothing is persisted across restarts.
//
// # Delivery semantics
//
// Broadcast delivers to the snapshot of connections registered at call
// time, optionally excluding the sender. Delivery is best-effort: each
// connection has a buffered send channel drained by its own write pump, and
// a peer whose buffer is full or whose socket has closed simply misses the
// event. No ordering is guaranteed across different peers' receipt of
// concurrently broadcast events.
//
// # Conn
//
// Conn wraps one websocket session with a read pump (feeding the event
// router) and a write pump (draining the send buffer). Close is idempotent
// and fires a single on-close callback, which the server uses to
// deregister.
package registry
