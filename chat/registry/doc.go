// Package registry tracks live chat connections and fans messages out to them.
//
// The registry package implements:
//   - ConnectionRegistry, a mutex-guarded map of connection id to outbound channel
//   - Join, Leave, Broadcast and Rename over that map
//   - Outbox, the bounded per-connection queue drained by a transport write loop
//   - Lazy pruning of dead peers during delivery
//
// Delivery Semantics:
//
// Broadcast copies the registered outbounds under a read lock, releases the lock
// and then delivers to each one. A connection that joins while a broadcast is in
// flight may or may not see that message. Nothing is buffered for connections
// that have not joined yet, so a late joiner never receives earlier messages.
//
// Rename is the one update made to a live entry, and it only touches the
// display name under the write lock. The outbound a connection joined with is
// never replaced, so a rename cannot redirect or drop messages. Participants
// returns copies, and a snapshot taken before a rename keeps the old name.
//
// Dead Peers:
//
// An outbound that is closed or full is a dead peer. The failed delivery does
// not stop the broadcast; once the loop finishes the dead connections are
// removed and their outbounds closed, which ends the owning write loop. Dead
// peers are never reported as errors to the broadcaster.
//
// Usage:
//
//	reg := registry.NewConnectionRegistry(registry.WithLogger(logger))
//
//	out := registry.NewOutbox(registry.DefaultOutboxCapacity)
//	id := registry.NewConnectionID()
//	reg.Join(id, out, "Alice")
//	defer reg.Leave(id)
//
//	delivered := reg.Broadcast(message.New("Alice", "hi"))
//
// Concurrency:
//
// A single sync.RWMutex guards the whole map. No lock is held while delivering,
// so a slow outbound cannot stall Join or Leave on other connections.
package registry
