// Package history keeps the most recent broadcast messages so operators can
// inspect the conversation through the REST and MCP surfaces.
//
// Two stores are provided:
//   - MemoryStore, a fixed-size ring buffer local to the process
//   - RedisStore, a capped Redis list shared by every instance pointing at it
//
// History is query-only. It is never replayed to connections when they join.
package history
