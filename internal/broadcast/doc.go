// Package broadcast implements topic actors that fan notifications out to WebSocket sessions.
//
// Each Actor owns the session set of one topic and runs as a single goroutine fed by a command
// channel (no mutexes around the set). Per-session writer goroutines absorb slow or broken clients
// so one bad connection never stalls delivery to the rest. The Directory maps a topic to exactly one
// actor, creating it lazily and consulting a Placement when several instances share the keyspace.
package broadcast
