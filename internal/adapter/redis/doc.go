// Package redis implements actor placement on Redis.
//
// Every hosted actor is backed by a lease key holding the owner's advertised URL. Leases are
// claimed with SET NX, renewed by a heartbeat and released with compare-and-delete, so a topic
// has at most one live actor across instances. All commands pass through a circuit breaker hook.
package redis
