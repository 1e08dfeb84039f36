// Package domain defines the core domain types and interfaces.
//
// Topics, actor identities, messages and the contracts between the broadcast core,
// the placement substrate and the HTTP adapters live here. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
