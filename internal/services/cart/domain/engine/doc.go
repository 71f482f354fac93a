// Package engine runs carts as single-writer entities.
//
// A Shard owns a map from cart id to entity. Each entity is one goroutine that
// reads an unbuffered mailbox, so commands for one cart are processed strictly
// in order while distinct carts run in parallel. An entity activates lazily by
// replaying the journal (from a snapshot when one exists), appends events
// before applying them, and passivates itself after an idle period. The
// journal, not the entity, is the source of truth: any append whose outcome
// is uncertain passivates the entity so the next command replays.
package engine
