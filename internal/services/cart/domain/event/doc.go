// Package event defines the cart event envelope stored in the journal.
//
// Events are immutable facts emitted by accepted cart commands. A Record adds
// the journal-assigned position: a per-cart sequence that starts at 1 with no
// gaps, the projection tag the cart hashes to, and a journal-wide ordinal that
// orders records across carts in commit order.
package event
