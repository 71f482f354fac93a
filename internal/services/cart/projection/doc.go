// Package projection maintains the item popularity read model from the
// journal.
//
// The runner tails each journal tag by ordinal and applies every record in
// one store transaction that also advances the cart's offset and the tag
// cursor. A record at or below the stored offset is skipped, so redelivery
// after a crash or retry never counts a cart twice.
package projection
