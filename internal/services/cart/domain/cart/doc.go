// Package cart holds the shopping cart state machine.
//
// Decide validates a command against the current state and returns the events
// it produces without touching any store. Apply folds a journal record into
// state. The runtime appends events before applying them, so state is always a
// fold over acknowledged records.
package cart
