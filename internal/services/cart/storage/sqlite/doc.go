// Package sqlite stores the cart journal, snapshots and the popularity read
// model in SQLite.
//
// Write transactions begin IMMEDIATE, so appends are serialized by the
// database write lock and the AUTOINCREMENT ordinal follows commit order.
// The journal runs with synchronous=FULL: a returned append survives a crash.
package sqlite
