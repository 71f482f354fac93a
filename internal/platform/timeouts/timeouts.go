// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a peer node.
const GRPCDial = 2 * time.Second

// GRPCRequest caps the time allowed for a forwarded cart command.
const GRPCRequest = 3 * time.Second

// JournalAppend caps how long an entity waits for a journal append to be
// acknowledged before reporting the outcome as ambiguous.
const JournalAppend = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
