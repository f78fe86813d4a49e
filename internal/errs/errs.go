// Package errs defines the sentinel error kinds used throughout the router
// engine, transports, and configuration loader. Each kind is wrapped with
// %w so callers can both log a specific message and test the kind with
// errors.Is.
package errs

import "errors"

var (
	// ErrConfig marks a malformed configuration file, a missing self-id, or
	// an unknown algorithm. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrDecode marks a malformed inbound packet. The packet is dropped.
	ErrDecode = errors.New("decode error")

	// ErrNoRoute marks a destination with no known next hop.
	ErrNoRoute = errors.New("no route")

	// ErrTTLExpired marks a packet whose TTL reached zero after decrement.
	ErrTTLExpired = errors.New("ttl expired")

	// ErrCycleDetected marks a packet whose path header already contains
	// this router's id.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrTransport marks a send or connect failure at the transport layer.
	ErrTransport = errors.New("transport error")

	// ErrAlgorithm marks a panic or error escaping a routing algorithm's
	// ProcessPacket or timer maintenance, caught at the dispatch boundary.
	ErrAlgorithm = errors.New("algorithm error")
)
