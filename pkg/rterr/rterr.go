// Package rterr defines the error taxonomy from spec.md §7. Components wrap
// the sentinel kinds with fmt.Errorf("...: %w", ...) so callers can branch
// with errors.Is without parsing strings.
package rterr

import "errors"

var (
	// ConfigInvalid marks a missing or placeholder token/endpoint. The
	// owning worker self-disables; the supervisor continues.
	ConfigInvalid = errors.New("config invalid")

	// TransportFailure marks an HTTP/WS failure. Retried with backoff
	// where the component says so, otherwise logged and the turn dropped.
	TransportFailure = errors.New("transport failure")

	// ParseFailure marks a JSON/SSE parse error. Logged with the
	// offending payload, then dropped.
	ParseFailure = errors.New("parse failure")

	// StoreFailure marks a graph/vector/journal failure. Never blocks a
	// response; journal failures never block RAM state.
	StoreFailure = errors.New("store failure")

	// InvalidTransition marks a state-machine transition outside the
	// table in spec.md §4.3. Logged, ignored.
	InvalidTransition = errors.New("invalid state transition")

	// Lagged marks a broadcast consumer that missed events because its
	// channel was full. Warn with the miss count, continue.
	Lagged = errors.New("bus subscriber lagged")
)
