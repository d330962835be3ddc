package domain

import "errors"

// Error taxonomy. Only ErrConfig and ErrFatalStart prevent a session from
// reaching RUNNING; everything else is absorbed by the monitoring loop.
var (
	// ErrConfig marks a bad session configuration, rejected before any
	// order is placed.
	ErrConfig = errors.New("invalid configuration")

	// ErrExchangeRejected marks an order placement or cancel declined by
	// the exchange. It aborts the current batch, not the session.
	ErrExchangeRejected = errors.New("exchange rejected request")

	// ErrTransientFetch marks a failed price or open-orders fetch. The
	// session keeps running on stale data and retries next tick.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrPersistence marks a failed store write. In-memory state stays
	// authoritative until the next successful write.
	ErrPersistence = errors.New("persistence failure")

	// ErrFatalStart marks an unrecoverable start failure (symbol missing,
	// no credentials). The session moves to FAILED and never starts timers.
	ErrFatalStart = errors.New("fatal start failure")

	// ErrNoPrice is returned by the oracle when no price was ever observed.
	ErrNoPrice = errors.New("no reference price available")

	// ErrSessionNotFound is returned when no running engine matches an id.
	ErrSessionNotFound = errors.New("session not found")
)
