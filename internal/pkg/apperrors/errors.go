package apperrors

import "errors"

// Standard application errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when the input provided by the caller is invalid.
	ErrInvalidInput = errors.New("invalid input provided")

	// ErrExternalServiceFailure is returned when an interaction with an external service fails.
	ErrExternalServiceFailure = errors.New("external service interaction failed")

	// ErrRateLimited is returned when an upstream service rejects a request for rate limiting.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrSimulationUnavailable is surfaced to the operator when the fork
	// service is rate limiting and simulation cannot proceed.
	ErrSimulationUnavailable = errors.New("simulation service unavailable")

	// ErrUnexpectedSource is returned when a bridge envelope arrives from a
	// context other than the one that completed the handshake.
	ErrUnexpectedSource = errors.New("unexpected message source")

	// ErrNoFork is returned when an operation requires a provisioned fork
	// and none exists.
	ErrNoFork = errors.New("no fork provisioned")

	// ErrEmptyBatch is returned when batch encoding is requested with no
	// unsubmitted ledger entries.
	ErrEmptyBatch = errors.New("no transactions to batch")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInternal is returned for unexpected internal system errors.
	ErrInternal = errors.New("internal system error")
)
