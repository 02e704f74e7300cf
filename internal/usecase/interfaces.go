package usecase

import (
	"context"
	"encoding/json"

	"forkpilot/internal/entity"
)

// Provider is the standard provider contract as seen by the session.
type Provider interface {
	Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error)
}

// ForkBackend is the fork lifecycle surface the session drives.
type ForkBackend interface {
	Provider
	Refork(ctx context.Context) error
	DeleteFork(ctx context.Context) error
	TransactionInfo(ctx context.Context, hash string) (*entity.ForkTransaction, error)
}

// PilotSession is the operator-facing surface of the simulation and
// batching pipeline.
type PilotSession interface {
	// ActiveProvider returns the forking provider while simulating and the
	// wrapping provider otherwise.
	ActiveProvider() Provider

	Simulating() bool
	StartSimulation(ctx context.Context) error

	// StopSimulation tears down the fork and clears the ledger.
	StopSimulation(ctx context.Context) error

	// Refork drops the ledger, provisions a fresh fork, and replays every
	// recorded send in original order.
	Refork(ctx context.Context) error

	// SubmitBatch collapses the unsubmitted ledger suffix into a single
	// transaction and sends it through the wrapping provider. Returns the
	// on-chain transaction hash.
	SubmitBatch(ctx context.Context) (string, error)

	// Ledger returns every recorded entry in submission order.
	Ledger() []entity.LedgerEntry

	Connection() entity.Connection
}
