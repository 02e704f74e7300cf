package fork

import (
	"context"

	"forkpilot/internal/entity"
	"forkpilot/internal/provider"
)

// Backend is a disposable forked-chain provider. Both implementations share
// the standard request contract and differ only in provisioning: the remote
// service drives a hosted fork through a control API, the sandbox drives an
// embedded simulator through the message bridge.
type Backend interface {
	provider.Provider

	// Refork tears down the current fork and provisions a fresh one at the
	// chain's current head.
	Refork(ctx context.Context) error

	// DeleteFork tears the fork down. Idempotent: a no-op when no fork
	// exists, and it awaits an in-flight creation before deleting.
	DeleteFork(ctx context.Context) error

	// TransactionInfo fetches execution metadata for a transaction
	// simulated on the fork.
	TransactionInfo(ctx context.Context, hash string) (*entity.ForkTransaction, error)
}
