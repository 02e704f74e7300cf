package entity

// Fork represents one ephemeral forked chain provisioned by a backend.
// At most one live Fork exists per Connection.
type Fork struct {
	// ID is the backend-assigned fork identifier.
	ID string
	// ChainID is the origin chain the fork was taken from.
	ChainID int64
	// BlockNumber is the locally cached virtual block number. It is
	// monotonically non-decreasing and advanced optimistically after
	// mutating calls to avoid re-polling the backend.
	BlockNumber uint64
	// TxIDs maps on-chain transaction hashes to backend-internal
	// transaction identifiers; the backend indexes transactions by its
	// own id, not the hash.
	TxIDs map[string]string
}

// ForkTransaction is the execution metadata of a transaction simulated on a
// fork, as reported by the backend.
type ForkTransaction struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      bool   `json:"status"`
}
