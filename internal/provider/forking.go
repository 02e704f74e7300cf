package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/ledger"
)

// ForkBackend is the slice of the fork backend contract the forking
// provider needs: the standard request capability plus re-provisioning.
type ForkBackend interface {
	Provider
	Refork(ctx context.Context) error
}

// CallDecoder turns raw call parameters into a human-meaningful
// representation. FastDecode must not perform I/O; Decode may fetch ABIs.
type CallDecoder interface {
	FastDecode(call entity.TransactionCall) *entity.DecodedCall
	Decode(ctx context.Context, chainID int64, call entity.TransactionCall) (*entity.DecodedCall, error)
}

// Hooks are the lifecycle callback slots the forking provider is configured
// with at construction. Either slot may be nil.
type Hooks struct {
	// OnRecord fires once a send has been captured in the ledger, before
	// any network round trip.
	OnRecord func(entry entity.LedgerEntry)
	// OnConfirm fires once the fork backend has returned the transaction
	// hash for a send.
	OnConfirm func(entry entity.LedgerEntry)
}

// Compile-time check
var _ Provider = (*Forking)(nil)

// Forking intercepts state-mutating requests, records them in the ledger,
// and forwards them to the active fork backend. Decode and confirmation for
// one entry proceed concurrently and may complete in either order.
type Forking struct {
	backend ForkBackend
	ledger  *ledger.Ledger
	decoder CallDecoder
	chainID int64
	hooks   Hooks
	logger  *zap.Logger
}

func NewForking(
	backend ForkBackend,
	ldgr *ledger.Ledger,
	decoder CallDecoder,
	chainID int64,
	hooks Hooks,
	logger *zap.Logger,
) *Forking {
	return &Forking{
		backend: backend,
		ledger:  ldgr,
		decoder: decoder,
		chainID: chainID,
		hooks:   hooks,
		logger:  logger.Named("ForkingProvider"),
	}
}

func (f *Forking) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	if req.Method != "eth_sendTransaction" {
		return f.backend.Request(ctx, req)
	}

	call, err := entity.ParseTransactionCall(req.Params)
	if err != nil {
		return nil, err
	}

	// Record immediately with a fast decode so consumers get an id with
	// zero latency.
	entry := f.ledger.Append(call, f.decoder.FastDecode(call))
	f.logger.Debug("Recorded transaction intent",
		zap.Uint64("entryId", entry.ID), zap.String("to", call.To))
	if f.hooks.OnRecord != nil {
		f.hooks.OnRecord(entry)
	}

	// Slow decode with external ABI resolution runs concurrently with the
	// send. The lookup outlives this request's context on purpose.
	go f.decodeEntry(context.WithoutCancel(ctx), entry.ID, call)

	result, err := f.backend.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return nil, fmt.Errorf("fork backend returned malformed transaction hash: %w", err)
	}
	confirmed, err := f.ledger.Confirm(entry.ID, hash)
	if err != nil {
		// The entry can legitimately be gone if the operator cleared the
		// ledger mid-flight.
		f.logger.Warn("Failed to confirm ledger entry", zap.Uint64("entryId", entry.ID), zap.Error(err))
		return result, nil
	}
	if f.hooks.OnConfirm != nil {
		f.hooks.OnConfirm(confirmed)
	}
	return result, nil
}

func (f *Forking) decodeEntry(ctx context.Context, id uint64, call entity.TransactionCall) {
	decoded, err := f.decoder.Decode(ctx, f.chainID, call)
	if err != nil {
		// Never fatal; the entry keeps its fast-decode fallback.
		f.logger.Debug("Call decode failed, keeping fallback representation",
			zap.Uint64("entryId", id), zap.Error(err))
		return
	}
	if _, err := f.ledger.SetDecoded(id, decoded); err != nil {
		f.logger.Debug("Ledger entry gone before decode completed", zap.Uint64("entryId", id))
	}
}

// Replay drops all ledger entries, provisions a fresh fork, and reissues
// every previously recorded send in original order. Sends are sequential;
// concurrent replay would break nonce ordering.
func (f *Forking) Replay(ctx context.Context) error {
	entries := f.ledger.All()
	f.ledger.Clear()

	if err := f.backend.Refork(ctx); err != nil {
		return fmt.Errorf("failed to refork before replay: %w", err)
	}

	f.logger.Info("Replaying recorded transactions on fresh fork", zap.Int("count", len(entries)))
	for _, entry := range entries {
		param, err := json.Marshal(entry.Call)
		if err != nil {
			return fmt.Errorf("failed to marshal replayed call: %w", err)
		}
		req := entity.RPCRequest{
			Method: "eth_sendTransaction",
			Params: []json.RawMessage{param},
		}
		if _, err := f.Request(ctx, req); err != nil {
			return fmt.Errorf("replay of entry %d failed: %w", entry.ID, err)
		}
	}
	return nil
}
