package fork

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"forkpilot/internal/bridge"
	"forkpilot/internal/entity"
)

// resetMethod wipes the simulator's backing store so every session starts
// from a clean fork.
const resetMethod = "hardhat_reset"

// Compile-time check
var _ Backend = (*Sandbox)(nil)

// Sandbox drives an embedded chain simulator that runs in an isolated
// context and is reachable only through the message bridge. A reverse
// bridge host serves live-chain reads back to the simulator for state it
// has not forked yet.
type Sandbox struct {
	sim     *bridge.Client
	reverse *bridge.Host
	chainID int64
	logger  *zap.Logger
}

// NewSandbox wires the forward bridge into the simulator and starts the
// reverse bridge serving the live provider, then resets the simulator's
// backing store.
func NewSandbox(
	ctx context.Context,
	sim *bridge.Client,
	reverse *bridge.Host,
	chainID int64,
	logger *zap.Logger,
) (*Sandbox, error) {
	s := &Sandbox{
		sim:     sim,
		reverse: reverse,
		chainID: chainID,
		logger:  logger.Named("SandboxFork"),
	}
	go func() {
		if err := reverse.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Reverse bridge terminated", zap.Error(err))
		}
	}()
	if err := s.reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset sandbox store: %w", err)
	}
	return s, nil
}

func (s *Sandbox) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	if req.Method == "eth_chainId" {
		return json.Marshal(hexutil.EncodeUint64(uint64(s.chainID)))
	}
	return s.sim.Call(ctx, req)
}

// Refork resets the simulator store, yielding a fresh fork at the current
// head.
func (s *Sandbox) Refork(ctx context.Context) error {
	return s.reset(ctx)
}

// DeleteFork resets the store best-effort; the sandbox holds no remote
// resource to release.
func (s *Sandbox) DeleteFork(ctx context.Context) error {
	if err := s.reset(ctx); err != nil {
		s.logger.Warn("Best-effort sandbox reset failed", zap.Error(err))
	}
	return nil
}

// TransactionInfo reads the receipt of a simulated transaction through the
// bridge.
func (s *Sandbox) TransactionInfo(ctx context.Context, hash string) (*entity.ForkTransaction, error) {
	param, err := json.Marshal(hash)
	if err != nil {
		return nil, err
	}
	result, err := s.sim.Call(ctx, entity.RPCRequest{
		Method: "eth_getTransactionReceipt",
		Params: []json.RawMessage{param},
	})
	if err != nil {
		return nil, err
	}

	var receipt struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		GasUsed         string `json:"gasUsed"`
		Status          string `json:"status"`
	}
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("simulator returned malformed receipt: %w", err)
	}

	tx := &entity.ForkTransaction{Hash: receipt.TransactionHash}
	if n, err := hexutil.DecodeUint64(receipt.BlockNumber); err == nil {
		tx.BlockNumber = n
	}
	if n, err := hexutil.DecodeUint64(receipt.GasUsed); err == nil {
		tx.GasUsed = n
	}
	tx.Status = receipt.Status == "0x1"
	return tx, nil
}

func (s *Sandbox) reset(ctx context.Context) error {
	s.logger.Info("Resetting sandbox fork store")
	_, err := s.sim.Call(ctx, entity.RPCRequest{Method: resetMethod})
	return err
}
