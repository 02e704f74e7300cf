package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"forkpilot/internal/batch"
	"forkpilot/internal/entity"
	"forkpilot/internal/ledger"
	"forkpilot/internal/pkg/apperrors"
	"forkpilot/internal/provider"
)

// Compile-time check
var _ PilotSession = (*pilotSession)(nil)

type pilotSession struct {
	conn     entity.Connection
	wrapping *provider.Wrapping
	forking  *provider.Forking
	backend  ForkBackend
	ledger   *ledger.Ledger
	logger   *zap.Logger

	mu         sync.Mutex
	simulating bool
}

func NewPilotSession(
	conn entity.Connection,
	wrapping *provider.Wrapping,
	forking *provider.Forking,
	backend ForkBackend,
	ldgr *ledger.Ledger,
	logger *zap.Logger,
) PilotSession {
	return &pilotSession{
		conn:     conn,
		wrapping: wrapping,
		forking:  forking,
		backend:  backend,
		ledger:   ldgr,
		logger:   logger.Named("PilotSession"),
	}
}

func (s *pilotSession) ActiveProvider() Provider {
	if s.Simulating() {
		return s.forking
	}
	return s.wrapping
}

func (s *pilotSession) Simulating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simulating
}

func (s *pilotSession) StartSimulation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.simulating {
		return nil
	}
	// The fork itself is provisioned lazily by the first mutating call.
	s.simulating = true
	s.logger.Info("Simulation started", zap.Int64("chainId", s.conn.ChainID))
	return nil
}

func (s *pilotSession) StopSimulation(ctx context.Context) error {
	s.mu.Lock()
	if !s.simulating {
		s.mu.Unlock()
		return nil
	}
	s.simulating = false
	s.mu.Unlock()

	if err := s.backend.DeleteFork(ctx); err != nil {
		s.logger.Warn("Fork teardown on simulation stop failed", zap.Error(err))
	}
	s.ledger.Clear()
	s.logger.Info("Simulation stopped")
	return nil
}

func (s *pilotSession) Refork(ctx context.Context) error {
	if !s.Simulating() {
		return fmt.Errorf("%w: not simulating", apperrors.ErrInvalidInput)
	}
	return s.forking.Replay(ctx)
}

func (s *pilotSession) SubmitBatch(ctx context.Context) (string, error) {
	entries := s.ledger.Unsubmitted()
	if len(entries) == 0 {
		return "", apperrors.ErrEmptyBatch
	}

	call, err := batch.Encode(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch: %w", err)
	}
	param, err := json.Marshal(call)
	if err != nil {
		return "", err
	}

	s.logger.Info("Submitting batch", zap.Int("entries", len(entries)), zap.String("to", call.To))
	result, err := s.wrapping.Request(ctx, entity.RPCRequest{
		Method: "eth_sendTransaction",
		Params: []json.RawMessage{param},
	})
	if err != nil {
		return "", fmt.Errorf("batch submission failed: %w", err)
	}

	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", fmt.Errorf("wallet returned malformed transaction hash: %w", err)
	}
	s.ledger.MarkSubmitted()
	s.logger.Info("Batch submitted", zap.String("hash", hash))
	return hash, nil
}

func (s *pilotSession) Ledger() []entity.LedgerEntry {
	return s.ledger.All()
}

func (s *pilotSession) Connection() entity.Connection {
	return s.conn
}
