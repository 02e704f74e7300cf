package fork

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"forkpilot/internal/config"
	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
	"forkpilot/internal/provider"
)

// rateLimitErrorCode is the JSON-RPC error code the fork service emits when
// its polling rate limit is exceeded.
const rateLimitErrorCode = -32005

// Compile-time check
var _ Backend = (*RemoteService)(nil)

// forkFuture is a single in-flight or completed fork creation. It is
// installed before the first await begins so concurrent callers share one
// creation instead of racing the control API.
type forkFuture struct {
	done chan struct{}
	fork *entity.Fork
	rpc  *provider.HTTP
	err  error
}

// RemoteService drives a hosted fork through an out-of-band control API and
// proxies RPC calls to it. The fork is created lazily on the first call that
// needs one; everything before that passes through to the live chain
// read-only.
type RemoteService struct {
	client  *fasthttp.Client
	cfg     config.ForkServiceConfig
	chainID int64
	live    provider.Provider
	logger  *zap.Logger

	mu     sync.Mutex
	future *forkFuture

	// sendMu keeps head attribution correct across quick successive sends.
	sendMu sync.Mutex

	infoMu sync.Mutex
	info   map[string]*infoFuture
}

type infoFuture struct {
	done chan struct{}
	tx   *entity.ForkTransaction
	err  error
}

func NewRemoteService(
	cfg config.ForkServiceConfig,
	chainID int64,
	live provider.Provider,
	logger *zap.Logger,
) *RemoteService {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteService{
		client:  &fasthttp.Client{ReadTimeout: timeout},
		cfg:     cfg,
		chainID: chainID,
		live:    live,
		logger:  logger.Named("RemoteForkService"),
		info:    make(map[string]*infoFuture),
	}
}

func (s *RemoteService) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	switch req.Method {
	case "eth_chainId":
		// Always answered locally: some wallet backends return the wrong
		// type for this method.
		return json.Marshal(hexutil.EncodeUint64(uint64(s.chainID)))

	case "eth_blockNumber":
		if fork := s.currentFork(); fork != nil {
			s.mu.Lock()
			block := fork.BlockNumber
			s.mu.Unlock()
			s.logger.Debug("Serving cached block number", zap.Uint64("block", block))
			return json.Marshal(hexutil.EncodeUint64(block))
		}
		return s.live.Request(ctx, req)
	}

	if s.currentFork() == nil && !entity.TriggersFork(req.Method) {
		return s.live.Request(ctx, req)
	}

	fut, err := s.ensureFork(ctx)
	if err != nil {
		return nil, err
	}

	if entity.IsMutating(req.Method) {
		return s.sendToFork(ctx, fut, req)
	}

	result, err := fut.rpc.Request(ctx, req)
	if err != nil {
		return nil, s.translateError(err)
	}
	return result, nil
}

// sendToFork serializes the send with the status fetch that follows it, so
// the backend head observed afterwards belongs to this send and not to a
// later one.
func (s *RemoteService) sendToFork(ctx context.Context, fut *forkFuture, req entity.RPCRequest) (json.RawMessage, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	result, err := fut.rpc.Request(ctx, req)
	if err != nil {
		return nil, s.translateError(err)
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err == nil {
		s.afterSend(ctx, fut.fork, hash)
	}
	return result, nil
}

// afterSend records the backend-internal id of the just-sent transaction and
// schedules the optimistic block advance. The advance never blocks the send.
func (s *RemoteService) afterSend(ctx context.Context, fork *entity.Fork, hash string) {
	status, err := s.fetchForkStatus(ctx, fork.ID)
	if err != nil {
		s.logger.Warn("Failed to fetch fork status after send", zap.Error(err))
	} else {
		s.mu.Lock()
		fork.TxIDs[hash] = status.GlobalHead
		s.mu.Unlock()
	}

	delay := s.cfg.BlockAdvanceDelay
	if delay <= 0 {
		delay = time.Second
	}
	advance := s.cfg.BlockAdvance
	if advance == 0 {
		advance = 2
	}
	// Downstream consumers wait for inclusion in a later block; advance the
	// virtual block number shortly after the send completes.
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.future == nil || s.future.fork != fork {
			return
		}
		fork.BlockNumber += advance
		s.logger.Debug("Advanced virtual block number", zap.Uint64("block", fork.BlockNumber))
	})
}

// TransactionInfo returns execution metadata for a transaction previously
// sent to the fork. Lookups are memoized per hash; concurrent callers share
// one in-flight fetch.
func (s *RemoteService) TransactionInfo(ctx context.Context, hash string) (*entity.ForkTransaction, error) {
	fork := s.currentFork()
	if fork == nil {
		return nil, apperrors.ErrNoFork
	}
	s.mu.Lock()
	txID, ok := fork.TxIDs[hash]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", apperrors.ErrNotFound, hash)
	}

	s.infoMu.Lock()
	if fut, exists := s.info[hash]; exists {
		s.infoMu.Unlock()
		select {
		case <-fut.done:
			return fut.tx, fut.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fut := &infoFuture{done: make(chan struct{})}
	s.info[hash] = fut
	s.infoMu.Unlock()

	fut.tx, fut.err = s.fetchTransaction(ctx, fork.ID, txID)
	if fut.err != nil {
		// Allow a retry; failed lookups are not memoized.
		s.infoMu.Lock()
		delete(s.info, hash)
		s.infoMu.Unlock()
	}
	close(fut.done)
	return fut.tx, fut.err
}

// Refork tears down the current fork and immediately provisions a new one
// at the chain's current head.
func (s *RemoteService) Refork(ctx context.Context) error {
	if err := s.DeleteFork(ctx); err != nil {
		return err
	}
	_, err := s.ensureFork(ctx)
	return err
}

// DeleteFork is idempotent, fire-and-forget best-effort teardown. An
// in-flight creation is awaited first so the created fork does not leak.
func (s *RemoteService) DeleteFork(ctx context.Context) error {
	s.mu.Lock()
	fut := s.future
	s.future = nil
	s.mu.Unlock()
	if fut == nil {
		return nil
	}

	select {
	case <-fut.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if fut.err != nil || fut.fork == nil {
		return nil
	}

	s.infoMu.Lock()
	s.info = make(map[string]*infoFuture)
	s.infoMu.Unlock()

	if _, err := s.controlRequest(ctx, fasthttp.MethodDelete, "/forks/"+fut.fork.ID, nil); err != nil {
		// Deletion failures are swallowed; the service garbage-collects.
		s.logger.Warn("Best-effort fork deletion failed", zap.String("forkId", fut.fork.ID), zap.Error(err))
	} else {
		s.logger.Info("Deleted fork", zap.String("forkId", fut.fork.ID))
	}
	return nil
}

func (s *RemoteService) currentFork() *entity.Fork {
	s.mu.Lock()
	defer s.mu.Unlock()
	fut := s.future
	if fut == nil {
		return nil
	}
	select {
	case <-fut.done:
		if fut.err != nil {
			return nil
		}
		return fut.fork
	default:
		return nil
	}
}

func (s *RemoteService) ensureFork(ctx context.Context) (*forkFuture, error) {
	s.mu.Lock()
	if fut := s.future; fut != nil {
		s.mu.Unlock()
		select {
		case <-fut.done:
			return fut, fut.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fut := &forkFuture{done: make(chan struct{})}
	s.future = fut
	s.mu.Unlock()

	fut.fork, fut.rpc, fut.err = s.createFork(ctx)
	close(fut.done)
	if fut.err != nil {
		s.mu.Lock()
		if s.future == fut {
			s.future = nil
		}
		s.mu.Unlock()
		return nil, fut.err
	}
	return fut, nil
}

type createForkRequest struct {
	NetworkID   string  `json:"network_id"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
}

type forkEnvelope struct {
	SimulationFork struct {
		ID          string `json:"id"`
		BlockNumber uint64 `json:"block_number"`
		GlobalHead  string `json:"global_head"`
	} `json:"simulation_fork"`
}

func (s *RemoteService) createFork(ctx context.Context) (*entity.Fork, *provider.HTTP, error) {
	body, err := json.Marshal(createForkRequest{NetworkID: strconv.FormatInt(s.chainID, 10)})
	if err != nil {
		return nil, nil, err
	}
	respBody, err := s.controlRequest(ctx, fasthttp.MethodPost, "/forks", body)
	if err != nil {
		return nil, nil, s.translateError(err)
	}

	var env forkEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: fork service returned invalid create response: %v",
			apperrors.ErrExternalServiceFailure, err)
	}
	if env.SimulationFork.ID == "" {
		return nil, nil, fmt.Errorf("%w: fork service returned empty fork id", apperrors.ErrExternalServiceFailure)
	}

	fork := &entity.Fork{
		ID:          env.SimulationFork.ID,
		ChainID:     s.chainID,
		BlockNumber: env.SimulationFork.BlockNumber,
		TxIDs:       make(map[string]string),
	}
	rpcURL := strings.ReplaceAll(s.cfg.RPCURLPattern, "{fork}", fork.ID)
	rpc := provider.NewHTTP(rpcURL, s.client.ReadTimeout, s.logger)
	if s.cfg.APIKey != "" {
		rpc = rpc.WithHeader("X-Access-Key", s.cfg.APIKey)
	}
	s.logger.Info("Provisioned fork",
		zap.String("forkId", fork.ID), zap.Uint64("blockNumber", fork.BlockNumber))
	return fork, rpc, nil
}

type forkStatus struct {
	GlobalHead  string
	BlockNumber uint64
}

func (s *RemoteService) fetchForkStatus(ctx context.Context, forkID string) (*forkStatus, error) {
	body, err := s.controlRequest(ctx, fasthttp.MethodGet, "/forks/"+forkID, nil)
	if err != nil {
		return nil, err
	}
	var env forkEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: fork service returned invalid status response: %v",
			apperrors.ErrExternalServiceFailure, err)
	}
	return &forkStatus{
		GlobalHead:  env.SimulationFork.GlobalHead,
		BlockNumber: env.SimulationFork.BlockNumber,
	}, nil
}

type transactionEnvelope struct {
	ForkTransaction entity.ForkTransaction `json:"fork_transaction"`
}

func (s *RemoteService) fetchTransaction(ctx context.Context, forkID, txID string) (*entity.ForkTransaction, error) {
	body, err := s.controlRequest(ctx, fasthttp.MethodGet, "/forks/"+forkID+"/transaction/"+txID, nil)
	if err != nil {
		return nil, s.translateError(err)
	}
	var env transactionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: fork service returned invalid transaction response: %v",
			apperrors.ErrExternalServiceFailure, err)
	}
	return &env.ForkTransaction, nil
}

func (s *RemoteService) controlRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.cfg.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-Access-Key", s.cfg.APIKey)
	}
	if body != nil {
		req.SetBody(body)
	}

	timeout := s.client.ReadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("%w: control request %s %s timed out: %v",
				apperrors.ErrTimeout, method, path, err)
		}
		return nil, fmt.Errorf("%w: control request %s %s failed: %v",
			apperrors.ErrExternalServiceFailure, method, path, err)
	}

	switch {
	case resp.StatusCode() == fasthttp.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: control API returned status 429", apperrors.ErrRateLimited)
	case resp.StatusCode() >= 400:
		return nil, fmt.Errorf("%w: control request %s %s returned status %d",
			apperrors.ErrExternalServiceFailure, method, path, resp.StatusCode())
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

// translateError maps upstream rate limiting onto the distinct, user-facing
// simulation-unavailable condition. Everything else propagates unchanged.
func (s *RemoteService) translateError(err error) error {
	if errors.Is(err, apperrors.ErrRateLimited) {
		return fmt.Errorf("%w: %v", apperrors.ErrSimulationUnavailable, err)
	}
	var rpcErr *entity.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rateLimitErrorCode {
		return fmt.Errorf("%w: %v", apperrors.ErrSimulationUnavailable, err)
	}
	return err
}
