package http

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
	"forkpilot/internal/usecase"
)

// PilotHandler exposes the active provider as a JSON-RPC endpoint plus the
// operator control routes.
type PilotHandler struct {
	session usecase.PilotSession
	logger  *zap.Logger
}

func NewPilotHandler(session usecase.PilotSession, logger *zap.Logger) *PilotHandler {
	return &PilotHandler{
		session: session,
		logger:  logger.Named("PilotHandler"),
	}
}

type jsonrpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *entity.RPCError `json:"error,omitempty"`
}

// Rpc forwards a JSON-RPC request from the driven application to the active
// provider (forking while simulating, wrapping otherwise).
func (h *PilotHandler) Rpc(ctx *fasthttp.RequestCtx) {
	var req jsonrpcRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.logger.Debug("Malformed JSON-RPC request", zap.Error(err))
		h.writeResponse(ctx, jsonrpcResponse{
			JSONRPC: "2.0",
			Error:   &entity.RPCError{Code: -32700, Message: "parse error"},
		})
		return
	}

	result, err := h.session.ActiveProvider().Request(ctx, entity.RPCRequest{
		Method: req.Method,
		Params: req.Params,
	})
	resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = toRPCError(err)
		h.logger.Debug("Provider request failed", zap.String("method", req.Method), zap.Error(err))
	} else {
		resp.Result = result
	}
	h.writeResponse(ctx, resp)
}

// StartSimulation switches the session onto the forking provider.
func (h *PilotHandler) StartSimulation(ctx *fasthttp.RequestCtx) {
	if err := h.session.StartSimulation(ctx); err != nil {
		h.logger.Error("Failed to start simulation", zap.Error(err))
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// StopSimulation tears down the fork and clears the ledger.
func (h *PilotHandler) StopSimulation(ctx *fasthttp.RequestCtx) {
	if err := h.session.StopSimulation(ctx); err != nil {
		h.logger.Error("Failed to stop simulation", zap.Error(err))
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// Refork provisions a fresh fork and replays the recorded sends.
func (h *PilotHandler) Refork(ctx *fasthttp.RequestCtx) {
	if err := h.session.Refork(ctx); err != nil {
		if errors.Is(err, apperrors.ErrSimulationUnavailable) {
			h.logger.Warn("Refork rejected, fork service rate limited", zap.Error(err))
			ctx.Error("Simulation Unavailable", fasthttp.StatusServiceUnavailable)
			return
		}
		h.logger.Error("Failed to refork", zap.Error(err))
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

// Submit collapses the ledger into one batch and sends it on-chain.
func (h *PilotHandler) Submit(ctx *fasthttp.RequestCtx) {
	hash, err := h.session.SubmitBatch(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmptyBatch) {
			ctx.Error("Bad Request: nothing to submit", fasthttp.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to submit batch", zap.Error(err))
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(map[string]string{"hash": hash}); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// GetLedger returns every recorded entry in submission order.
func (h *PilotHandler) GetLedger(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(h.session.Ledger()); err != nil {
		h.logger.Error("Failed to encode ledger response", zap.Error(err))
	}
}

func (h *PilotHandler) writeResponse(ctx *fasthttp.RequestCtx, resp jsonrpcResponse) {
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(resp); err != nil {
		h.logger.Error("Failed to encode JSON-RPC response", zap.Error(err))
	}
}

func toRPCError(err error) *entity.RPCError {
	var rpcErr *entity.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, apperrors.ErrSimulationUnavailable) {
		return &entity.RPCError{Code: -32005, Message: err.Error()}
	}
	return &entity.RPCError{Code: -32603, Message: err.Error()}
}
