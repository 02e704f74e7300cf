package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
)

// Compile-time check
var _ Provider = (*Wrapping)(nil)

// Wrapping is a stateless pass-through adapter that rewrites the sender of
// outgoing transaction sends to the connection's avatar before forwarding to
// the designated live provider. It performs no buffering.
type Wrapping struct {
	inner  Provider
	avatar common.Address
	logger *zap.Logger
}

func NewWrapping(inner Provider, avatar common.Address, logger *zap.Logger) *Wrapping {
	return &Wrapping{
		inner:  inner,
		avatar: avatar,
		logger: logger.Named("WrappingProvider"),
	}
}

func (w *Wrapping) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	// Only eth_sendTransaction carries an object with a rewritable from
	// field; a raw send's payload is an already-signed hex string.
	if req.Method == "eth_sendTransaction" && len(req.Params) > 0 {
		rewritten, err := w.rewriteSender(req.Params[0])
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite transaction sender: %w", err)
		}
		params := make([]json.RawMessage, len(req.Params))
		copy(params, req.Params)
		params[0] = rewritten
		req.Params = params
		w.logger.Debug("Rewrote transaction sender",
			zap.String("method", req.Method), zap.String("from", w.avatar.Hex()))
	}
	return w.inner.Request(ctx, req)
}

func (w *Wrapping) rewriteSender(param json.RawMessage) (json.RawMessage, error) {
	var call map[string]any
	if err := json.Unmarshal(param, &call); err != nil {
		return nil, err
	}
	call["from"] = strings.ToLower(w.avatar.Hex())
	return json.Marshal(call)
}
