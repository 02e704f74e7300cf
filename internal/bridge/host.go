package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
)

// Provider is the request capability the host dispatches bridge requests
// to.
type Provider interface {
	Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error)
}

// Host is the host-side bridge. It records the sender identity of the init
// handshake and from then on only accepts requests from that context; this
// is the bridge's sole access-control mechanism.
type Host struct {
	transport Transport
	target    Provider
	logger    *zap.Logger

	mu   sync.Mutex
	peer string
}

func NewHost(transport Transport, target Provider, logger *zap.Logger) *Host {
	return &Host{
		transport: transport,
		target:    target,
		logger:    logger.Named("BridgeHost"),
	}
}

// Run processes bridge traffic until the context is cancelled or the
// transport closes. Requests dispatch concurrently; each response carries
// the request's message id.
func (h *Host) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-h.transport.Receive():
			if !ok {
				return nil
			}
			if err := h.handle(ctx, msg); err != nil {
				// Fatal to the offending call only, never to the host.
				h.logger.Error("Rejected bridge message", zap.String("sender", msg.Sender), zap.Error(err))
			}
		}
	}
}

func (h *Host) handle(ctx context.Context, msg Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return fmt.Errorf("%w: malformed envelope: %v", apperrors.ErrInvalidInput, err)
	}

	switch env.Kind {
	case KindInit:
		h.mu.Lock()
		h.peer = msg.Sender
		h.mu.Unlock()
		h.logger.Info("Bridge handshake completed", zap.String("peer", msg.Sender))
		return nil

	case KindRequest:
		h.mu.Lock()
		peer := h.peer
		h.mu.Unlock()
		if peer == "" || msg.Sender != peer {
			return fmt.Errorf("%w: got %q, handshake recorded %q", apperrors.ErrUnexpectedSource, msg.Sender, peer)
		}
		if env.Request == nil {
			return fmt.Errorf("%w: request envelope without request", apperrors.ErrInvalidInput)
		}
		go h.dispatch(ctx, env)
		return nil

	case KindResponse:
		// Our own responses echo back on the broadcast channel.
		return nil

	default:
		return fmt.Errorf("%w: unknown envelope kind %q", apperrors.ErrInvalidInput, env.Kind)
	}
}

func (h *Host) dispatch(ctx context.Context, env Envelope) {
	reply := Envelope{Kind: KindResponse, MessageID: env.MessageID}

	result, err := h.target.Request(ctx, *env.Request)
	if err != nil {
		var rpcErr *entity.RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &entity.RPCError{Code: -32603, Message: err.Error()}
		}
		reply.Error = rpcErr
	} else {
		reply.Response = result
	}

	data, err := json.Marshal(reply)
	if err != nil {
		h.logger.Error("Failed to marshal bridge response", zap.Uint64("messageId", env.MessageID), zap.Error(err))
		return
	}
	if err := h.transport.Send(data); err != nil {
		h.logger.Error("Failed to send bridge response", zap.Uint64("messageId", env.MessageID), zap.Error(err))
	}
}
