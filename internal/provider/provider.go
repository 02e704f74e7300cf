package provider

import (
	"context"
	"encoding/json"

	"forkpilot/internal/entity"
)

// Provider is the standard Ethereum JSON-RPC provider contract. Every
// component in the interception chain implements and consumes this shape.
type Provider interface {
	Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error)
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error)

func (f Func) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	return f(ctx, req)
}
