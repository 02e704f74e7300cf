package bridge

import (
	"encoding/json"

	"forkpilot/internal/entity"
)

// Kind is the discriminant tag of a bridge envelope.
type Kind string

const (
	// KindInit is the handshake broadcast by the sandboxed side on
	// initialization.
	KindInit Kind = "originInit"
	// KindRequest carries an outbound provider request.
	KindRequest Kind = "providerRequest"
	// KindResponse carries the result or error for a request with the
	// same message id.
	KindResponse Kind = "providerResponse"
)

// Envelope is the wire unit of the bridge. Envelopes travel over a
// broadcast channel and are filtered by kind and sender identity.
type Envelope struct {
	Kind      Kind               `json:"kind"`
	MessageID uint64             `json:"messageId"`
	Request   *entity.RPCRequest `json:"request,omitempty"`
	Response  json.RawMessage    `json:"response,omitempty"`
	Error     *entity.RPCError   `json:"error,omitempty"`
}
