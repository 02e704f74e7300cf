package entity

import (
	"encoding/json"
	"fmt"
)

// RPCRequest is the standard Ethereum provider request shape
// (EIP-1193 `request({method, params})`).
type RPCRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// RPCError mirrors the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TransactionCall is the object form of eth_sendTransaction params[0].
// Hex quantities are kept in their wire form.
type TransactionCall struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
	Gas   string `json:"gas,omitempty"`
}

// ParseTransactionCall decodes params[0] of a mutating request.
func ParseTransactionCall(params []json.RawMessage) (TransactionCall, error) {
	var call TransactionCall
	if len(params) == 0 {
		return call, fmt.Errorf("missing transaction object in params")
	}
	if err := json.Unmarshal(params[0], &call); err != nil {
		return call, fmt.Errorf("invalid transaction object: %w", err)
	}
	return call, nil
}

var mutatingMethods = map[string]struct{}{
	"eth_sendTransaction":    {},
	"eth_sendRawTransaction": {},
}

// Snapshot manipulation also requires a fork even though it mutates nothing
// on the original chain.
var forkTriggerMethods = map[string]struct{}{
	"eth_sendTransaction":    {},
	"eth_sendRawTransaction": {},
	"evm_snapshot":           {},
	"evm_revert":             {},
}

// IsMutating reports whether the method changes chain state.
func IsMutating(method string) bool {
	_, ok := mutatingMethods[method]
	return ok
}

// TriggersFork reports whether the method requires a provisioned fork.
func TriggersFork(method string) bool {
	_, ok := forkTriggerMethods[method]
	return ok
}
