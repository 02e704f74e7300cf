package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
)

func TestWrappingRewritesSenderOnMutatingCalls(t *testing.T) {
	avatar := common.HexToAddress("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	var forwarded entity.RPCRequest
	inner := Func(func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
		forwarded = req
		return json.Marshal("0xhash")
	})

	w := NewWrapping(inner, avatar, zap.NewNop())
	_, err := w.Request(context.Background(), entity.RPCRequest{
		Method: "eth_sendTransaction",
		Params: []json.RawMessage{json.RawMessage(`{"from":"0x01","to":"0x02","value":"0x1"}`)},
	})
	require.NoError(t, err)

	var call map[string]any
	require.NoError(t, json.Unmarshal(forwarded.Params[0], &call))
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", call["from"])
	require.Equal(t, "0x02", call["to"])
	require.Equal(t, "0x1", call["value"])
}

func TestWrappingPassesReadsThroughUnchanged(t *testing.T) {
	avatar := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	original := json.RawMessage(`{"from":"0x01","to":"0x02"}`)
	var forwarded entity.RPCRequest
	inner := Func(func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
		forwarded = req
		return json.Marshal("0x")
	})

	w := NewWrapping(inner, avatar, zap.NewNop())
	_, err := w.Request(context.Background(), entity.RPCRequest{
		Method: "eth_call",
		Params: []json.RawMessage{original},
	})
	require.NoError(t, err)
	require.JSONEq(t, string(original), string(forwarded.Params[0]))
}

func TestWrappingForwardsRawSendsUnchanged(t *testing.T) {
	avatar := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	rawTx := json.RawMessage(`"0xf86c0a8502540be400825208940102030405060708090a0b0c0d0e0f10111213148203e880"`)
	var forwarded entity.RPCRequest
	inner := Func(func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
		forwarded = req
		return json.Marshal("0xhash")
	})

	w := NewWrapping(inner, avatar, zap.NewNop())
	_, err := w.Request(context.Background(), entity.RPCRequest{
		Method: "eth_sendRawTransaction",
		Params: []json.RawMessage{rawTx},
	})
	require.NoError(t, err)
	require.Equal(t, "eth_sendRawTransaction", forwarded.Method)
	require.Equal(t, string(rawTx), string(forwarded.Params[0]))
}

func TestWrappingDoesNotMutateCallerParams(t *testing.T) {
	avatar := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	inner := Func(func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
		return json.Marshal("0xhash")
	})
	w := NewWrapping(inner, avatar, zap.NewNop())

	params := []json.RawMessage{json.RawMessage(`{"from":"0x01"}`)}
	req := entity.RPCRequest{Method: "eth_sendTransaction", Params: params}
	_, err := w.Request(context.Background(), req)
	require.NoError(t, err)
	require.JSONEq(t, `{"from":"0x01"}`, string(params[0]))
}
