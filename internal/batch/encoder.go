package batch

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
)

// MultiSendCallOnlyAddress is the well-known aggregator contract a batch of
// more than one call is addressed to.
const MultiSendCallOnlyAddress = "0x40A2aCCbd92BCA938b02010E17A5b8929b49130D"

const multiSendABIJSON = `[{"inputs":[{"internalType":"bytes","name":"transactions","type":"bytes"}],"name":"multiSend","outputs":[],"stateMutability":"payable","type":"function"}]`

var multiSendABI = mustParseABI(multiSendABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Encode collapses ordered, decoded ledger entries into a single call
// suitable for submission through the wrapping provider. One entry passes
// through unchanged apart from value normalization; more than one is
// aggregated into a multiSend whose sub-call order equals entry order,
// since call order is execution order.
//
// Encode is a pure function of the ledger snapshot; it holds no state.
func Encode(entries []entity.LedgerEntry) (entity.TransactionCall, error) {
	switch len(entries) {
	case 0:
		return entity.TransactionCall{}, apperrors.ErrEmptyBatch
	case 1:
		call := entries[0].Call
		call.From = ""
		call.Value = NormalizeQuantity(call.Value)
		return call, nil
	}

	var packed bytes.Buffer
	for _, entry := range entries {
		sub, err := packTransaction(entry.Call)
		if err != nil {
			return entity.TransactionCall{}, fmt.Errorf("failed to pack entry %d: %w", entry.ID, err)
		}
		packed.Write(sub)
	}

	data, err := multiSendABI.Pack("multiSend", packed.Bytes())
	if err != nil {
		return entity.TransactionCall{}, fmt.Errorf("failed to encode multiSend call: %w", err)
	}

	return entity.TransactionCall{
		To:    MultiSendCallOnlyAddress,
		Value: "0x0",
		Data:  hexutil.Encode(data),
	}, nil
}

// packTransaction encodes one sub-call in the multiSend wire layout:
// operation (1 byte, always call), to (20 bytes), value (32 bytes),
// data length (32 bytes), data.
func packTransaction(call entity.TransactionCall) ([]byte, error) {
	if !common.IsHexAddress(call.To) {
		return nil, fmt.Errorf("%w: invalid to address %q", apperrors.ErrInvalidInput, call.To)
	}
	value, err := parseQuantity(call.Value)
	if err != nil {
		return nil, err
	}
	data, err := decodeData(call.Data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(0)
	buf.Write(common.HexToAddress(call.To).Bytes())
	buf.Write(common.LeftPadBytes(value.Bytes(), 32))
	buf.Write(common.LeftPadBytes(big.NewInt(int64(len(data))).Bytes(), 32))
	buf.Write(data)
	return buf.Bytes(), nil
}

// DecodeMultiSend unpacks an aggregate call back into its ordered
// sub-calls.
func DecodeMultiSend(data string) ([]entity.TransactionCall, error) {
	raw, err := decodeData(data)
	if err != nil {
		return nil, err
	}
	method := multiSendABI.Methods["multiSend"]
	if len(raw) < 4 || !bytes.Equal(raw[:4], method.ID) {
		return nil, fmt.Errorf("%w: not a multiSend call", apperrors.ErrInvalidInput)
	}
	args, err := method.Inputs.Unpack(raw[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multiSend calldata: %w", err)
	}
	packed, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected multiSend argument type", apperrors.ErrInvalidInput)
	}

	var calls []entity.TransactionCall
	for len(packed) > 0 {
		if len(packed) < 85 {
			return nil, fmt.Errorf("%w: truncated multiSend transaction", apperrors.ErrInvalidInput)
		}
		to := common.BytesToAddress(packed[1:21])
		value := new(big.Int).SetBytes(packed[21:53])
		length := new(big.Int).SetBytes(packed[53:85]).Uint64()
		if uint64(len(packed)) < 85+length {
			return nil, fmt.Errorf("%w: truncated multiSend transaction data", apperrors.ErrInvalidInput)
		}
		sub := entity.TransactionCall{
			To:    strings.ToLower(to.Hex()),
			Value: "0x" + value.Text(16),
		}
		if length > 0 {
			sub.Data = hexutil.Encode(packed[85 : 85+length])
		}
		calls = append(calls, sub)
		packed = packed[85+length:]
	}
	return calls, nil
}

// NormalizeQuantity brings a hex quantity to the canonical form with no
// leading zero digits, as the execution service requires: "0x00" and
// "0x0000" become "0x0", "0x00a0" becomes "0xa0". Unparseable input is
// returned unchanged.
func NormalizeQuantity(quantity string) string {
	value, err := parseQuantity(quantity)
	if err != nil {
		return quantity
	}
	return "0x" + value.Text(16)
}

func parseQuantity(quantity string) (*big.Int, error) {
	if quantity == "" {
		return new(big.Int), nil
	}
	digits := strings.TrimPrefix(strings.ToLower(quantity), "0x")
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid hex quantity %q", apperrors.ErrInvalidInput, quantity)
	}
	return value, nil
}

func decodeData(data string) ([]byte, error) {
	if data == "" || data == "0x" {
		return nil, nil
	}
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid calldata %q: %v", apperrors.ErrInvalidInput, data, err)
	}
	return raw, nil
}
