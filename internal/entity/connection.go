package entity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderKind selects which live-provider backend a connection drives.
type ProviderKind string

const (
	// ProviderInjected is a directly connected browser wallet.
	ProviderInjected ProviderKind = "injected"
	// ProviderWalletConnect is a remote-pairing wallet.
	ProviderWalletConnect ProviderKind = "walletconnect"
)

// Connection identifies the controlled account and how batched transactions
// ultimately reach the chain. Immutable once created; edits replace the
// whole value.
type Connection struct {
	// Avatar is the smart-contract account batched transactions execute on
	// behalf of.
	Avatar common.Address
	// Pilot is the operator account authorizing submission.
	Pilot common.Address
	// Module is the authorizing module granting the pilot access to the
	// avatar.
	Module   common.Address
	ChainID  int64
	Provider ProviderKind
}

// ConnectionMigration normalizes one persisted-connection shape change.
// Migrations must be idempotent: applying the chain twice yields the same
// map as applying it once.
type ConnectionMigration func(raw map[string]any) map[string]any

// connectionMigrations run in registration order.
var connectionMigrations = []ConnectionMigration{
	migrateDefaultChainID,
	migrateModuleKey,
	migrateAddressCase,
	migrateDefaultProvider,
}

// MigrateConnection brings a persisted connection map forward to the
// current shape.
func MigrateConnection(raw map[string]any) map[string]any {
	for _, migrate := range connectionMigrations {
		raw = migrate(raw)
	}
	return raw
}

// migrateDefaultChainID fills the chain id for connections persisted before
// multi-chain support; those were always mainnet.
func migrateDefaultChainID(raw map[string]any) map[string]any {
	if _, ok := raw["chainId"]; !ok {
		raw["chainId"] = int64(1)
	}
	return raw
}

// migrateModuleKey renames the legacy moduleAddress key.
func migrateModuleKey(raw map[string]any) map[string]any {
	if v, ok := raw["moduleAddress"]; ok {
		if _, exists := raw["module"]; !exists {
			raw["module"] = v
		}
		delete(raw, "moduleAddress")
	}
	return raw
}

// migrateAddressCase lowercases persisted addresses so comparisons do not
// depend on checksum casing.
func migrateAddressCase(raw map[string]any) map[string]any {
	for _, key := range []string{"avatar", "pilot", "module"} {
		if s, ok := raw[key].(string); ok {
			raw[key] = strings.ToLower(s)
		}
	}
	return raw
}

func migrateDefaultProvider(raw map[string]any) map[string]any {
	if _, ok := raw["provider"]; !ok {
		raw["provider"] = string(ProviderInjected)
	}
	return raw
}

// DecodeConnection migrates a persisted map forward and builds a Connection
// from it.
func DecodeConnection(raw map[string]any) (Connection, error) {
	raw = MigrateConnection(raw)

	conn := Connection{}
	for key, dst := range map[string]*common.Address{
		"avatar": &conn.Avatar,
		"pilot":  &conn.Pilot,
		"module": &conn.Module,
	} {
		s, ok := raw[key].(string)
		if !ok || !common.IsHexAddress(s) {
			return Connection{}, fmt.Errorf("connection field %q is not a valid address", key)
		}
		*dst = common.HexToAddress(s)
	}

	switch v := raw["chainId"].(type) {
	case int64:
		conn.ChainID = v
	case int:
		conn.ChainID = int64(v)
	case float64:
		conn.ChainID = int64(v)
	default:
		return Connection{}, fmt.Errorf("connection field %q has unsupported type %T", "chainId", raw["chainId"])
	}

	if s, ok := raw["provider"].(string); ok {
		conn.Provider = ProviderKind(s)
	}
	return conn, nil
}
