package decode

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"forkpilot/internal/config"
	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
)

// ABIFetcher resolves a contract's ABI from an external metadata service.
type ABIFetcher interface {
	FetchABI(ctx context.Context, chainID int64, address string) (string, error)
}

// knownSignatures backs the fast decode path: common call shapes resolvable
// from the selector alone, without any external lookup.
var knownSignatures = []string{
	"transfer(address,uint256)",
	"transferFrom(address,address,uint256)",
	"approve(address,uint256)",
	"setApprovalForAll(address,bool)",
	"safeTransferFrom(address,address,uint256)",
	"deposit()",
	"withdraw(uint256)",
	"multiSend(bytes)",
}

var selectorIndex = buildSelectorIndex()

func buildSelectorIndex() map[string]string {
	index := make(map[string]string, len(knownSignatures))
	for _, sig := range knownSignatures {
		selector := hex.EncodeToString(crypto.Keccak256([]byte(sig))[:4])
		index[selector] = sig
	}
	return index
}

// Decoder turns raw call parameters into decoded call descriptions.
// Fetched ABIs are cached with a TTL, and concurrent decodes against one
// contract share a single in-flight fetch.
type Decoder struct {
	fetcher ABIFetcher
	abis    *cache.Cache
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*fetchFuture
}

type fetchFuture struct {
	done chan struct{}
	abi  *abi.ABI
	err  error
}

func NewDecoder(fetcher ABIFetcher, cfg config.ABIConfig, logger *zap.Logger) *Decoder {
	return &Decoder{
		fetcher:  fetcher,
		abis:     cache.New(cfg.CacheTTL, cfg.CacheCleanupInterval),
		logger:   logger.Named("CallDecoder"),
		inflight: make(map[string]*fetchFuture),
	}
}

// FastDecode produces a best-effort representation without I/O. Unknown
// selectors yield a raw fallback, never an error.
func (d *Decoder) FastDecode(call entity.TransactionCall) *entity.DecodedCall {
	data, err := hexutil.Decode(call.Data)
	if err != nil || len(data) < 4 {
		// Plain value transfer or opaque payload.
		return &entity.DecodedCall{Raw: true}
	}
	selector := hex.EncodeToString(data[:4])
	sig, ok := selectorIndex[selector]
	if !ok {
		return &entity.DecodedCall{Method: "0x" + selector, Raw: true}
	}
	return &entity.DecodedCall{
		Method:    sig[:strings.IndexByte(sig, '(')],
		Signature: sig,
	}
}

// Decode fully resolves a call using the target contract's fetched ABI.
func (d *Decoder) Decode(ctx context.Context, chainID int64, call entity.TransactionCall) (*entity.DecodedCall, error) {
	data, err := hexutil.Decode(call.Data)
	if err != nil || len(data) < 4 {
		return nil, fmt.Errorf("%w: call has no decodable data", apperrors.ErrInvalidInput)
	}

	contractABI, err := d.resolveABI(ctx, chainID, call.To)
	if err != nil {
		return nil, err
	}

	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("selector not present in fetched ABI: %w", err)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack call arguments: %w", err)
	}

	args := make([]string, len(values))
	for i, v := range values {
		args[i] = fmt.Sprintf("%v", v)
	}
	return &entity.DecodedCall{
		Method:    method.Name,
		Signature: method.Sig,
		Args:      args,
	}, nil
}

// resolveABI returns the parsed ABI for a contract, from cache when
// possible. The in-flight entry is installed before the first await begins
// so concurrent callers for the same key share one fetch.
func (d *Decoder) resolveABI(ctx context.Context, chainID int64, address string) (*abi.ABI, error) {
	key := fmt.Sprintf("%d:%s", chainID, strings.ToLower(address))

	if cached, found := d.abis.Get(key); found {
		if parsed, ok := cached.(*abi.ABI); ok {
			d.logger.Debug("ABI cache hit", zap.String("key", key))
			return parsed, nil
		}
	}

	d.mu.Lock()
	if fut, exists := d.inflight[key]; exists {
		d.mu.Unlock()
		select {
		case <-fut.done:
			return fut.abi, fut.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fut := &fetchFuture{done: make(chan struct{})}
	d.inflight[key] = fut
	d.mu.Unlock()

	fut.abi, fut.err = d.fetchAndParse(ctx, chainID, address)
	if fut.err == nil {
		d.abis.Set(key, fut.abi, cache.DefaultExpiration)
	}
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
	close(fut.done)

	return fut.abi, fut.err
}

func (d *Decoder) fetchAndParse(ctx context.Context, chainID int64, address string) (*abi.ABI, error) {
	raw, err := d.fetcher.FetchABI(ctx, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("abi fetch for %s failed: %w", address, err)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("fetched ABI for %s is invalid: %w", address, err)
	}
	return &parsed, nil
}
