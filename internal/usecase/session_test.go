package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forkpilot/internal/batch"
	"forkpilot/internal/entity"
	"forkpilot/internal/ledger"
	"forkpilot/internal/pkg/apperrors"
	"forkpilot/internal/provider"
)

// stubBackend answers fork-side requests with deterministic hashes and
// counts lifecycle calls.
type stubBackend struct {
	mu      sync.Mutex
	sends   int
	deletes int
}

func (b *stubBackend) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends++
	return json.Marshal(fmt.Sprintf("0xsim%d", b.sends))
}

func (b *stubBackend) Refork(ctx context.Context) error { return nil }

func (b *stubBackend) DeleteFork(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	return nil
}

func (b *stubBackend) TransactionInfo(ctx context.Context, hash string) (*entity.ForkTransaction, error) {
	return &entity.ForkTransaction{Hash: hash, Status: true}, nil
}

type passDecoder struct{}

func (passDecoder) FastDecode(call entity.TransactionCall) *entity.DecodedCall {
	return &entity.DecodedCall{Raw: true}
}

func (passDecoder) Decode(ctx context.Context, chainID int64, call entity.TransactionCall) (*entity.DecodedCall, error) {
	return &entity.DecodedCall{Raw: true}, nil
}

type sessionFixture struct {
	session PilotSession
	backend *stubBackend
	ledger  *ledger.Ledger

	mu   sync.Mutex
	live []entity.RPCRequest
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	fx := &sessionFixture{backend: &stubBackend{}}

	liveProvider := provider.Func(func(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
		fx.mu.Lock()
		fx.live = append(fx.live, req)
		fx.mu.Unlock()
		return json.Marshal("0xbatchhash")
	})

	conn := entity.Connection{
		Avatar:  common.HexToAddress("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"),
		ChainID: 1,
	}
	logger := zap.NewNop()
	wrapping := provider.NewWrapping(liveProvider, conn.Avatar, logger)
	fx.ledger = ledger.New(logger)
	forking := provider.NewForking(fx.backend, fx.ledger, passDecoder{}, conn.ChainID, provider.Hooks{}, logger)
	fx.session = NewPilotSession(conn, wrapping, forking, fx.backend, fx.ledger, logger)
	return fx
}

func (fx *sessionFixture) record(t *testing.T, to string) {
	t.Helper()
	req := entity.RPCRequest{
		Method: "eth_sendTransaction",
		Params: []json.RawMessage{json.RawMessage(`{"to":"` + to + `","value":"0x0"}`)},
	}
	_, err := fx.session.ActiveProvider().Request(context.Background(), req)
	require.NoError(t, err)
}

func (fx *sessionFixture) liveRequests() []entity.RPCRequest {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]entity.RPCRequest(nil), fx.live...)
}

func TestActiveProviderTracksSimulationState(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	require.False(t, fx.session.Simulating())
	_, isForking := fx.session.ActiveProvider().(*provider.Forking)
	require.False(t, isForking)

	require.NoError(t, fx.session.StartSimulation(ctx))
	require.True(t, fx.session.Simulating())
	_, isForking = fx.session.ActiveProvider().(*provider.Forking)
	require.True(t, isForking)

	require.NoError(t, fx.session.StopSimulation(ctx))
	require.False(t, fx.session.Simulating())
	_, isForking = fx.session.ActiveProvider().(*provider.Forking)
	require.False(t, isForking)
}

func TestSubmitBatchSendsAggregateThroughWallet(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.session.StartSimulation(ctx))
	fx.record(t, "0x1111111111111111111111111111111111111111")
	fx.record(t, "0x2222222222222222222222222222222222222222")

	hash, err := fx.session.SubmitBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, "0xbatchhash", hash)

	live := fx.liveRequests()
	require.Len(t, live, 1)
	require.Equal(t, "eth_sendTransaction", live[0].Method)

	var call map[string]any
	require.NoError(t, json.Unmarshal(live[0].Params[0], &call))
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", call["from"])
	require.Equal(t, batch.MultiSendCallOnlyAddress, call["to"])

	subs, err := batch.DecodeMultiSend(call["data"].(string))
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "0x1111111111111111111111111111111111111111", subs[0].To)
	require.Equal(t, "0x2222222222222222222222222222222222222222", subs[1].To)

	// The suffix is consumed; submitting again with nothing new fails.
	require.Empty(t, fx.ledger.Unsubmitted())
	_, err = fx.session.SubmitBatch(ctx)
	require.Error(t, err)
}

func TestSubmitBatchSingleEntryPassesThrough(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.session.StartSimulation(ctx))
	fx.record(t, "0x1111111111111111111111111111111111111111")

	_, err := fx.session.SubmitBatch(ctx)
	require.NoError(t, err)

	live := fx.liveRequests()
	require.Len(t, live, 1)
	var call map[string]any
	require.NoError(t, json.Unmarshal(live[0].Params[0], &call))
	require.Equal(t, "0x1111111111111111111111111111111111111111", call["to"])
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", call["from"])
	_, hasData := call["data"]
	require.False(t, hasData, "single entry is not wrapped in multiSend")
}

func TestSubmitBatchEmptyLedger(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.session.StartSimulation(ctx))

	_, err := fx.session.SubmitBatch(ctx)
	require.ErrorIs(t, err, apperrors.ErrEmptyBatch)
	require.Empty(t, fx.liveRequests())
}

func TestStopSimulationTearsDownForkAndLedger(t *testing.T) {
	fx := newSessionFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.session.StartSimulation(ctx))
	fx.record(t, "0x1111111111111111111111111111111111111111")
	require.Len(t, fx.session.Ledger(), 1)

	require.NoError(t, fx.session.StopSimulation(ctx))
	require.Empty(t, fx.session.Ledger())

	fx.backend.mu.Lock()
	deletes := fx.backend.deletes
	fx.backend.mu.Unlock()
	require.Equal(t, 1, deletes)

	// Stopping twice does not tear down twice.
	require.NoError(t, fx.session.StopSimulation(ctx))
	fx.backend.mu.Lock()
	deletes = fx.backend.deletes
	fx.backend.mu.Unlock()
	require.Equal(t, 1, deletes)
}

func TestReforkRequiresActiveSimulation(t *testing.T) {
	fx := newSessionFixture(t)
	require.Error(t, fx.session.Refork(context.Background()))
}
