package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/ledger"
)

// fakeBackend records every request and hands out deterministic hashes.
type fakeBackend struct {
	mu       sync.Mutex
	requests []entity.RPCRequest
	reforks  int
}

func (b *fakeBackend) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return json.Marshal(fmt.Sprintf("0xhash%d", len(b.requests)))
}

func (b *fakeBackend) Refork(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reforks++
	return nil
}

func (b *fakeBackend) sends() []entity.TransactionCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var calls []entity.TransactionCall
	for _, req := range b.requests {
		if req.Method != "eth_sendTransaction" {
			continue
		}
		call, err := entity.ParseTransactionCall(req.Params)
		if err != nil {
			continue
		}
		calls = append(calls, call)
	}
	return calls
}

// fakeDecoder gates the slow decode so tests control when it completes.
type fakeDecoder struct {
	gate chan struct{}
	fail bool
}

func (d *fakeDecoder) FastDecode(call entity.TransactionCall) *entity.DecodedCall {
	return &entity.DecodedCall{Method: "0xdeadbeef", Raw: true}
}

func (d *fakeDecoder) Decode(ctx context.Context, chainID int64, call entity.TransactionCall) (*entity.DecodedCall, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.fail {
		return nil, fmt.Errorf("no ABI available")
	}
	return &entity.DecodedCall{Method: "transfer", Signature: "transfer(address,uint256)"}, nil
}

func sendReq(to string) entity.RPCRequest {
	return entity.RPCRequest{
		Method: "eth_sendTransaction",
		Params: []json.RawMessage{json.RawMessage(`{"to":"` + to + `","value":"0x0","data":"0xdeadbeef"}`)},
	}
}

func newForking(backend *fakeBackend, decoder *fakeDecoder, hooks Hooks) (*Forking, *ledger.Ledger) {
	ldgr := ledger.New(zap.NewNop())
	return NewForking(backend, ldgr, decoder, 1, hooks, zap.NewNop()), ldgr
}

func TestForkingRecordsEntriesInCallOrder(t *testing.T) {
	backend := &fakeBackend{}
	f, ldgr := newForking(backend, &fakeDecoder{}, Hooks{})

	ctx := context.Background()
	for _, to := range []string{"0x01", "0x02", "0x03"} {
		_, err := f.Request(ctx, sendReq(to))
		require.NoError(t, err)
	}

	entries := ldgr.All()
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.Greater(t, entries[i].ID, entries[i-1].ID)
	}
	require.Equal(t, "0x01", entries[0].Call.To)
	require.Equal(t, "0x02", entries[1].Call.To)
	require.Equal(t, "0x03", entries[2].Call.To)
	for _, entry := range entries {
		require.Equal(t, entity.StatusConfirmed, entry.Status)
		require.NotEmpty(t, entry.Hash)
	}
}

func TestForkingDecodeCompletesAfterConfirmation(t *testing.T) {
	backend := &fakeBackend{}
	decoder := &fakeDecoder{gate: make(chan struct{})}
	f, ldgr := newForking(backend, decoder, Hooks{})

	_, err := f.Request(context.Background(), sendReq("0x01"))
	require.NoError(t, err)

	entry := ldgr.All()[0]
	require.Equal(t, entity.StatusConfirmed, entry.Status)
	require.True(t, entry.Decoded.Raw, "fast decode in place until slow decode lands")

	close(decoder.gate)
	require.Eventually(t, func() bool {
		entry := ldgr.All()[0]
		return entry.Decoded != nil && entry.Decoded.Method == "transfer"
	}, time.Second, 10*time.Millisecond)

	// Status must not regress once the late decode lands.
	require.Equal(t, entity.StatusConfirmed, ldgr.All()[0].Status)
}

func TestForkingDecodeFailureKeepsFallback(t *testing.T) {
	backend := &fakeBackend{}
	f, ldgr := newForking(backend, &fakeDecoder{fail: true}, Hooks{})

	_, err := f.Request(context.Background(), sendReq("0x01"))
	require.NoError(t, err)

	// Decode failure is never fatal; the raw fallback stays.
	time.Sleep(50 * time.Millisecond)
	entry := ldgr.All()[0]
	require.Equal(t, entity.StatusConfirmed, entry.Status)
	require.True(t, entry.Decoded.Raw)
}

func TestForkingHooksFire(t *testing.T) {
	backend := &fakeBackend{}
	var mu sync.Mutex
	var recorded, confirmed []uint64
	hooks := Hooks{
		OnRecord: func(entry entity.LedgerEntry) {
			mu.Lock()
			recorded = append(recorded, entry.ID)
			mu.Unlock()
		},
		OnConfirm: func(entry entity.LedgerEntry) {
			mu.Lock()
			confirmed = append(confirmed, entry.ID)
			mu.Unlock()
		},
	}
	f, _ := newForking(backend, &fakeDecoder{}, hooks)

	_, err := f.Request(context.Background(), sendReq("0x01"))
	require.NoError(t, err)
	_, err = f.Request(context.Background(), sendReq("0x02"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, recorded, confirmed)
	require.Len(t, recorded, 2)
}

func TestForkingForwardsReadsWithoutRecording(t *testing.T) {
	backend := &fakeBackend{}
	f, ldgr := newForking(backend, &fakeDecoder{}, Hooks{})

	_, err := f.Request(context.Background(), entity.RPCRequest{Method: "eth_call"})
	require.NoError(t, err)
	require.Zero(t, ldgr.Len())
}

func TestReplayReissuesSendsSequentiallyInOrder(t *testing.T) {
	backend := &fakeBackend{}
	f, ldgr := newForking(backend, &fakeDecoder{}, Hooks{})

	ctx := context.Background()
	targets := []string{"0x01", "0x02", "0x03"}
	for _, to := range targets {
		_, err := f.Request(ctx, sendReq(to))
		require.NoError(t, err)
	}

	require.NoError(t, f.Replay(ctx))

	backend.mu.Lock()
	reforks := backend.reforks
	backend.mu.Unlock()
	require.Equal(t, 1, reforks)

	sends := backend.sends()
	require.Len(t, sends, 6, "3 original + 3 replayed sends")
	for i, to := range targets {
		require.Equal(t, to, sends[3+i].To, "replay must preserve original order")
	}

	entries := ldgr.All()
	require.Len(t, entries, 3, "ledger rebuilt from replayed sends")
	for i, to := range targets {
		require.Equal(t, to, entries[i].Call.To)
		require.Equal(t, entity.StatusConfirmed, entries[i].Status)
	}
}
