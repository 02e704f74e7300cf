package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forkpilot/internal/entity"
)

// wsRelay is a minimal broadcast relay: every frame a connection sends is
// rebroadcast to every connection, the sender included.
type wsRelay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSRelay(t *testing.T) string {
	t.Helper()
	relay := &wsRelay{}
	server := httptest.NewServer(http.HandlerFunc(relay.serve))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func (r *wsRelay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.mu.Lock()
		for _, c := range r.conns {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
		r.mu.Unlock()
	}
}

type pongProvider struct{}

func (pongProvider) Request(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	return json.Marshal("pong:" + req.Method)
}

func TestRelayTransportBridgesClientAndHost(t *testing.T) {
	url := newWSRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostTransport, err := DialRelay(ctx, url, "host", zap.NewNop())
	require.NoError(t, err)
	defer hostTransport.Close()
	clientTransport, err := DialRelay(ctx, url, "sandbox", zap.NewNop())
	require.NoError(t, err)
	defer clientTransport.Close()

	host := NewHost(hostTransport, pongProvider{}, zap.NewNop())
	go host.Run(ctx)

	client := NewClient(clientTransport, zap.NewNop())
	require.NoError(t, client.Handshake())

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	raw, err := client.Call(callCtx, entity.RPCRequest{Method: "eth_blockNumber"})
	require.NoError(t, err)

	var result string
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "pong:eth_blockNumber", result)
}

func TestRelayTransportFiltersOwnFrames(t *testing.T) {
	url := newWSRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := DialRelay(ctx, url, "a", zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := DialRelay(ctx, url, "b", zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Send([]byte(`"hello"`)))

	// The relay echoes to everyone; only the other endpoint observes the
	// frame.
	select {
	case msg := <-b.Receive():
		require.Equal(t, "a", msg.Sender)
		require.JSONEq(t, `"hello"`, string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the other endpoint")
	}
	select {
	case msg := <-a.Receive():
		t.Fatalf("endpoint received its own frame from %q", msg.Sender)
	case <-time.After(100 * time.Millisecond):
	}
}
