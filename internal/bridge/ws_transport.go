package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"forkpilot/internal/pkg/apperrors"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is how a relay carries broadcast messages between contexts that
// do not share a process.
type wsFrame struct {
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

// Compile-time check
var _ Transport = (*wsTransport)(nil)

// wsTransport is a Transport over a websocket relay. The relay re-broadcasts
// every frame to all connected endpoints; frames from this endpoint's own
// identity are filtered out on receive.
type wsTransport struct {
	conn     *websocket.Conn
	identity string
	recv     chan Message
	logger   *zap.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// DialRelay connects to a broadcast relay and joins it under the given
// identity.
func DialRelay(ctx context.Context, relayURL, identity string, logger *zap.Logger) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: relay dial to %s failed: %v", apperrors.ErrExternalServiceFailure, relayURL, err)
	}

	t := &wsTransport{
		conn:     conn,
		identity: identity,
		recv:     make(chan Message, endpointBuffer),
		logger:   logger.Named("WSTransport"),
	}
	go t.readPump()
	return t, nil
}

func (t *wsTransport) Identity() string { return t.identity }

func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := t.conn.WriteJSON(wsFrame{Sender: t.identity, Data: data}); err != nil {
		return fmt.Errorf("%w: relay write failed: %v", apperrors.ErrExternalServiceFailure, err)
	}
	return nil
}

func (t *wsTransport) Receive() <-chan Message { return t.recv }

func (t *wsTransport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readPump() {
	defer close(t.recv)
	for {
		var frame wsFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			t.logger.Debug("Relay read loop terminated", zap.Error(err))
			return
		}
		if frame.Sender == t.identity {
			continue
		}
		select {
		case t.recv <- Message{Sender: frame.Sender, Data: frame.Data}:
		default:
			t.logger.Warn("Dropping relay frame, receive queue full", zap.String("sender", frame.Sender))
		}
	}
}
