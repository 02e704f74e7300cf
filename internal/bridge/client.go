package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"forkpilot/internal/entity"
)

// Client is the sandbox-side bridge: it lets code in this context invoke a
// provider that only exists on the other side of the transport. Requests
// are correlated to responses by a per-instance monotonic message id.
//
// The client performs no retries and has no built-in expiry; callers bound
// waits with context deadlines. The pending table grows only with in-flight
// calls and each correlation is torn down exactly once.
type Client struct {
	transport Transport
	logger    *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan Envelope
}

func NewClient(transport Transport, logger *zap.Logger) *Client {
	c := &Client{
		transport: transport,
		logger:    logger.Named("BridgeClient"),
		pending:   make(map[uint64]chan Envelope),
	}
	go c.readLoop()
	return c
}

// Handshake broadcasts the init envelope so the host records this context
// as its peer. Must be called before the host will accept requests.
func (c *Client) Handshake() error {
	data, err := json.Marshal(Envelope{Kind: KindInit})
	if err != nil {
		return err
	}
	c.logger.Debug("Broadcasting bridge handshake")
	return c.transport.Send(data)
}

// Call sends a provider request across the bridge and waits for the
// correlated response.
func (c *Client) Call(ctx context.Context, req entity.RPCRequest) (json.RawMessage, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	ch := make(chan Envelope, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(Envelope{
		Kind:      KindRequest,
		MessageID: id,
		Request:   &req,
	})
	if err != nil {
		c.drop(id)
		return nil, err
	}
	if err := c.transport.Send(data); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("failed to send bridge request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	case env, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("bridge closed while awaiting response %d", id)
		}
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Response, nil
	}
}

func (c *Client) drop(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for msg := range c.transport.Receive() {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			c.logger.Debug("Ignoring malformed bridge message", zap.Error(err))
			continue
		}
		if env.Kind != KindResponse {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[env.MessageID]
		if ok {
			delete(c.pending, env.MessageID)
		}
		c.mu.Unlock()
		if !ok {
			// Response for an abandoned or foreign correlation.
			c.logger.Debug("Dropping uncorrelated bridge response", zap.Uint64("messageId", env.MessageID))
			continue
		}
		ch <- env
	}
	// Transport closed: unblock every waiter.
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}
