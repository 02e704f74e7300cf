package bridge

import (
	"fmt"
	"sync"

	"forkpilot/internal/pkg/apperrors"
)

// Message is one broadcast unit together with the identity of the context
// it was sent from. Sender identity is a transport-level property; payloads
// cannot forge it.
type Message struct {
	Sender string
	Data   []byte
}

// Transport is an endpoint on an asynchronous, unordered, broadcast-style
// channel connecting isolated execution contexts. Every other endpoint on
// the channel observes every sent message.
type Transport interface {
	Identity() string
	Send(data []byte) error
	Receive() <-chan Message
	Close() error
}

// endpointBuffer bounds per-endpoint delivery queues; a slow consumer drops
// broadcasts rather than blocking the sender.
const endpointBuffer = 64

// Bus is an in-process broadcast channel. It models the shared messaging
// channel between a sandboxed frame and its host, including the possibility
// of multiple uncoordinated endpoints.
type Bus struct {
	mu        sync.Mutex
	endpoints map[string]*busEndpoint
	closed    bool
}

func NewBus() *Bus {
	return &Bus{endpoints: make(map[string]*busEndpoint)}
}

// Endpoint registers a new endpoint on the bus under the given identity.
func (b *Bus) Endpoint(identity string) (Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: bus is closed", apperrors.ErrInvalidInput)
	}
	if _, exists := b.endpoints[identity]; exists {
		return nil, fmt.Errorf("%w: endpoint %q already registered", apperrors.ErrInvalidInput, identity)
	}
	ep := &busEndpoint{
		bus:      b,
		identity: identity,
		recv:     make(chan Message, endpointBuffer),
	}
	b.endpoints[identity] = ep
	return ep, nil
}

func (b *Bus) broadcast(from string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for identity, ep := range b.endpoints {
		if identity == from {
			continue
		}
		select {
		case ep.recv <- Message{Sender: from, Data: data}:
		default:
			// Queue full; the broadcast channel gives no delivery guarantee.
		}
	}
}

func (b *Bus) remove(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ep, ok := b.endpoints[identity]; ok {
		delete(b.endpoints, identity)
		close(ep.recv)
	}
}

type busEndpoint struct {
	bus      *Bus
	identity string
	recv     chan Message
	once     sync.Once
}

func (e *busEndpoint) Identity() string { return e.identity }

func (e *busEndpoint) Send(data []byte) error {
	e.bus.broadcast(e.identity, data)
	return nil
}

func (e *busEndpoint) Receive() <-chan Message { return e.recv }

func (e *busEndpoint) Close() error {
	e.once.Do(func() { e.bus.remove(e.identity) })
	return nil
}
