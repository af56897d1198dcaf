package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownRequest = errors.New("no pending interaction with that id")
)

// Transport renders a request to the user. Implemented by the chat surface.
type Transport interface {
	Render(ctx context.Context, req InteractionRequest) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req InteractionRequest) error

func (f TransportFunc) Render(ctx context.Context, req InteractionRequest) error {
	return f(ctx, req)
}

// Broker pairs pending requests with the responses delivered for them.
// One broker serves one session.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]chan HumanResponse
	transport Transport
}

func NewBroker(t Transport) *Broker {
	return &Broker{pending: map[string]chan HumanResponse{}, transport: t}
}

// Ask renders req and blocks until its response arrives or ctx ends.
func (b *Broker) Ask(ctx context.Context, req InteractionRequest) (HumanResponse, error) {
	if err := req.Validate(); err != nil {
		return HumanResponse{}, err
	}

	ch := make(chan HumanResponse, 1)
	b.mu.Lock()
	b.pending[req.ID] = ch
	b.mu.Unlock()
	defer b.forget(req.ID)

	if err := b.transport.Render(ctx, req); err != nil {
		return HumanResponse{}, fmt.Errorf("render interaction: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return HumanResponse{}, ctx.Err()
	}
}

// Respond delivers a response to its waiting request.
func (b *Broker) Respond(resp HumanResponse) error {
	b.mu.Lock()
	ch, ok := b.pending[resp.RequestID]
	if ok {
		delete(b.pending, resp.RequestID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.RequestID)
	}
	ch <- resp
	return nil
}

// Pending reports how many requests are waiting.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Asker is what a handler needs to suspend on the user.
type Asker interface {
	Ask(ctx context.Context, req InteractionRequest) (HumanResponse, error)
}

var _ Asker = (*Broker)(nil)
