package libbus

import (
	"context"
	"sync"
)

// InMem is an in-memory Messenger for single-process use: local mode and
// tests. Publish delivers to local Stream subscribers; Request/Serve work as
// same-process request-reply. It is always "connected", so conn-state
// listeners registered via NotifyConnState are never invoked.
type InMem struct {
	mu       sync.RWMutex
	closed   bool
	nextID   uint64
	streams  map[string]map[uint64]chan<- []byte
	handlers map[string]Handler
}

// NewInMem returns a new in-memory Messenger.
func NewInMem() *InMem {
	return &InMem{
		streams:  make(map[string]map[uint64]chan<- []byte),
		handlers: make(map[string]Handler),
	}
}

func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrConnectionClosed
	}
	// Snapshot subscribers so the lock is not held while sending.
	subs := make([]chan<- []byte, 0, len(p.streams[subject]))
	for _, ch := range p.streams[subject] {
		subs = append(subs, ch)
	}
	p.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if p.streams[subject] == nil {
		p.streams[subject] = make(map[uint64]chan<- []byte, 1)
	}
	p.nextID++
	id := p.nextID
	p.streams[subject][id] = ch
	p.mu.Unlock()

	sub := &inmemStream{subject: subject, id: id, bus: p}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (p *InMem) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrConnectionClosed
	}
	handler := p.handlers[subject]
	p.mu.RUnlock()

	if handler == nil {
		return nil, ErrRequestTimeout
	}
	return handler(ctx, data)
}

func (p *InMem) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.handlers[subject] = handler
	p.mu.Unlock()

	sub := &inmemServe{subject: subject, bus: p}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// NotifyConnState implements ConnHealth. The in-memory bus never disconnects.
func (p *InMem) NotifyConnState(func(connected bool)) {}

func (p *InMem) Close() error {
	p.mu.Lock()
	p.closed = true
	p.streams = make(map[string]map[uint64]chan<- []byte)
	p.handlers = make(map[string]Handler)
	p.mu.Unlock()
	return nil
}

type inmemStream struct {
	subject string
	id      uint64
	bus     *InMem
}

func (s *inmemStream) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.streams[s.subject], s.id)
	s.bus.mu.Unlock()
	return nil
}

type inmemServe struct {
	subject string
	bus     *InMem
}

func (s *inmemServe) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.subject)
	s.bus.mu.Unlock()
	return nil
}

var _ Messenger = (*InMem)(nil)
var _ ConnHealth = (*InMem)(nil)
