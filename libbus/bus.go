// Package libbus provides the process's pub/sub fabric. The NATS-backed
// Messenger is used in server mode; an in-memory Messenger serves local
// single-process mode and tests. Every push subscription in the chat core
// (message windows, typing flags, presence) rides on a Messenger stream.
package libbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrRequestTimeout   = errors.New("request timed out")
)

// Handler processes a request message and returns the reply payload.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is a live stream or serve registration.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the pub/sub contract shared by the NATS and in-memory backends.
type Messenger interface {
	// Publish sends a fire-and-forget message to all subscribers of subject.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream subscribes to subject; payloads are delivered to ch until the
	// context is cancelled or Unsubscribe is called.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	// Request sends a request and waits for a reply from a Serve handler.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Serve registers a request handler for subject.
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// ConnHealth lets callers observe transport connectivity transitions.
// Subscribers that need full-snapshot replay after an outage (see the chat
// channel stream) register here instead of polling.
type ConnHealth interface {
	// NotifyConnState registers fn to be invoked with true on (re)connect and
	// false on disconnect. Registration is permanent for the messenger's life.
	NotifyConnState(fn func(connected bool))
}

// Config carries NATS connection settings.
type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
}

// PubSub is the NATS-backed Messenger.
type PubSub struct {
	nc *nats.Conn

	mu        sync.Mutex
	connState []func(bool)
	closed    bool
}

// NewPubSub connects to NATS and returns a Messenger.
// The connection reconnects indefinitely; registered conn-state listeners are
// notified on every disconnect and reconnect.
func NewPubSub(ctx context.Context, cfg *Config) (*PubSub, error) {
	p := &PubSub{}
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			p.notify(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.notify(true)
		}),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, err
	}
	p.nc = nc
	return p, nil
}

func (p *PubSub) notify(connected bool) {
	p.mu.Lock()
	listeners := make([]func(bool), len(p.connState))
	copy(listeners, p.connState)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(connected)
	}
}

// NotifyConnState implements ConnHealth.
func (p *PubSub) NotifyConnState(fn func(connected bool)) {
	p.mu.Lock()
	p.connState = append(p.connState, fn)
	p.mu.Unlock()
}

func (p *PubSub) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return ErrConnectionClosed
	}
	return p.nc.Publish(subject, data)
}

func (p *PubSub) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *PubSub) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrConnectionClosed
	}
	msg, err := p.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) {
			return nil, ErrRequestTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	return msg.Data, nil
}

func (p *PubSub) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.isClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := handler(ctx, msg.Data)
		if err != nil {
			return
		}
		_ = msg.Respond(reply)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.nc.Close()
	return nil
}

func (p *PubSub) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.nc.IsClosed()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ Messenger = (*PubSub)(nil)
var _ ConnHealth = (*PubSub)(nil)
