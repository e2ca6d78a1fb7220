// Package notificationservice decides whether an incoming message becomes
// a user-facing alert and shapes that alert. Delivery goes through the
// Sink interface so hosts plug in their platform alerting; this package
// owns the suppression rules, the permission state machine and the
// auto-dismiss timers.
package notificationservice

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pairlink/pairlink/rosterservice"
)

// AutoDismissDelay is how long an alert stays up before it is withdrawn.
const AutoDismissDelay = 5 * time.Second

// Permission mirrors the platform's alert permission decision.
type Permission int

const (
	PermissionUndecided Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undecided"
	}
}

// Notification is one shaped alert. Tag groups alerts per counterpart so
// a newer message from the same sender replaces the older alert instead
// of stacking.
type Notification struct {
	Tag      string `json:"tag"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	DeepLink string `json:"deepLink"`
}

// Sink receives shaped alerts. Hosts adapt it to their platform.
type Sink interface {
	Deliver(notification Notification)
	Dismiss(tag string)
}

// Incoming is the message event the dispatcher judges.
type Incoming struct {
	SenderID   string
	ReceiverID string
	Body       string
}

// Service turns incoming messages into alerts, or swallows them.
type Service interface {
	// Dispatch applies the suppression and permission rules to one
	// incoming message. It never returns an error: a message that cannot
	// be surfaced is silently dropped.
	Dispatch(ctx context.Context, incoming Incoming)
	// ResolvePermission records the platform's permission decision and
	// flushes or drops the queued dispatch.
	ResolvePermission(granted bool)
	// SetFocused records whether the viewing surface is visible.
	SetFocused(focused bool)
	// SetActiveCounterpart records which conversation is on screen.
	// An empty ID means none.
	SetActiveCounterpart(counterpartID string)
	// Close stops all pending auto-dismiss timers.
	Close()
}

type dismissEntry struct {
	epoch int
	timer *time.Timer
}

// Option configures the dispatcher.
type Option func(*service)

// WithAutoDismissDelay overrides how long an alert stays up.
func WithAutoDismissDelay(delay time.Duration) Option {
	return func(s *service) {
		s.dismissDelay = delay
	}
}

type service struct {
	sink              Sink
	roster            rosterservice.Service
	selfID            string
	requestPermission func()
	dismissDelay      time.Duration

	mu                sync.Mutex
	permission        Permission
	permissionAsked   bool
	pending           *Notification
	focused           bool
	activeCounterpart string
	dismissals        map[string]*dismissEntry
	closed            bool
}

// New creates a dispatcher for one user session. requestPermission is
// invoked at most once, the first time a dispatch happens while the
// permission is still undecided; the host answers via ResolvePermission.
func New(sink Sink, roster rosterservice.Service, selfID string, requestPermission func(), opts ...Option) Service {
	s := &service{
		sink:              sink,
		roster:            roster,
		selfID:            selfID,
		requestPermission: requestPermission,
		dismissDelay:      AutoDismissDelay,
		dismissals:        make(map[string]*dismissEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tag is the grouping tag for alerts from one sender.
func Tag(senderID string) string {
	return "chat-" + senderID
}

// DeepLink is the route that reopens the conversation with senderID.
func DeepLink(senderID string) string {
	return "/chat?counterpart=" + url.QueryEscape(senderID)
}

func (s *service) Dispatch(ctx context.Context, incoming Incoming) {
	if incoming.ReceiverID != s.selfID || incoming.SenderID == "" {
		return
	}

	notification := s.shape(ctx, incoming)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.focused && s.activeCounterpart == incoming.SenderID {
		s.mu.Unlock()
		return
	}

	switch s.permission {
	case PermissionDenied:
		s.mu.Unlock()
		return
	case PermissionUndecided:
		// Keep only the newest dispatch while the decision is pending.
		s.pending = &notification
		ask := !s.permissionAsked
		s.permissionAsked = true
		s.mu.Unlock()
		if ask && s.requestPermission != nil {
			s.requestPermission()
		}
		return
	}
	s.mu.Unlock()

	s.deliver(notification)
}

func (s *service) ResolvePermission(granted bool) {
	s.mu.Lock()
	if granted {
		s.permission = PermissionGranted
	} else {
		s.permission = PermissionDenied
	}
	pending := s.pending
	s.pending = nil
	closed := s.closed
	s.mu.Unlock()

	if granted && pending != nil && !closed {
		s.deliver(*pending)
	}
}

func (s *service) SetFocused(focused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = focused
}

func (s *service) SetActiveCounterpart(counterpartID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeCounterpart = counterpartID
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for tag, entry := range s.dismissals {
		entry.timer.Stop()
		delete(s.dismissals, tag)
	}
	s.pending = nil
}

// shape builds the alert payload. The title comes from the sender's
// roster display name, "Someone" when the roster cannot resolve it.
func (s *service) shape(ctx context.Context, incoming Incoming) Notification {
	title := "Someone"
	if s.roster != nil {
		if counterpart, err := s.roster.GetCounterpart(ctx, s.selfID, incoming.SenderID); err == nil && counterpart.DisplayName != "" {
			title = counterpart.DisplayName
		}
	}
	body := strings.TrimSpace(incoming.Body)
	if body == "" {
		body = "New message"
	}
	return Notification{
		Tag:      Tag(incoming.SenderID),
		Title:    title,
		Body:     body,
		DeepLink: DeepLink(incoming.SenderID),
	}
}

func (s *service) deliver(notification Notification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	entry, ok := s.dismissals[notification.Tag]
	if !ok {
		entry = &dismissEntry{}
		s.dismissals[notification.Tag] = entry
	} else {
		entry.timer.Stop()
	}
	entry.epoch++
	epoch := entry.epoch
	entry.timer = time.AfterFunc(s.dismissDelay, func() {
		s.autoDismiss(notification.Tag, epoch)
	})
	s.mu.Unlock()

	s.sink.Deliver(notification)
}

// autoDismiss withdraws the alert unless a newer delivery reused the tag
// in the meantime.
func (s *service) autoDismiss(tag string, epoch int) {
	s.mu.Lock()
	entry, ok := s.dismissals[tag]
	if !ok || entry.epoch != epoch || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.dismissals, tag)
	s.mu.Unlock()

	s.sink.Dismiss(tag)
}
