// Package sessionservice is the per-user-session orchestration layer of
// the chat core. One controller is bound to one authenticated user; it
// tracks which counterpart is active, owns every subscription and timer
// for that channel, keeps the unread map live across the whole roster,
// and feeds the notification dispatcher. Switching counterparts bumps an
// epoch counter so callbacks and timers belonging to the previous channel
// are guaranteed no-ops.
package sessionservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pairlink/pairlink/chatservice"
	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libbus"
	"github.com/pairlink/pairlink/libroutine"
	"github.com/pairlink/pairlink/notificationservice"
	"github.com/pairlink/pairlink/presenceservice"
	"github.com/pairlink/pairlink/rosterservice"
	"github.com/pairlink/pairlink/typingservice"
)

// Fixed policy delays. None of these are user-configurable.
const (
	// SelectMarkReadDelay lets the UI render a freshly selected channel
	// before its read receipts fire.
	SelectMarkReadDelay = 300 * time.Millisecond
	// VisibleMarkReadDelay debounces read receipts for messages arriving
	// while the conversation is on a visible surface.
	VisibleMarkReadDelay = 500 * time.Millisecond
	// TypingStopDelay publishes a stop-typing signal after the composer
	// goes quiet.
	TypingStopDelay = 3 * time.Second
	// TypingHideDelay keeps the counterpart's typing indicator up briefly
	// after a stop signal so keystroke pauses don't flicker it.
	TypingHideDelay = 1500 * time.Millisecond
	// TypingRecheckInterval re-reads a visible typing flag from the store.
	// A typist whose process died publishes no stop event; its flag lapses
	// on its own and the recheck is what hides the indicator then.
	TypingRecheckInterval = typingservice.FlagTTL + 500*time.Millisecond
	// DefaultWindowSize is how many recent messages the active channel
	// keeps in its snapshot.
	DefaultWindowSize = 100
)

var (
	ErrNoCounterpartSelected = errors.New("sessionservice: no counterpart selected")
	ErrSessionClosed         = errors.New("sessionservice: session is closed")
	ErrAlreadyStarted        = errors.New("sessionservice: session already started")
)

// Snapshot is a point-in-time view of the session for a UI to render.
// Revision increases on every window change so appends are detectable.
type Snapshot struct {
	SelfID              string                 `json:"selfId"`
	ActiveCounterpart   string                 `json:"activeCounterpart,omitempty"`
	ChannelKey          string                 `json:"channelKey,omitempty"`
	Input               string                 `json:"input"`
	Visible             bool                   `json:"visible"`
	Messages            []chatstore.Message    `json:"messages"`
	Revision            uint64                 `json:"revision"`
	CounterpartTyping   bool                   `json:"counterpartTyping"`
	CounterpartPresence presenceservice.Status `json:"counterpartPresence"`
	Unread              map[string]int64       `json:"unread"`
}

// Service is the chat session state machine bound to one user.
type Service interface {
	// Start brings the session up: publishes own presence, loads the
	// roster, initializes unread counts and opens one background
	// subscription per counterpart.
	Start(ctx context.Context) error
	// SelectCounterpart makes counterpartID the active conversation,
	// tearing down the previous channel's subscriptions and timers.
	SelectCounterpart(ctx context.Context, counterpartID string) error
	// SendMessage sends the text to the active counterpart. Blank text is
	// a no-op. On failure the composer input is left untouched so the
	// user can retry.
	SendMessage(ctx context.Context, text string) error
	// ChangeInput updates the composer text and drives the typing signal.
	ChangeInput(ctx context.Context, text string) error
	// MarkVisible records whether the chat surface is visible or focused.
	MarkVisible(ctx context.Context, visible bool) error
	// RefreshRoster re-derives the background subscription set after the
	// connections list changed.
	RefreshRoster(ctx context.Context) error
	// Snapshot returns the current session state.
	Snapshot() Snapshot
	// Close tears the session down and publishes own presence offline.
	Close() error
}

type backgroundWatch struct {
	cancel context.CancelFunc
}

type session struct {
	selfID   string
	selfRole string
	chat     chatservice.Service
	typing   typingservice.Service
	presence presenceservice.Service
	roster   rosterservice.Service
	notifier notificationservice.Service
	health   libbus.ConnHealth

	mu           sync.Mutex
	started      bool
	closed       bool
	ctx          context.Context
	cancel       context.CancelFunc
	epoch        int
	active       string
	activeKey    string
	activeCancel context.CancelFunc
	input        string
	visible      bool
	window       []chatstore.Message
	revision     uint64

	typingVisible      bool
	typingHideTimer    *time.Timer
	typingRecheckTimer *time.Timer
	stopTypingTimer    *time.Timer
	markReadTimer      *time.Timer

	counterpartPresence presenceservice.Status
	unread              map[string]int64
	watches             map[string]*backgroundWatch
}

// New creates a session controller for one authenticated user. health may
// be nil when the transport cannot drop (local single-process mode).
func New(selfID, selfRole string, chat chatservice.Service, typing typingservice.Service, presence presenceservice.Service, roster rosterservice.Service, notifier notificationservice.Service, health libbus.ConnHealth) Service {
	return &session{
		selfID:   selfID,
		selfRole: selfRole,
		chat:     chat,
		typing:   typing,
		presence: presence,
		roster:   roster,
		notifier: notifier,
		health:   health,
		unread:   make(map[string]int64),
		watches:  make(map[string]*backgroundWatch),
	}
}

func (s *session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	if err := s.presence.SetOnline(ctx, s.selfID); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	go s.heartbeatLoop()

	if s.health != nil {
		s.health.NotifyConnState(func(connected bool) {
			if connected {
				s.replayAfterReconnect()
			}
		})
	}

	return s.RefreshRoster(ctx)
}

// heartbeatLoop keeps own presence alive for the session's lifetime. The
// circuit breaker stops hammering the KV store while it is unreachable.
func (s *session) heartbeatLoop() {
	routine := libroutine.NewRoutine(3, 10*time.Second)
	routine.Loop(s.ctx, presenceservice.LivenessTTL/3, nil, func(ctx context.Context) error {
		return s.presence.Heartbeat(ctx, s.selfID)
	}, func(err error) {
		if !errors.Is(err, context.Canceled) {
			slog.Error("presence heartbeat failed", "user_id", s.selfID, "error", err)
		}
	})
}

func (s *session) SelectCounterpart(ctx context.Context, counterpartID string) error {
	if counterpartID == "" {
		return chatstore.ErrEmptyParticipant
	}
	if counterpartID == s.selfID {
		return chatstore.ErrSameParticipant
	}
	counterpart, err := s.roster.GetCounterpart(ctx, s.selfID, counterpartID)
	if err != nil {
		return fmt.Errorf("counterpart %q not on roster: %w", counterpartID, err)
	}
	channelKey, err := chatstore.ChannelKey(s.selfID, counterpart.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.teardownActiveLocked()
	s.active = counterpart.ID
	s.activeKey = channelKey
	epoch := s.epoch
	subCtx, subCancel := context.WithCancel(s.ctx)
	s.activeCancel = subCancel
	s.mu.Unlock()

	s.notifier.SetActiveCounterpart(counterpart.ID)

	if err := s.openActiveStreams(subCtx, epoch, counterpart.ID); err != nil {
		return err
	}
	if err := s.refreshWindow(ctx, epoch, counterpart.ID); err != nil {
		return err
	}
	s.refreshCounterpartState(ctx, epoch, counterpart.ID)

	// Let the UI paint before the read receipt goes out.
	s.scheduleMarkRead(epoch, counterpart.ID, SelectMarkReadDelay, false)
	return nil
}

// openActiveStreams subscribes to the active channel's message, typing and
// presence streams. Each pump goroutine dies with subCtx and every handler
// re-checks the epoch, so a stale stream can never touch current state.
func (s *session) openActiveStreams(subCtx context.Context, epoch int, counterpartID string) error {
	messages := make(chan []byte, 32)
	if _, err := s.chat.SubscribeToChannel(subCtx, s.selfID, counterpartID, messages); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	typingCh := make(chan []byte, 32)
	if _, err := s.typing.SubscribeTyping(subCtx, s.selfID, counterpartID, typingCh); err != nil {
		return fmt.Errorf("failed to subscribe to typing: %w", err)
	}
	presenceCh := make(chan []byte, 32)
	if _, err := s.presence.SubscribePresence(subCtx, counterpartID, presenceCh); err != nil {
		return fmt.Errorf("failed to subscribe to presence: %w", err)
	}

	go s.pump(subCtx, messages, func(data []byte) {
		s.onActiveChannelEvent(epoch, counterpartID, data)
	})
	go s.pump(subCtx, typingCh, func(data []byte) {
		s.onTypingEvent(epoch, counterpartID, data)
	})
	go s.pump(subCtx, presenceCh, func(data []byte) {
		s.onPresenceEvent(epoch, counterpartID, data)
	})
	return nil
}

func (s *session) pump(ctx context.Context, ch <-chan []byte, handle func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			handle(data)
		}
	}
}

func (s *session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	counterpartID := s.active
	epoch := s.epoch
	s.mu.Unlock()

	if counterpartID == "" {
		return ErrNoCounterpartSelected
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.clearOwnTyping(ctx, epoch, counterpartID)

	if _, err := s.chat.Send(ctx, s.selfID, counterpartID, text, s.selfRole); err != nil {
		// Input is left as typed so the user can retry.
		return err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.input = ""
	}
	s.mu.Unlock()

	// The counterpart may have replied while this send was in flight.
	s.scheduleMarkRead(epoch, counterpartID, SelectMarkReadDelay, false)
	return nil
}

func (s *session) ChangeInput(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.input = text
	counterpartID := s.active
	epoch := s.epoch
	s.mu.Unlock()

	if counterpartID == "" {
		return nil
	}

	if strings.TrimSpace(text) == "" {
		s.clearOwnTyping(ctx, epoch, counterpartID)
		return nil
	}

	if err := s.typing.SetTyping(ctx, s.selfID, counterpartID, true); err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		if s.stopTypingTimer != nil {
			s.stopTypingTimer.Stop()
		}
		s.stopTypingTimer = s.afterFunc(epoch, TypingStopDelay, func() {
			if err := s.typing.SetTyping(s.ctx, s.selfID, counterpartID, false); err != nil {
				slog.Error("failed to clear typing flag", "user_id", s.selfID, "error", err)
			}
		})
	}
	s.mu.Unlock()
	return nil
}

func (s *session) MarkVisible(ctx context.Context, visible bool) error {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.visible = visible
	counterpartID := s.active
	epoch := s.epoch
	unread := s.unread[counterpartID]
	s.mu.Unlock()

	s.notifier.SetFocused(visible)

	if visible && counterpartID != "" && unread > 0 {
		s.scheduleMarkRead(epoch, counterpartID, VisibleMarkReadDelay, true)
	}
	return nil
}

func (s *session) RefreshRoster(ctx context.Context) error {
	counterparts, err := s.roster.ListCounterparts(ctx, s.selfID)
	if err != nil {
		return fmt.Errorf("failed to list counterparts: %w", err)
	}

	current := make(map[string]bool, len(counterparts))
	for _, counterpart := range counterparts {
		current[counterpart.ID] = true
	}

	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	for id, watch := range s.watches {
		if !current[id] {
			watch.cancel()
			delete(s.watches, id)
			delete(s.unread, id)
		}
	}
	added := make([]string, 0, len(counterparts))
	for id := range current {
		if _, ok := s.watches[id]; !ok {
			added = append(added, id)
		}
	}
	s.mu.Unlock()

	for _, id := range added {
		if err := s.watchCounterpart(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// watchCounterpart opens the background subscription that keeps one roster
// entry's unread count live and feeds the notification dispatcher, whether
// or not that conversation is the active one.
func (s *session) watchCounterpart(ctx context.Context, counterpartID string) error {
	s.mu.Lock()
	watchCtx, cancel := context.WithCancel(s.ctx)
	s.watches[counterpartID] = &backgroundWatch{cancel: cancel}
	s.mu.Unlock()

	events := make(chan []byte, 32)
	if _, err := s.chat.SubscribeToChannel(watchCtx, s.selfID, counterpartID, events); err != nil {
		cancel()
		s.mu.Lock()
		delete(s.watches, counterpartID)
		s.mu.Unlock()
		return fmt.Errorf("failed to watch counterpart %q: %w", counterpartID, err)
	}

	go s.pump(watchCtx, events, func(data []byte) {
		s.onBackgroundEvent(counterpartID, data)
	})

	return s.recomputeUnread(ctx, counterpartID)
}

func (s *session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]chatstore.Message, len(s.window))
	copy(messages, s.window)
	unread := make(map[string]int64, len(s.unread))
	for id, count := range s.unread {
		unread[id] = count
	}

	return Snapshot{
		SelfID:              s.selfID,
		ActiveCounterpart:   s.active,
		ChannelKey:          s.activeKey,
		Input:               s.input,
		Visible:             s.visible,
		Messages:            messages,
		Revision:            s.revision,
		CounterpartTyping:   s.typingVisible,
		CounterpartPresence: s.counterpartPresence,
		Unread:              unread,
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.teardownActiveLocked()
	for id, watch := range s.watches {
		watch.cancel()
		delete(s.watches, id)
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.notifier.Close()
	if cancel != nil {
		cancel()
	}
	if started {
		if err := s.presence.SetOffline(context.Background(), s.selfID); err != nil {
			return fmt.Errorf("failed to publish offline presence: %w", err)
		}
	}
	return nil
}

// teardownActiveLocked invalidates everything belonging to the active
// channel. Callers hold s.mu. Bumping the epoch first makes any timer or
// subscription callback still in flight a no-op.
func (s *session) teardownActiveLocked() {
	s.epoch++
	if s.markReadTimer != nil {
		s.markReadTimer.Stop()
		s.markReadTimer = nil
	}
	if s.typingHideTimer != nil {
		s.typingHideTimer.Stop()
		s.typingHideTimer = nil
	}
	if s.typingRecheckTimer != nil {
		s.typingRecheckTimer.Stop()
		s.typingRecheckTimer = nil
	}
	if s.stopTypingTimer != nil {
		s.stopTypingTimer.Stop()
		s.stopTypingTimer = nil
	}
	if s.activeCancel != nil {
		s.activeCancel()
		s.activeCancel = nil
	}
	if s.active != "" && strings.TrimSpace(s.input) != "" {
		counterpartID := s.active
		go func() {
			if err := s.typing.SetTyping(context.Background(), s.selfID, counterpartID, false); err != nil {
				slog.Error("failed to clear typing flag", "user_id", s.selfID, "error", err)
			}
		}()
	}
	s.active = ""
	s.activeKey = ""
	s.input = ""
	s.window = nil
	s.typingVisible = false
	s.counterpartPresence = presenceservice.Status{}
}

// afterFunc arms a timer whose callback is dropped if the channel epoch
// moved on or the session closed before it fired.
func (s *session) afterFunc(epoch int, delay time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := s.closed || s.epoch != epoch
		s.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

// scheduleMarkRead debounces a read acknowledgement for the active
// conversation. With onlyIfUnread the call is skipped when nothing is
// unread, avoiding redundant writes from the visibility path.
func (s *session) scheduleMarkRead(epoch int, counterpartID string, delay time.Duration, onlyIfUnread bool) {
	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if s.markReadTimer != nil {
		s.markReadTimer.Stop()
	}
	s.markReadTimer = s.afterFunc(epoch, delay, func() {
		if onlyIfUnread {
			s.mu.Lock()
			unread := s.unread[counterpartID]
			s.mu.Unlock()
			if unread == 0 {
				return
			}
		}
		if _, err := s.chat.MarkRead(s.ctx, s.selfID, counterpartID); err != nil {
			slog.Error("failed to mark conversation read", "user_id", s.selfID, "counterpart_id", counterpartID, "error", err)
		}
	})
	s.mu.Unlock()
}

func (s *session) clearOwnTyping(ctx context.Context, epoch int, counterpartID string) {
	s.mu.Lock()
	if s.epoch == epoch && s.stopTypingTimer != nil {
		s.stopTypingTimer.Stop()
		s.stopTypingTimer = nil
	}
	s.mu.Unlock()
	if err := s.typing.SetTyping(ctx, s.selfID, counterpartID, false); err != nil {
		slog.Error("failed to clear typing flag", "user_id", s.selfID, "error", err)
	}
}

// refreshWindow re-queries the active channel's message window. Events are
// invalidation signals only; the window is always rebuilt from the store.
func (s *session) refreshWindow(ctx context.Context, epoch int, counterpartID string) error {
	messages, err := s.chat.ListMessages(ctx, s.selfID, counterpartID, DefaultWindowSize)
	if err != nil {
		return fmt.Errorf("failed to load message window: %w", err)
	}

	window := make([]chatstore.Message, 0, len(messages))
	for _, msg := range messages {
		window = append(window, *msg)
	}

	s.mu.Lock()
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.window = window
	s.revision++
	s.mu.Unlock()
	return nil
}

// refreshCounterpartState seeds typing and presence for a newly selected
// counterpart; both are kept current by their streams afterwards.
func (s *session) refreshCounterpartState(ctx context.Context, epoch int, counterpartID string) {
	typing, err := s.typing.IsTyping(ctx, s.selfID, counterpartID)
	if err != nil {
		slog.Error("failed to read typing flag", "counterpart_id", counterpartID, "error", err)
		typing = false
	}
	status, err := s.presence.GetPresence(ctx, counterpartID)
	if err != nil {
		slog.Error("failed to read presence", "counterpart_id", counterpartID, "error", err)
		status = presenceservice.Status{UserID: counterpartID}
	}

	s.mu.Lock()
	if !s.closed && s.epoch == epoch {
		s.typingVisible = typing
		s.counterpartPresence = status
		if typing {
			s.armTypingRecheckLocked(epoch, counterpartID)
		}
	}
	s.mu.Unlock()
}

func (s *session) recomputeUnread(ctx context.Context, counterpartID string) error {
	count, err := s.chat.UnreadCount(ctx, s.selfID, counterpartID)
	if err != nil {
		return fmt.Errorf("failed to count unread for %q: %w", counterpartID, err)
	}
	s.mu.Lock()
	if _, tracked := s.watches[counterpartID]; tracked && !s.closed {
		s.unread[counterpartID] = count
	}
	s.mu.Unlock()
	return nil
}

// onActiveChannelEvent handles mutations of the currently open channel:
// rebuild the window and, when a counterpart message lands on a visible
// surface, debounce a read acknowledgement.
func (s *session) onActiveChannelEvent(epoch int, counterpartID string, data []byte) {
	var event chatservice.ChannelEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("failed to decode channel event", "error", err)
		return
	}

	s.mu.Lock()
	stale := s.closed || s.epoch != epoch
	visible := s.visible
	s.mu.Unlock()
	if stale {
		return
	}

	if err := s.refreshWindow(s.ctx, epoch, counterpartID); err != nil {
		slog.Error("failed to refresh message window", "error", err)
	}

	if event.Type == chatservice.EventTypeMessage && event.Message != nil &&
		event.Message.SenderID == counterpartID && visible {
		s.scheduleMarkRead(epoch, counterpartID, VisibleMarkReadDelay, true)
	}
}

// onBackgroundEvent keeps one roster entry's unread count live and routes
// incoming messages to the notification dispatcher. It runs for every
// counterpart, active or not; suppression of alerts for the on-screen
// conversation happens inside the dispatcher.
func (s *session) onBackgroundEvent(counterpartID string, data []byte) {
	var event chatservice.ChannelEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("failed to decode channel event", "error", err)
		return
	}

	if err := s.recomputeUnread(s.ctx, counterpartID); err != nil {
		slog.Error("failed to recompute unread count", "counterpart_id", counterpartID, "error", err)
	}

	if event.Type == chatservice.EventTypeMessage && event.Message != nil &&
		event.Message.ReceiverID == s.selfID {
		s.notifier.Dispatch(s.ctx, notificationservice.Incoming{
			SenderID:   event.Message.SenderID,
			ReceiverID: event.Message.ReceiverID,
			Body:       event.Message.Body,
		})
	}
}

func (s *session) onTypingEvent(epoch int, counterpartID string, data []byte) {
	var event typingservice.TypingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("failed to decode typing event", "error", err)
		return
	}
	// Own typing is never echoed back.
	if event.UserID != counterpartID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return
	}

	if event.Typing {
		// Show immediately; cancel any pending hide.
		if s.typingHideTimer != nil {
			s.typingHideTimer.Stop()
			s.typingHideTimer = nil
		}
		s.typingVisible = true
		s.armTypingRecheckLocked(epoch, counterpartID)
		return
	}

	// Hide only after the hysteresis window so brief pauses don't flicker.
	if s.typingHideTimer != nil {
		s.typingHideTimer.Stop()
	}
	s.typingHideTimer = s.afterFunc(epoch, TypingHideDelay, func() {
		s.mu.Lock()
		s.typingVisible = false
		if s.typingRecheckTimer != nil {
			s.typingRecheckTimer.Stop()
			s.typingRecheckTimer = nil
		}
		s.mu.Unlock()
	})
}

// armTypingRecheckLocked schedules a store read of the visible typing
// flag. Callers hold s.mu.
func (s *session) armTypingRecheckLocked(epoch int, counterpartID string) {
	if s.typingRecheckTimer != nil {
		s.typingRecheckTimer.Stop()
	}
	s.typingRecheckTimer = s.afterFunc(epoch, TypingRecheckInterval, func() {
		s.recheckTyping(epoch, counterpartID)
	})
}

// recheckTyping hides the indicator when the counterpart's flag is gone
// from the store without a stop event, and re-arms itself while the flag
// is still live.
func (s *session) recheckTyping(epoch int, counterpartID string) {
	typing, err := s.typing.IsTyping(s.ctx, s.selfID, counterpartID)
	if err != nil {
		slog.Error("failed to re-read typing flag", "counterpart_id", counterpartID, "error", err)
		typing = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch || !s.typingVisible {
		return
	}
	if typing {
		s.armTypingRecheckLocked(epoch, counterpartID)
		return
	}
	s.typingVisible = false
	s.typingRecheckTimer = nil
}

func (s *session) onPresenceEvent(epoch int, counterpartID string, data []byte) {
	var event presenceservice.Event
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("failed to decode presence event", "error", err)
		return
	}
	if event.UserID != counterpartID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		return
	}
	s.counterpartPresence = presenceservice.Status{
		UserID:   event.UserID,
		Online:   event.Online,
		LastSeen: event.LastSeen,
	}
}

// replayAfterReconnect re-queries everything the outage may have hidden:
// the active window and every tracked unread count. Full snapshots over
// deltas keeps the recovery path trivial.
func (s *session) replayAfterReconnect() {
	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch
	counterpartID := s.active
	tracked := make([]string, 0, len(s.watches))
	for id := range s.watches {
		tracked = append(tracked, id)
	}
	s.mu.Unlock()

	if counterpartID != "" {
		if err := s.refreshWindow(s.ctx, epoch, counterpartID); err != nil {
			slog.Error("failed to replay message window", "error", err)
		}
		s.refreshCounterpartState(s.ctx, epoch, counterpartID)
	}
	for _, id := range tracked {
		if err := s.recomputeUnread(s.ctx, id); err != nil {
			slog.Error("failed to replay unread count", "counterpart_id", id, "error", err)
		}
	}
}
