// Package typingservice tracks the transient "is typing" flag of a
// conversation. Flags live in the KV store with a short TTL so a crashed
// client's flag clears on its own, and every change is broadcast on the
// conversation's typing subject.
package typingservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libbus"
	"github.com/pairlink/pairlink/libkvstore"
)

// FlagTTL is the write-side lifetime of a typing flag. A client that stops
// refreshing it is considered to have stopped typing after this long.
const FlagTTL = 3 * time.Second

// TypingEvent is the payload published on a typing subject.
type TypingEvent struct {
	ChannelKey string    `json:"channelKey"`
	UserID     string    `json:"userId"`
	Typing     bool      `json:"typing"`
	At         time.Time `json:"at"`
}

// Subscription is a live typing stream registration.
type Subscription interface {
	Unsubscribe() error
}

// Service reads and writes typing flags.
type Service interface {
	// SetTyping sets or clears userID's typing flag towards counterpartID.
	// Setting an already-set flag refreshes its TTL.
	SetTyping(ctx context.Context, userID, counterpartID string, typing bool) error
	// IsTyping reports whether counterpartID is currently typing to userID.
	IsTyping(ctx context.Context, userID, counterpartID string) (bool, error)
	// SubscribeTyping streams raw TypingEvent payloads for the conversation
	// into ch. Events carry the typist's ID; subscribers drop their own.
	SubscribeTyping(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error)
}

type service struct {
	kvManager libkvstore.KVManager
	messenger libbus.Messenger
}

// New creates a typing service on top of kvManager and messenger.
func New(kvManager libkvstore.KVManager, messenger libbus.Messenger) Service {
	return &service{kvManager: kvManager, messenger: messenger}
}

// TypingSubject is the bus subject carrying TypingEvents for a channel.
func TypingSubject(channelKey string) string {
	return fmt.Sprintf("chat.typing.%s", channelKey)
}

func flagKey(channelKey, userID string) string {
	return fmt.Sprintf("chat:typing:%s:%s", channelKey, userID)
}

func (s *service) SetTyping(ctx context.Context, userID, counterpartID string, typing bool) error {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return err
	}

	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return err
	}

	if typing {
		if err := kv.SetWithTTL(ctx, flagKey(channelKey, userID), []byte("1"), FlagTTL); err != nil {
			return fmt.Errorf("failed to set typing flag: %w", err)
		}
	} else {
		if err := kv.Delete(ctx, flagKey(channelKey, userID)); err != nil {
			return fmt.Errorf("failed to clear typing flag: %w", err)
		}
	}

	s.publish(ctx, TypingEvent{
		ChannelKey: channelKey,
		UserID:     userID,
		Typing:     typing,
		At:         time.Now().UTC(),
	})
	return nil
}

func (s *service) IsTyping(ctx context.Context, userID, counterpartID string) (bool, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return false, err
	}

	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return false, err
	}
	return kv.Exists(ctx, flagKey(channelKey, counterpartID))
}

func (s *service) SubscribeTyping(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return nil, err
	}
	return s.messenger.Stream(ctx, TypingSubject(channelKey), ch)
}

// publish broadcasts the event synchronously so a start and a stop for
// the same typist cannot arrive swapped.
func (s *service) publish(ctx context.Context, event TypingEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal typing event", "channel_key", event.ChannelKey, "error", err)
		return
	}
	if err := s.messenger.Publish(ctx, TypingSubject(event.ChannelKey), data); err != nil {
		slog.Error("failed to publish typing event", "channel_key", event.ChannelKey, "error", err)
	}
}
