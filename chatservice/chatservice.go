// Package chatservice is the write and query surface for direct-message
// conversations. Every mutation is broadcast on the conversation's bus
// subject so live subscribers can refresh their view of the channel.
package chatservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libbus"
	"github.com/pairlink/pairlink/libdbexec"
)

var ErrEmptyBody = errors.New("chatservice: message body is empty")

// Event types broadcast on channel subjects.
const (
	EventTypeMessage = "message"
	EventTypeRead    = "read"
)

// ChannelEvent is the payload published on a channel subject whenever the
// conversation changes. Subscribers treat it as an invalidation signal and
// re-query the message window rather than applying it incrementally.
type ChannelEvent struct {
	Type       string             `json:"type"`
	ChannelKey string             `json:"channelKey"`
	Message    *chatstore.Message `json:"message,omitempty"`
	ReaderID   string             `json:"readerId,omitempty"`
	Flipped    int64              `json:"flipped,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Subscription is a live channel stream registration.
type Subscription interface {
	Unsubscribe() error
}

// Service exposes conversation operations between a user and one
// counterpart at a time.
type Service interface {
	// Send appends a message from sender to receiver and broadcasts it.
	// Leading and trailing whitespace is stripped from the body first.
	Send(ctx context.Context, senderID, receiverID, body, senderRole string) (*chatstore.Message, error)
	// ListMessages returns the conversation window in chronological order.
	ListMessages(ctx context.Context, userID, counterpartID string, limit int) ([]*chatstore.Message, error)
	LastMessage(ctx context.Context, userID, counterpartID string) (*chatstore.Message, error)
	// MarkRead acknowledges every unread message addressed to userID in
	// the conversation. Re-running it changes nothing and emits no event.
	MarkRead(ctx context.Context, userID, counterpartID string) (int64, error)
	UnreadCount(ctx context.Context, userID, counterpartID string) (int64, error)
	ListChannels(ctx context.Context, userID string) ([]*chatstore.ChannelSummary, error)
	// SubscribeToChannel streams raw ChannelEvent payloads for the
	// conversation into ch.
	SubscribeToChannel(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error)
}

type service struct {
	dbInstance libdbexec.DBManager
	messenger  libbus.Messenger
}

// New creates a chat service backed by dbInstance, broadcasting mutations
// through messenger.
func New(dbInstance libdbexec.DBManager, messenger libbus.Messenger) Service {
	return &service{dbInstance: dbInstance, messenger: messenger}
}

// ChannelSubject is the bus subject carrying ChannelEvents for a channel.
func ChannelSubject(channelKey string) string {
	return fmt.Sprintf("chat.channel.%s", channelKey)
}

func (s *service) Send(ctx context.Context, senderID, receiverID, body, senderRole string) (*chatstore.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	msg := &chatstore.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		SenderRole: senderRole,
	}

	tx, commit, release, err := s.dbInstance.WithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := chatstore.New(tx).AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := commit(ctx); err != nil {
		return nil, err
	}

	s.publish(ctx, ChannelEvent{
		Type:       EventTypeMessage,
		ChannelKey: msg.ChannelKey,
		Message:    msg,
		OccurredAt: msg.SentAt,
	})
	return msg, nil
}

func (s *service) ListMessages(ctx context.Context, userID, counterpartID string, limit int) ([]*chatstore.Message, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return nil, err
	}
	store := chatstore.New(s.dbInstance.WithoutTransaction())
	return store.ListMessages(ctx, channelKey, limit)
}

func (s *service) LastMessage(ctx context.Context, userID, counterpartID string) (*chatstore.Message, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return nil, err
	}
	store := chatstore.New(s.dbInstance.WithoutTransaction())
	return store.LastMessage(ctx, channelKey)
}

func (s *service) MarkRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return 0, err
	}

	store := chatstore.New(s.dbInstance.WithoutTransaction())
	flipped, err := store.MarkRead(ctx, channelKey, userID)
	if err != nil {
		return 0, err
	}
	if flipped > 0 {
		s.publish(ctx, ChannelEvent{
			Type:       EventTypeRead,
			ChannelKey: channelKey,
			ReaderID:   userID,
			Flipped:    flipped,
			OccurredAt: time.Now().UTC(),
		})
	}
	return flipped, nil
}

func (s *service) UnreadCount(ctx context.Context, userID, counterpartID string) (int64, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return 0, err
	}
	store := chatstore.New(s.dbInstance.WithoutTransaction())
	return store.CountUnread(ctx, channelKey, userID)
}

func (s *service) ListChannels(ctx context.Context, userID string) ([]*chatstore.ChannelSummary, error) {
	if userID == "" {
		return nil, chatstore.ErrEmptyParticipant
	}
	store := chatstore.New(s.dbInstance.WithoutTransaction())
	return store.ListChannelsFor(ctx, userID)
}

func (s *service) SubscribeToChannel(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error) {
	channelKey, err := chatstore.ChannelKey(userID, counterpartID)
	if err != nil {
		return nil, err
	}
	return s.messenger.Stream(ctx, ChannelSubject(channelKey), ch)
}

// publish broadcasts the event before the mutation returns, so events on
// a channel subject arrive in mutation order. Publish failures are logged
// rather than surfaced; the mutation itself already committed.
func (s *service) publish(ctx context.Context, event ChannelEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal channel event", "channel_key", event.ChannelKey, "error", err)
		return
	}
	if err := s.messenger.Publish(ctx, ChannelSubject(event.ChannelKey), data); err != nil {
		slog.Error("failed to publish channel event", "channel_key", event.ChannelKey, "type", event.Type, "error", err)
	}
}
