// Package chatstore persists direct-message conversations between two
// participants. A conversation is addressed by its channel key, derived
// from the two participant IDs independent of who initiated it.
package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("chatstore: not found")
	ErrEmptyParticipant   = errors.New("chatstore: participant id is empty")
	ErrSameParticipant    = errors.New("chatstore: sender and receiver are the same participant")
	ErrInvalidParticipant = errors.New("chatstore: participant id contains the channel key separator")
	ErrEmptyMessage       = errors.New("chatstore: message body is empty")
	ErrNotParticipant     = errors.New("chatstore: user is not a participant of the channel")
)

// keySeparator joins the two participant IDs of a channel key. IDs must
// not contain it, otherwise the key could not be split back.
const keySeparator = "_"

// Message is a single direct message between two participants.
type Message struct {
	ID         string     `json:"id"`
	ChannelKey string     `json:"channelKey"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Body       string     `json:"message"`
	SenderRole string     `json:"senderRole,omitempty"`
	SentAt     time.Time  `json:"timestamp"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
}

// UnmarshalJSON decodes a message, accepting the read flag either as a
// boolean or as the legacy string encoding "true"/"false" some clients
// still emit. Anything else counts as unread.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		Read json.RawMessage `json:"read"`
		*alias
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Read = parseReadFlag(aux.Read)
	return nil
}

func parseReadFlag(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "true"
	}
	return false
}

// ChannelSummary is the per-conversation roll-up kept alongside the
// message log. It always mirrors the latest message in the channel.
type ChannelSummary struct {
	ChannelKey   string    `json:"channelKey"`
	ParticipantA string    `json:"participantA"`
	ParticipantB string    `json:"participantB"`
	LastSenderID string    `json:"lastSenderId"`
	LastBody     string    `json:"lastMessage"`
	LastSentAt   time.Time `json:"lastTimestamp"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store defines the data access interface for conversations.
type Store interface {
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, channelKey string, limit int) ([]*Message, error)
	LastMessage(ctx context.Context, channelKey string) (*Message, error)

	// MarkRead flags every unread message addressed to readerID in the
	// channel as read. It is idempotent and returns the number of
	// messages that actually flipped.
	MarkRead(ctx context.Context, channelKey, readerID string) (int64, error)
	CountUnread(ctx context.Context, channelKey, receiverID string) (int64, error)

	GetChannel(ctx context.Context, channelKey string) (*ChannelSummary, error)
	ListChannelsFor(ctx context.Context, userID string) ([]*ChannelSummary, error)
}

// ChannelKey derives the canonical conversation key for two participants.
// The key is identical regardless of argument order.
func ChannelKey(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrEmptyParticipant
	}
	if a == b {
		return "", ErrSameParticipant
	}
	if strings.Contains(a, keySeparator) || strings.Contains(b, keySeparator) {
		return "", ErrInvalidParticipant
	}
	if a < b {
		return a + keySeparator + b, nil
	}
	return b + keySeparator + a, nil
}

// Participants splits a channel key back into its two participant IDs.
func Participants(channelKey string) (string, string, error) {
	a, b, ok := strings.Cut(channelKey, keySeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, keySeparator) {
		return "", "", ErrNotFound
	}
	return a, b, nil
}

// IsParticipant reports whether userID is one of the channel's two
// participants.
func IsParticipant(channelKey, userID string) bool {
	a, b, err := Participants(channelKey)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

// Counterpart returns the other participant of the channel relative to
// userID.
func Counterpart(channelKey, userID string) (string, error) {
	a, b, err := Participants(channelKey)
	if err != nil {
		return "", err
	}
	switch userID {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", ErrNotParticipant
	}
}
