// Package presenceservice tracks whether users are reachable. A user's
// presence is a KV record paired with a short-lived liveness key the
// client refreshes via heartbeats. When the heartbeats stop the liveness
// key expires and the sweep degrades the record to offline, so a crashed
// client never stays online forever.
package presenceservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pairlink/pairlink/libbus"
	"github.com/pairlink/pairlink/libkvstore"
)

// LivenessTTL is how long a user stays online without a heartbeat.
const LivenessTTL = 15 * time.Second

var ErrEmptyUserID = errors.New("presenceservice: user id is empty")

// Status is the presence of one user. Online users carry no LastSeen;
// LastSeen is only meaningful once the user goes offline.
type Status struct {
	UserID      string     `json:"userId"`
	Online      bool       `json:"online"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
	HeartbeatAt time.Time  `json:"heartbeatAt"`
}

// Event is the payload published on a presence subject on every
// transition.
type Event struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
	At       time.Time  `json:"at"`
}

// Subscription is a live presence stream registration.
type Subscription interface {
	Unsubscribe() error
}

// Service reads and writes user presence.
type Service interface {
	// SetOnline marks userID online and arms its liveness window.
	SetOnline(ctx context.Context, userID string) error
	// Heartbeat extends the liveness window. A heartbeat for a user that
	// is not online brings them online.
	Heartbeat(ctx context.Context, userID string) error
	// SetOffline marks userID offline with the current time as LastSeen.
	SetOffline(ctx context.Context, userID string) error
	// GetPresence returns the user's presence. Unknown users are offline
	// with no LastSeen.
	GetPresence(ctx context.Context, userID string) (Status, error)
	// Sweep degrades every online record whose liveness window has
	// lapsed to offline, using the last heartbeat as LastSeen.
	Sweep(ctx context.Context) error
	// SubscribePresence streams raw Event payloads for userID into ch.
	SubscribePresence(ctx context.Context, userID string, ch chan<- []byte) (Subscription, error)
}

type service struct {
	kvManager libkvstore.KVManager
	messenger libbus.Messenger
}

// New creates a presence service on top of kvManager and messenger.
func New(kvManager libkvstore.KVManager, messenger libbus.Messenger) Service {
	return &service{kvManager: kvManager, messenger: messenger}
}

// PresenceSubject is the bus subject carrying Events for one user.
func PresenceSubject(userID string) string {
	return fmt.Sprintf("chat.presence.%s", userID)
}

func recordKey(userID string) string {
	return fmt.Sprintf("chat:presence:%s", userID)
}

func livenessKey(userID string) string {
	return recordKey(userID) + ":live"
}

func (s *service) SetOnline(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := Status{UserID: userID, Online: true, HeartbeatAt: now}
	if err := s.writeStatus(ctx, kv, status); err != nil {
		return err
	}
	if err := kv.SetWithTTL(ctx, livenessKey(userID), []byte("1"), LivenessTTL); err != nil {
		return fmt.Errorf("failed to arm liveness key: %w", err)
	}

	s.publish(ctx, Event{UserID: userID, Online: true, At: now})
	return nil
}

func (s *service) Heartbeat(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return err
	}

	status, err := s.readStatus(ctx, kv, userID)
	if err != nil {
		return err
	}
	if !status.Online {
		return s.SetOnline(ctx, userID)
	}

	status.HeartbeatAt = time.Now().UTC()
	if err := s.writeStatus(ctx, kv, status); err != nil {
		return err
	}
	if err := kv.SetWithTTL(ctx, livenessKey(userID), []byte("1"), LivenessTTL); err != nil {
		return fmt.Errorf("failed to refresh liveness key: %w", err)
	}
	return nil
}

func (s *service) SetOffline(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	status := Status{UserID: userID, Online: false, LastSeen: &now}
	if err := s.writeStatus(ctx, kv, status); err != nil {
		return err
	}
	if err := kv.Delete(ctx, livenessKey(userID)); err != nil {
		return fmt.Errorf("failed to drop liveness key: %w", err)
	}

	s.publish(ctx, Event{UserID: userID, Online: false, LastSeen: &now, At: now})
	return nil
}

func (s *service) GetPresence(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, ErrEmptyUserID
	}
	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return Status{}, err
	}

	status, err := s.readStatus(ctx, kv, userID)
	if err != nil {
		return Status{}, err
	}
	if !status.Online {
		return status, nil
	}

	// An online record with a lapsed liveness window reads as offline
	// even before the sweep has caught up with it.
	alive, err := kv.Exists(ctx, livenessKey(userID))
	if err != nil {
		return Status{}, err
	}
	if !alive {
		lastSeen := status.HeartbeatAt
		return Status{UserID: userID, Online: false, LastSeen: &lastSeen, HeartbeatAt: status.HeartbeatAt}, nil
	}
	return status, nil
}

func (s *service) Sweep(ctx context.Context) error {
	kv, err := s.kvManager.Executor(ctx)
	if err != nil {
		return err
	}

	keys, err := kv.Keys(ctx, "chat:presence:*")
	if err != nil {
		return fmt.Errorf("failed to list presence keys: %w", err)
	}

	for _, key := range keys {
		if strings.HasSuffix(key, ":live") {
			continue
		}
		userID := strings.TrimPrefix(key, "chat:presence:")

		status, err := s.readStatus(ctx, kv, userID)
		if err != nil {
			return err
		}
		if !status.Online {
			continue
		}

		alive, err := kv.Exists(ctx, livenessKey(userID))
		if err != nil {
			return err
		}
		if alive {
			continue
		}

		lastSeen := status.HeartbeatAt
		status.Online = false
		status.LastSeen = &lastSeen
		if err := s.writeStatus(ctx, kv, status); err != nil {
			return err
		}
		s.publish(ctx, Event{UserID: userID, Online: false, LastSeen: &lastSeen, At: time.Now().UTC()})
	}
	return nil
}

func (s *service) SubscribePresence(ctx context.Context, userID string, ch chan<- []byte) (Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	return s.messenger.Stream(ctx, PresenceSubject(userID), ch)
}

func (s *service) readStatus(ctx context.Context, kv libkvstore.KVExec, userID string) (Status, error) {
	data, err := kv.Get(ctx, recordKey(userID))
	if err != nil {
		if errors.Is(err, libkvstore.ErrNotFound) {
			return Status{UserID: userID, Online: false}, nil
		}
		return Status{}, fmt.Errorf("failed to read presence record: %w", err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("failed to decode presence record: %w", err)
	}
	return status, nil
}

func (s *service) writeStatus(ctx context.Context, kv libkvstore.KVExec, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode presence record: %w", err)
	}
	if err := kv.Set(ctx, recordKey(status.UserID), data); err != nil {
		return fmt.Errorf("failed to write presence record: %w", err)
	}
	return nil
}

// publish broadcasts the event synchronously so online and offline
// transitions arrive in the order they happened.
func (s *service) publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal presence event", "user_id", event.UserID, "error", err)
		return
	}
	if err := s.messenger.Publish(ctx, PresenceSubject(event.UserID), data); err != nil {
		slog.Error("failed to publish presence event", "user_id", event.UserID, "error", err)
	}
}
