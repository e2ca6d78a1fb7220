package notificationservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pairlink/pairlink/libbus"
)

// Sink event kinds as published on a user's notify subject.
const (
	SinkEventDeliver = "deliver"
	SinkEventDismiss = "dismiss"
)

// SinkEvent is the wire form of a sink call. Clients render Deliver events
// and withdraw the alert with the matching tag on Dismiss.
type SinkEvent struct {
	Kind         string        `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	Tag          string        `json:"tag,omitempty"`
}

// NotifySubject is the bus subject carrying one user's SinkEvents.
func NotifySubject(userID string) string {
	return fmt.Sprintf("chat.notify.%s", userID)
}

type busSink struct {
	messenger libbus.Messenger
	userID    string
}

// NewBusSink returns a Sink that publishes alerts on the user's notify
// subject. In server mode the host UI consumes them over SSE.
func NewBusSink(messenger libbus.Messenger, userID string) Sink {
	return &busSink{messenger: messenger, userID: userID}
}

func (s *busSink) Deliver(notification Notification) {
	s.publish(SinkEvent{Kind: SinkEventDeliver, Notification: &notification, Tag: notification.Tag})
}

func (s *busSink) Dismiss(tag string) {
	s.publish(SinkEvent{Kind: SinkEventDismiss, Tag: tag})
}

// publish broadcasts synchronously so a dismiss cannot overtake the
// deliver it withdraws.
func (s *busSink) publish(event SinkEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal notification event", "user_id", s.userID, "error", err)
		return
	}
	if err := s.messenger.Publish(context.Background(), NotifySubject(s.userID), data); err != nil {
		slog.Error("failed to publish notification event", "user_id", s.userID, "error", err)
	}
}
