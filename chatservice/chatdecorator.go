package chatservice

import (
	"context"

	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Send(ctx context.Context, senderID, receiverID, body, senderRole string) (*chatstore.Message, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"send",
		"chat_message",
		"sender_id", senderID,
		"receiver_id", receiverID,
	)
	defer endFn()

	msg, err := d.service.Send(ctx, senderID, receiverID, body, senderRole)
	if err != nil {
		reportErrFn(err)
	} else {
		reportChangeFn(msg.ID, map[string]interface{}{
			"channel_key": msg.ChannelKey,
			"sender_id":   msg.SenderID,
		})
	}
	return msg, err
}

func (d *activityTrackerDecorator) ListMessages(ctx context.Context, userID, counterpartID string, limit int) ([]*chatstore.Message, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"chat_messages",
		"user_id", userID,
		"counterpart_id", counterpartID,
		"limit", limit,
	)
	defer endFn()

	msgs, err := d.service.ListMessages(ctx, userID, counterpartID, limit)
	if err != nil {
		reportErrFn(err)
	}
	return msgs, err
}

func (d *activityTrackerDecorator) LastMessage(ctx context.Context, userID, counterpartID string) (*chatstore.Message, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"get",
		"chat_last_message",
		"user_id", userID,
		"counterpart_id", counterpartID,
	)
	defer endFn()

	msg, err := d.service.LastMessage(ctx, userID, counterpartID)
	if err != nil {
		reportErrFn(err)
	}
	return msg, err
}

func (d *activityTrackerDecorator) MarkRead(ctx context.Context, userID, counterpartID string) (int64, error) {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"mark_read",
		"chat_messages",
		"user_id", userID,
		"counterpart_id", counterpartID,
	)
	defer endFn()

	flipped, err := d.service.MarkRead(ctx, userID, counterpartID)
	if err != nil {
		reportErrFn(err)
	} else if flipped > 0 {
		reportChangeFn(userID, map[string]interface{}{
			"counterpart_id": counterpartID,
			"flipped":        flipped,
		})
	}
	return flipped, err
}

func (d *activityTrackerDecorator) UnreadCount(ctx context.Context, userID, counterpartID string) (int64, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"count",
		"chat_unread",
		"user_id", userID,
		"counterpart_id", counterpartID,
	)
	defer endFn()

	count, err := d.service.UnreadCount(ctx, userID, counterpartID)
	if err != nil {
		reportErrFn(err)
	}
	return count, err
}

func (d *activityTrackerDecorator) ListChannels(ctx context.Context, userID string) ([]*chatstore.ChannelSummary, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"chat_channels",
		"user_id", userID,
	)
	defer endFn()

	channels, err := d.service.ListChannels(ctx, userID)
	if err != nil {
		reportErrFn(err)
	}
	return channels, err
}

func (d *activityTrackerDecorator) SubscribeToChannel(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error) {
	return d.service.SubscribeToChannel(ctx, userID, counterpartID, ch)
}

// WithActivityTracker wraps a Service so every operation reports to tracker.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
