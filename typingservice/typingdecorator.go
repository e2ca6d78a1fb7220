package typingservice

import (
	"context"

	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) SetTyping(ctx context.Context, userID, counterpartID string, typing bool) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"set",
		"typing_flag",
		"user_id", userID,
		"counterpart_id", counterpartID,
		"typing", typing,
	)
	defer endFn()

	err := d.service.SetTyping(ctx, userID, counterpartID, typing)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) IsTyping(ctx context.Context, userID, counterpartID string) (bool, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"get",
		"typing_flag",
		"user_id", userID,
		"counterpart_id", counterpartID,
	)
	defer endFn()

	typing, err := d.service.IsTyping(ctx, userID, counterpartID)
	if err != nil {
		reportErrFn(err)
	}
	return typing, err
}

func (d *activityTrackerDecorator) SubscribeTyping(ctx context.Context, userID, counterpartID string, ch chan<- []byte) (Subscription, error) {
	return d.service.SubscribeTyping(ctx, userID, counterpartID, ch)
}

// WithActivityTracker wraps a Service so every operation reports to tracker.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
