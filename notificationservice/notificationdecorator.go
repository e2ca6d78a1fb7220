package notificationservice

import (
	"context"

	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Dispatch(ctx context.Context, incoming Incoming) {
	_, _, endFn := d.tracker.Start(
		ctx,
		"dispatch",
		"notification",
		"sender_id", incoming.SenderID,
		"receiver_id", incoming.ReceiverID,
	)
	defer endFn()

	d.service.Dispatch(ctx, incoming)
}

func (d *activityTrackerDecorator) ResolvePermission(granted bool) {
	d.service.ResolvePermission(granted)
}

func (d *activityTrackerDecorator) SetFocused(focused bool) {
	d.service.SetFocused(focused)
}

func (d *activityTrackerDecorator) SetActiveCounterpart(counterpartID string) {
	d.service.SetActiveCounterpart(counterpartID)
}

func (d *activityTrackerDecorator) Close() {
	d.service.Close()
}

// WithActivityTracker wraps a Service so dispatches report to tracker.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
