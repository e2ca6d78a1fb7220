package presenceservice

import (
	"context"

	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) SetOnline(ctx context.Context, userID string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"online",
		"presence",
		"user_id", userID,
	)
	defer endFn()

	err := d.service.SetOnline(ctx, userID)
	if err != nil {
		reportErrFn(err)
		return err
	}
	reportChangeFn(userID, map[string]interface{}{"online": true})
	return nil
}

func (d *activityTrackerDecorator) Heartbeat(ctx context.Context, userID string) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"heartbeat",
		"presence",
		"user_id", userID,
	)
	defer endFn()

	err := d.service.Heartbeat(ctx, userID)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) SetOffline(ctx context.Context, userID string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"offline",
		"presence",
		"user_id", userID,
	)
	defer endFn()

	err := d.service.SetOffline(ctx, userID)
	if err != nil {
		reportErrFn(err)
		return err
	}
	reportChangeFn(userID, map[string]interface{}{"online": false})
	return nil
}

func (d *activityTrackerDecorator) GetPresence(ctx context.Context, userID string) (Status, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"get",
		"presence",
		"user_id", userID,
	)
	defer endFn()

	status, err := d.service.GetPresence(ctx, userID)
	if err != nil {
		reportErrFn(err)
	}
	return status, err
}

func (d *activityTrackerDecorator) Sweep(ctx context.Context) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"sweep",
		"presence",
	)
	defer endFn()

	err := d.service.Sweep(ctx)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) SubscribePresence(ctx context.Context, userID string, ch chan<- []byte) (Subscription, error) {
	return d.service.SubscribePresence(ctx, userID, ch)
}

// WithActivityTracker wraps a Service so every operation reports to tracker.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
