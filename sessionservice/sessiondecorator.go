package sessionservice

import (
	"context"

	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) Start(ctx context.Context) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"start",
		"chat_session",
	)
	defer endFn()

	err := d.service.Start(ctx)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) SelectCounterpart(ctx context.Context, counterpartID string) error {
	reportErrFn, reportChangeFn, endFn := d.tracker.Start(
		ctx,
		"select",
		"chat_session",
		"counterpart_id", counterpartID,
	)
	defer endFn()

	err := d.service.SelectCounterpart(ctx, counterpartID)
	if err != nil {
		reportErrFn(err)
		return err
	}
	reportChangeFn(counterpartID, nil)
	return nil
}

func (d *activityTrackerDecorator) SendMessage(ctx context.Context, text string) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"send",
		"chat_session",
	)
	defer endFn()

	err := d.service.SendMessage(ctx, text)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) ChangeInput(ctx context.Context, text string) error {
	return d.service.ChangeInput(ctx, text)
}

func (d *activityTrackerDecorator) MarkVisible(ctx context.Context, visible bool) error {
	return d.service.MarkVisible(ctx, visible)
}

func (d *activityTrackerDecorator) RefreshRoster(ctx context.Context) error {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"refresh_roster",
		"chat_session",
	)
	defer endFn()

	err := d.service.RefreshRoster(ctx)
	if err != nil {
		reportErrFn(err)
	}
	return err
}

func (d *activityTrackerDecorator) Snapshot() Snapshot {
	return d.service.Snapshot()
}

func (d *activityTrackerDecorator) Close() error {
	return d.service.Close()
}

// WithActivityTracker wraps a Service so session operations report to
// tracker. The high-frequency input and visibility paths pass through.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
