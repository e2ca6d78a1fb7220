package rosterservice

import (
	"context"

	"github.com/pairlink/pairlink/libtracker"
)

// activityTrackerDecorator implements Service with activity tracking
type activityTrackerDecorator struct {
	service Service
	tracker libtracker.ActivityTracker
}

func (d *activityTrackerDecorator) ListCounterparts(ctx context.Context, selfID string) ([]Counterpart, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"list",
		"roster",
		"self_id", selfID,
	)
	defer endFn()

	counterparts, err := d.service.ListCounterparts(ctx, selfID)
	if err != nil {
		reportErrFn(err)
	}
	return counterparts, err
}

func (d *activityTrackerDecorator) GetCounterpart(ctx context.Context, selfID, counterpartID string) (Counterpart, error) {
	reportErrFn, _, endFn := d.tracker.Start(
		ctx,
		"get",
		"roster",
		"self_id", selfID,
		"counterpart_id", counterpartID,
	)
	defer endFn()

	counterpart, err := d.service.GetCounterpart(ctx, selfID, counterpartID)
	if err != nil {
		reportErrFn(err)
	}
	return counterpart, err
}

// WithActivityTracker wraps a Service so every operation reports to tracker.
func WithActivityTracker(service Service, tracker libtracker.ActivityTracker) Service {
	return &activityTrackerDecorator{service: service, tracker: tracker}
}

var _ Service = (*activityTrackerDecorator)(nil)
