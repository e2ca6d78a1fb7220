package presenceservice_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pairlink/pairlink/libbus"
	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/pairlink/pairlink/libtracker"
	"github.com/pairlink/pairlink/presenceservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPresence(t *testing.T) (context.Context, presenceservice.Service, *time.Time) {
	t.Helper()
	ctx := context.TODO()

	now := time.Now()
	kvManager := libkv.NewInMemManager().WithClock(func() time.Time { return now })

	bus := libbus.NewInMem()
	t.Cleanup(func() { bus.Close() })

	service := presenceservice.New(kvManager, bus)
	service = presenceservice.WithActivityTracker(service, libtracker.NoopTracker{})
	return ctx, service, &now
}

func waitForPresenceEvent(t *testing.T, ch <-chan []byte) presenceservice.Event {
	t.Helper()
	select {
	case data := <-ch:
		var event presenceservice.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence event")
		return presenceservice.Event{}
	}
}

func TestUnit_PresenceDefaultsToOffline(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.Equal(t, "doctor-1", status.UserID)
	assert.False(t, status.Online)
	assert.Nil(t, status.LastSeen)
}

func TestUnit_PresenceLifecycle(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Nil(t, status.LastSeen)
	assert.False(t, status.HeartbeatAt.IsZero())

	require.NoError(t, service.SetOffline(ctx, "doctor-1"))
	status, err = service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.False(t, status.Online)
	require.NotNil(t, status.LastSeen)
}

func TestUnit_GoingBackOnlineClearsLastSeen(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	require.NoError(t, service.SetOffline(ctx, "doctor-1"))
	require.NoError(t, service.SetOnline(ctx, "doctor-1"))

	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Nil(t, status.LastSeen)
}

func TestUnit_PresenceDegradesWhenHeartbeatsStop(t *testing.T) {
	ctx, service, now := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	*now = now.Add(presenceservice.LivenessTTL + time.Second)

	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.False(t, status.Online)
	require.NotNil(t, status.LastSeen)
	assert.Equal(t, status.HeartbeatAt, *status.LastSeen)
}

func TestUnit_HeartbeatKeepsUserOnline(t *testing.T) {
	ctx, service, now := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	*now = now.Add(10 * time.Second)
	require.NoError(t, service.Heartbeat(ctx, "doctor-1"))

	// 20s after SetOnline but only 10s after the last heartbeat.
	*now = now.Add(10 * time.Second)
	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.True(t, status.Online)
}

func TestUnit_HeartbeatBringsUnknownUserOnline(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	require.NoError(t, service.Heartbeat(ctx, "patient-9"))

	status, err := service.GetPresence(ctx, "patient-9")
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Nil(t, status.LastSeen)
}

func TestUnit_SweepDegradesStaleRecords(t *testing.T) {
	ctx, service, now := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	require.NoError(t, service.SetOnline(ctx, "patient-9"))

	events := make(chan []byte, 4)
	sub, err := service.SubscribePresence(ctx, "doctor-1", events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	*now = now.Add(presenceservice.LivenessTTL + time.Second)
	require.NoError(t, service.Heartbeat(ctx, "patient-9"))

	require.NoError(t, service.Sweep(ctx))

	status, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)
	assert.False(t, status.Online)
	require.NotNil(t, status.LastSeen)

	status, err = service.GetPresence(ctx, "patient-9")
	require.NoError(t, err)
	assert.True(t, status.Online)

	event := waitForPresenceEvent(t, events)
	assert.Equal(t, "doctor-1", event.UserID)
	assert.False(t, event.Online)
	require.NotNil(t, event.LastSeen)
}

func TestUnit_SweepIsIdempotent(t *testing.T) {
	ctx, service, now := setupPresence(t)

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	*now = now.Add(presenceservice.LivenessTTL + time.Second)

	require.NoError(t, service.Sweep(ctx))
	first, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)

	require.NoError(t, service.Sweep(ctx))
	second, err := service.GetPresence(ctx, "doctor-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestUnit_PresenceEventsBroadcast(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	events := make(chan []byte, 4)
	sub, err := service.SubscribePresence(ctx, "doctor-1", events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, service.SetOnline(ctx, "doctor-1"))
	event := waitForPresenceEvent(t, events)
	assert.True(t, event.Online)
	assert.Nil(t, event.LastSeen)

	require.NoError(t, service.SetOffline(ctx, "doctor-1"))
	event = waitForPresenceEvent(t, events)
	assert.False(t, event.Online)
	require.NotNil(t, event.LastSeen)
}

func TestUnit_PresenceRejectsEmptyUserID(t *testing.T) {
	ctx, service, _ := setupPresence(t)

	require.ErrorIs(t, service.SetOnline(ctx, ""), presenceservice.ErrEmptyUserID)
	require.ErrorIs(t, service.Heartbeat(ctx, ""), presenceservice.ErrEmptyUserID)
	require.ErrorIs(t, service.SetOffline(ctx, ""), presenceservice.ErrEmptyUserID)
	_, err := service.GetPresence(ctx, "")
	require.ErrorIs(t, err, presenceservice.ErrEmptyUserID)
}
