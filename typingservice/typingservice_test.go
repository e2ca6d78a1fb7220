package typingservice_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libbus"
	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/pairlink/pairlink/libtracker"
	"github.com/pairlink/pairlink/typingservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTyping(t *testing.T) (context.Context, typingservice.Service, *time.Time) {
	t.Helper()
	ctx := context.TODO()

	now := time.Now()
	kvManager := libkv.NewInMemManager().WithClock(func() time.Time { return now })

	bus := libbus.NewInMem()
	t.Cleanup(func() { bus.Close() })

	service := typingservice.New(kvManager, bus)
	service = typingservice.WithActivityTracker(service, libtracker.NoopTracker{})
	return ctx, service, &now
}

func TestUnit_TypingFlagRoundTrip(t *testing.T) {
	ctx, service, _ := setupTyping(t)

	typing, err := service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.False(t, typing)

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", true))

	// The patient sees the doctor typing; the doctor does not see themselves.
	typing, err = service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.True(t, typing)

	typing, err = service.IsTyping(ctx, "doctor-1", "patient-9")
	require.NoError(t, err)
	assert.False(t, typing)

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", false))
	typing, err = service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestUnit_TypingFlagExpiresWithoutRefresh(t *testing.T) {
	ctx, service, now := setupTyping(t)

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", true))

	*now = now.Add(typingservice.FlagTTL - time.Millisecond)
	typing, err := service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.True(t, typing)

	*now = now.Add(2 * time.Millisecond)
	typing, err = service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.False(t, typing, "flag must clear on its own after the TTL")
}

func TestUnit_TypingRefreshExtendsTTL(t *testing.T) {
	ctx, service, now := setupTyping(t)

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", true))

	*now = now.Add(2 * time.Second)
	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", true))

	*now = now.Add(2 * time.Second)
	typing, err := service.IsTyping(ctx, "patient-9", "doctor-1")
	require.NoError(t, err)
	assert.True(t, typing, "refresh must restart the TTL")
}

func TestUnit_TypingEventsBroadcast(t *testing.T) {
	ctx, service, _ := setupTyping(t)

	events := make(chan []byte, 4)
	sub, err := service.SubscribeTyping(ctx, "patient-9", "doctor-1", events)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", true))

	select {
	case data := <-events:
		var event typingservice.TypingEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "doctor-1", event.UserID)
		assert.Equal(t, "doctor-1_patient-9", event.ChannelKey)
		assert.True(t, event.Typing)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for typing event")
	}

	require.NoError(t, service.SetTyping(ctx, "doctor-1", "patient-9", false))

	select {
	case data := <-events:
		var event typingservice.TypingEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.False(t, event.Typing)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop-typing event")
	}
}

func TestUnit_TypingRejectsSelfChannel(t *testing.T) {
	ctx, service, _ := setupTyping(t)

	err := service.SetTyping(ctx, "doctor-1", "doctor-1", true)
	assert.ErrorIs(t, err, chatstore.ErrSameParticipant)
}
