package notificationservice_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pairlink/pairlink/libtracker"
	"github.com/pairlink/pairlink/notificationservice"
	"github.com/pairlink/pairlink/rosterservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []notificationservice.Notification
	dismissed []string
}

func (s *captureSink) Deliver(notification notificationservice.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, notification)
}

func (s *captureSink) Dismiss(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = append(s.dismissed, tag)
}

func (s *captureSink) deliveredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func (s *captureSink) dismissedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dismissed)
}

func (s *captureSink) lastDelivered(t *testing.T) notificationservice.Notification {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.delivered)
	return s.delivered[len(s.delivered)-1]
}

func testRoster() rosterservice.Service {
	return rosterservice.NewStatic(map[string][]rosterservice.Entry{
		"patient-9": {
			{ID: "doctor-1", DisplayName: "Dr. Okafor", Role: "doctor"},
		},
	})
}

func setupDispatcher(t *testing.T, opts ...notificationservice.Option) (*captureSink, notificationservice.Service) {
	t.Helper()
	sink := &captureSink{}
	service := notificationservice.New(sink, testRoster(), "patient-9", nil, opts...)
	service = notificationservice.WithActivityTracker(service, libtracker.NoopTracker{})
	t.Cleanup(service.Close)
	service.ResolvePermission(true)
	return sink, service
}

func TestUnit_DispatchShapesAlert(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t)

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID:   "doctor-1",
		ReceiverID: "patient-9",
		Body:       "  your results are in  ",
	})

	require.Equal(t, 1, sink.deliveredCount())
	notification := sink.lastDelivered(t)
	assert.Equal(t, "chat-doctor-1", notification.Tag)
	assert.Equal(t, "Dr. Okafor", notification.Title)
	assert.Equal(t, "your results are in", notification.Body)
	assert.Equal(t, "/chat?counterpart=doctor-1", notification.DeepLink)
}

func TestUnit_DispatchFallbacks(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t)

	// Sender not on the roster, blank body.
	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID:   "doctor-99",
		ReceiverID: "patient-9",
		Body:       "   ",
	})

	notification := sink.lastDelivered(t)
	assert.Equal(t, "Someone", notification.Title)
	assert.Equal(t, "New message", notification.Body)
}

func TestUnit_DispatchIgnoresForeignReceiver(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t)

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID:   "doctor-1",
		ReceiverID: "patient-7",
		Body:       "hi",
	})

	assert.Zero(t, sink.deliveredCount())
}

func TestUnit_SuppressedOnlyWhenActiveAndFocused(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t)
	incoming := notificationservice.Incoming{
		SenderID:   "doctor-1",
		ReceiverID: "patient-9",
		Body:       "hi",
	}

	service.SetFocused(true)
	service.SetActiveCounterpart("doctor-1")
	service.Dispatch(ctx, incoming)
	assert.Zero(t, sink.deliveredCount())

	// Same conversation but the surface lost focus.
	service.SetFocused(false)
	service.Dispatch(ctx, incoming)
	assert.Equal(t, 1, sink.deliveredCount())

	// Focused but a different conversation on screen.
	service.SetFocused(true)
	service.SetActiveCounterpart("doctor-2")
	service.Dispatch(ctx, incoming)
	assert.Equal(t, 2, sink.deliveredCount())
}

func TestUnit_UndecidedPermissionQueuesLatestDispatch(t *testing.T) {
	ctx := context.TODO()
	sink := &captureSink{}
	var requests int
	service := notificationservice.New(sink, testRoster(), "patient-9", func() { requests++ })
	t.Cleanup(service.Close)

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "first",
	})
	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "second",
	})

	assert.Equal(t, 1, requests)
	assert.Zero(t, sink.deliveredCount())

	service.ResolvePermission(true)
	require.Equal(t, 1, sink.deliveredCount())
	assert.Equal(t, "second", sink.lastDelivered(t).Body)

	// Granted now, later dispatches go straight through.
	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "third",
	})
	assert.Equal(t, 1, requests)
	assert.Equal(t, 2, sink.deliveredCount())
}

func TestUnit_DeniedPermissionDropsSilently(t *testing.T) {
	ctx := context.TODO()
	sink := &captureSink{}
	service := notificationservice.New(sink, testRoster(), "patient-9", nil)
	t.Cleanup(service.Close)

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "queued",
	})
	service.ResolvePermission(false)
	assert.Zero(t, sink.deliveredCount())

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "after denial",
	})
	assert.Zero(t, sink.deliveredCount())
}

func TestUnit_AutoDismissAfterDelay(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t, notificationservice.WithAutoDismissDelay(30*time.Millisecond))

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "hi",
	})

	require.Eventually(t, func() bool {
		return sink.dismissedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Equal(t, "chat-doctor-1", sink.dismissed[0])
	sink.mu.Unlock()
}

func TestUnit_NewerAlertRearmsDismissTimer(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t, notificationservice.WithAutoDismissDelay(100*time.Millisecond))
	incoming := notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "hi",
	}

	service.Dispatch(ctx, incoming)
	time.Sleep(60 * time.Millisecond)
	service.Dispatch(ctx, incoming)

	// The first timer would have fired by now; the redelivery replaced it.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, sink.dismissedCount())

	require.Eventually(t, func() bool {
		return sink.dismissedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnit_CloseStopsTimers(t *testing.T) {
	ctx := context.TODO()
	sink, service := setupDispatcher(t, notificationservice.WithAutoDismissDelay(20*time.Millisecond))

	service.Dispatch(ctx, notificationservice.Incoming{
		SenderID: "doctor-1", ReceiverID: "patient-9", Body: "hi",
	})
	service.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, sink.dismissedCount())
}
