package sessionservice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pairlink/pairlink/chatservice"
	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/libbus"
	libdb "github.com/pairlink/pairlink/libdbexec"
	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/pairlink/pairlink/libtracker"
	"github.com/pairlink/pairlink/notificationservice"
	"github.com/pairlink/pairlink/presenceservice"
	"github.com/pairlink/pairlink/rosterservice"
	"github.com/pairlink/pairlink/sessionservice"
	"github.com/pairlink/pairlink/typingservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	ctx      context.Context
	chat     chatservice.Service
	typing   typingservice.Service
	presence presenceservice.Service
	roster   rosterservice.Service
}

type captureSink struct {
	mu        sync.Mutex
	delivered []notificationservice.Notification
}

func (s *captureSink) Deliver(notification notificationservice.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, notification)
}

func (s *captureSink) Dismiss(string) {}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.TODO()

	db, err := libdb.NewSQLiteDBManager(ctx, ":memory:", chatstore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	bus := libbus.NewInMem()
	t.Cleanup(func() { bus.Close() })
	kvManager := libkv.NewInMemManager()

	roster := rosterservice.NewStatic(map[string][]rosterservice.Entry{
		"patient-9": {
			{ID: "doctor-1", DisplayName: "Dr. Okafor", Role: "doctor"},
			{ID: "doctor-2", DisplayName: "Dr. Tanaka", Role: "doctor"},
		},
		"doctor-1": {
			{ID: "patient-9", DisplayName: "Ada Obi", Role: "patient"},
		},
		"doctor-2": {
			{ID: "patient-9", DisplayName: "Ada Obi", Role: "patient"},
		},
	})

	return &stack{
		ctx:      ctx,
		chat:     chatservice.New(db, bus),
		typing:   typingservice.New(kvManager, bus),
		presence: presenceservice.New(kvManager, bus),
		roster:   roster,
	}
}

func newSession(t *testing.T, s *stack, selfID, selfRole string) (sessionservice.Service, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	notifier := notificationservice.New(sink, s.roster, selfID, nil)
	notifier.ResolvePermission(true)

	session := sessionservice.New(selfID, selfRole, s.chat, s.typing, s.presence, s.roster, notifier, nil)
	session = sessionservice.WithActivityTracker(session, libtracker.NoopTracker{})
	t.Cleanup(func() { session.Close() })
	require.NoError(t, session.Start(s.ctx))
	return session, sink
}

func TestUnit_SelectLoadsWindowAndMarksRead(t *testing.T) {
	s := setupStack(t)
	_, err := s.chat.Send(s.ctx, "doctor-1", "patient-9", "your results are in", "doctor")
	require.NoError(t, err)
	_, err = s.chat.Send(s.ctx, "doctor-1", "patient-9", "call me back", "doctor")
	require.NoError(t, err)

	session, _ := newSession(t, s, "patient-9", "patient")

	require.Eventually(t, func() bool {
		return session.Snapshot().Unread["doctor-1"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, session.MarkVisible(s.ctx, true))
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	snapshot := session.Snapshot()
	require.Len(t, snapshot.Messages, 2)
	assert.Equal(t, "your results are in", snapshot.Messages[0].Body)
	wantKey, err := chatstore.ChannelKey("patient-9", "doctor-1")
	require.NoError(t, err)
	assert.Equal(t, wantKey, snapshot.ChannelKey)

	// The debounced read receipt settles the unread count to zero.
	require.Eventually(t, func() bool {
		return session.Snapshot().Unread["doctor-1"] == 0
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		snapshot := session.Snapshot()
		return len(snapshot.Messages) == 2 && snapshot.Messages[0].Read && snapshot.Messages[1].Read
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnit_SelectPreconditions(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")

	require.ErrorIs(t, session.SelectCounterpart(s.ctx, ""), chatstore.ErrEmptyParticipant)
	require.ErrorIs(t, session.SelectCounterpart(s.ctx, "patient-9"), chatstore.ErrSameParticipant)
	require.ErrorIs(t, session.SelectCounterpart(s.ctx, "stranger"), rosterservice.ErrNotFound)
}

func TestUnit_SendMessageClearsInput(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	require.NoError(t, session.ChangeInput(s.ctx, "hello doctor"))
	assert.Equal(t, "hello doctor", session.Snapshot().Input)

	require.NoError(t, session.SendMessage(s.ctx, "hello doctor"))
	assert.Empty(t, session.Snapshot().Input)

	msgs, err := s.chat.ListMessages(s.ctx, "doctor-1", "patient-9", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello doctor", msgs[0].Body)
	assert.Equal(t, "patient", msgs[0].SenderRole)
}

func TestUnit_SendMessagePreconditions(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")

	require.ErrorIs(t, session.SendMessage(s.ctx, "hello"), sessionservice.ErrNoCounterpartSelected)

	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))
	require.NoError(t, session.ChangeInput(s.ctx, "   "))

	// Blank text is a silent no-op, not an error.
	require.NoError(t, session.SendMessage(s.ctx, "   "))
	msgs, err := s.chat.ListMessages(s.ctx, "patient-9", "doctor-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

type failingChat struct {
	chatservice.Service
	mu   sync.Mutex
	fail bool
}

func (f *failingChat) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *failingChat) Send(ctx context.Context, senderID, receiverID, body, senderRole string) (*chatstore.Message, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connectivity lost")
	}
	return f.Service.Send(ctx, senderID, receiverID, body, senderRole)
}

func TestUnit_SendFailurePreservesInput(t *testing.T) {
	s := setupStack(t)
	flaky := &failingChat{Service: s.chat}
	s.chat = flaky
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	require.NoError(t, session.ChangeInput(s.ctx, "important question"))
	flaky.setFail(true)

	err := session.SendMessage(s.ctx, "important question")
	require.Error(t, err)
	assert.Equal(t, "important question", session.Snapshot().Input)

	// Retry after connectivity returns, without retyping.
	flaky.setFail(false)
	require.NoError(t, session.SendMessage(s.ctx, session.Snapshot().Input))
	assert.Empty(t, session.Snapshot().Input)
}

func TestUnit_ChangeInputDrivesTypingFlag(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	require.NoError(t, session.ChangeInput(s.ctx, "h"))
	typing, err := s.typing.IsTyping(s.ctx, "doctor-1", "patient-9")
	require.NoError(t, err)
	assert.True(t, typing)

	require.NoError(t, session.ChangeInput(s.ctx, ""))
	typing, err = s.typing.IsTyping(s.ctx, "doctor-1", "patient-9")
	require.NoError(t, err)
	assert.False(t, typing)
}

func TestUnit_TypingIndicatorHysteresis(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	require.NoError(t, s.typing.SetTyping(s.ctx, "doctor-1", "patient-9", true))
	require.Eventually(t, func() bool {
		return session.Snapshot().CounterpartTyping
	}, 2*time.Second, 10*time.Millisecond)

	// A stop signal shortly after must not flicker the indicator off.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.typing.SetTyping(s.ctx, "doctor-1", "patient-9", false))
	time.Sleep(500 * time.Millisecond)
	assert.True(t, session.Snapshot().CounterpartTyping)

	require.Eventually(t, func() bool {
		return !session.Snapshot().CounterpartTyping
	}, 3*time.Second, 20*time.Millisecond)
}

type vanishingTyping struct {
	typingservice.Service
	mu       sync.Mutex
	vanished bool
}

func (v *vanishingTyping) vanish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vanished = true
}

func (v *vanishingTyping) IsTyping(ctx context.Context, userID, counterpartID string) (bool, error) {
	v.mu.Lock()
	vanished := v.vanished
	v.mu.Unlock()
	if vanished {
		return false, nil
	}
	return v.Service.IsTyping(ctx, userID, counterpartID)
}

func TestUnit_TypingIndicatorClearsAfterTypistVanishes(t *testing.T) {
	s := setupStack(t)
	typing := &vanishingTyping{Service: s.typing}
	s.typing = typing
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	require.NoError(t, s.typing.SetTyping(s.ctx, "doctor-1", "patient-9", true))
	require.Eventually(t, func() bool {
		return session.Snapshot().CounterpartTyping
	}, 2*time.Second, 10*time.Millisecond)

	// The typist's process dies: the flag lapses in the store and no stop
	// event is ever published. The indicator must still clear.
	typing.vanish()
	require.Eventually(t, func() bool {
		return !session.Snapshot().CounterpartTyping
	}, sessionservice.TypingRecheckInterval+2*time.Second, 50*time.Millisecond)
}

func TestUnit_UnreadMapCoversWholeRoster(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")

	_, err := s.chat.Send(s.ctx, "doctor-1", "patient-9", "first", "doctor")
	require.NoError(t, err)
	_, err = s.chat.Send(s.ctx, "doctor-1", "patient-9", "second", "doctor")
	require.NoError(t, err)
	_, err = s.chat.Send(s.ctx, "doctor-2", "patient-9", "checkup due", "doctor")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		unread := session.Snapshot().Unread
		return unread["doctor-1"] == 2 && unread["doctor-2"] == 1
	}, 3*time.Second, 20*time.Millisecond)

	// Own outgoing messages never count as unread.
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-2"))
	require.NoError(t, session.SendMessage(s.ctx, "booked for monday"))
	require.Eventually(t, func() bool {
		return session.Snapshot().Unread["doctor-2"] == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnit_NotificationSuppressionFollowsActiveChannel(t *testing.T) {
	s := setupStack(t)
	session, sink := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.MarkVisible(s.ctx, true))
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))

	// Active conversation on a focused surface: no alert.
	_, err := s.chat.Send(s.ctx, "doctor-1", "patient-9", "how are you", "doctor")
	require.NoError(t, err)
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, sink.count())

	// Same sender, but a different conversation is on screen now.
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-2"))
	_, err = s.chat.Send(s.ctx, "doctor-1", "patient-9", "still there?", "doctor")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	notification := sink.delivered[0]
	sink.mu.Unlock()
	assert.Equal(t, "Dr. Okafor", notification.Title)
	assert.Equal(t, "chat-doctor-1", notification.Tag)
	assert.Equal(t, "/chat?counterpart=doctor-1", notification.DeepLink)
}

func TestUnit_SwitchCancelsStaleMarkRead(t *testing.T) {
	s := setupStack(t)
	_, err := s.chat.Send(s.ctx, "doctor-1", "patient-9", "unread note", "doctor")
	require.NoError(t, err)

	session, _ := newSession(t, s, "patient-9", "patient")
	require.Eventually(t, func() bool {
		return session.Snapshot().Unread["doctor-1"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Switch away before the select debounce fires; the stale timer must
	// not acknowledge doctor-1's message.
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-2"))

	time.Sleep(sessionservice.SelectMarkReadDelay + 300*time.Millisecond)
	assert.Equal(t, int64(1), session.Snapshot().Unread["doctor-1"])
}

func TestUnit_RevisionAdvancesOnAppend(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")
	require.NoError(t, session.SelectCounterpart(s.ctx, "doctor-1"))
	before := session.Snapshot().Revision

	_, err := s.chat.Send(s.ctx, "doctor-1", "patient-9", "ping", "doctor")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot := session.Snapshot()
		return snapshot.Revision > before && len(snapshot.Messages) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUnit_SessionLifecyclePublishesPresence(t *testing.T) {
	s := setupStack(t)
	session, _ := newSession(t, s, "patient-9", "patient")

	status, err := s.presence.GetPresence(s.ctx, "patient-9")
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Nil(t, status.LastSeen)

	require.NoError(t, session.Close())

	status, err = s.presence.GetPresence(s.ctx, "patient-9")
	require.NoError(t, err)
	assert.False(t, status.Online)
	require.NotNil(t, status.LastSeen)

	require.ErrorIs(t, session.SendMessage(s.ctx, "too late"), sessionservice.ErrSessionClosed)
	require.ErrorIs(t, session.SelectCounterpart(s.ctx, "doctor-1"), sessionservice.ErrSessionClosed)
}

func TestUnit_BasicExchangeBetweenTwoSessions(t *testing.T) {
	s := setupStack(t)
	doctor, _ := newSession(t, s, "doctor-1", "doctor")
	patient, _ := newSession(t, s, "patient-9", "patient")

	require.NoError(t, doctor.SelectCounterpart(s.ctx, "patient-9"))
	require.NoError(t, doctor.SendMessage(s.ctx, "Hello"))

	require.Eventually(t, func() bool {
		return patient.Snapshot().Unread["doctor-1"] == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, patient.MarkVisible(s.ctx, true))
	require.NoError(t, patient.SelectCounterpart(s.ctx, "doctor-1"))

	// The read receipt propagates back to the sender's window.
	require.Eventually(t, func() bool {
		snapshot := doctor.Snapshot()
		return len(snapshot.Messages) == 1 && snapshot.Messages[0].Read
	}, 3*time.Second, 20*time.Millisecond)
}
