// Package sessionapi binds a UI to per-user chat sessions. Sessions are
// created lazily on first use and live until explicitly closed; the
// `GET /chat` deep link is the host-side half of a notification action.
package sessionapi

import (
	"fmt"
	"net/http"
	"sync"

	serverops "github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/libauth"
	"github.com/pairlink/pairlink/libbus"
	"github.com/pairlink/pairlink/notificationservice"
	"github.com/pairlink/pairlink/sessionservice"
)

// SessionFactory builds a ready-to-start session for one authenticated
// user, along with the notification dispatcher the session feeds. The
// server wires the concrete services in.
type SessionFactory func(identity libauth.Identity) (sessionservice.Service, notificationservice.Service)

type sessionEntry struct {
	session  sessionservice.Service
	notifier notificationservice.Service
}

// Manager tracks the live session per user.
type Manager struct {
	factory SessionFactory

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewManager creates a session registry around factory.
func NewManager(factory SessionFactory) *Manager {
	return &Manager{
		factory:  factory,
		sessions: make(map[string]sessionEntry),
	}
}

// Get returns the user's running session, starting one if needed.
func (m *Manager) Get(r *http.Request, identity libauth.Identity) (sessionservice.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[identity.ID]; ok {
		return entry.session, nil
	}
	session, notifier := m.factory(identity)
	if err := session.Start(r.Context()); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	m.sessions[identity.ID] = sessionEntry{session: session, notifier: notifier}
	return session, nil
}

// ResolvePermission forwards the platform's alert permission decision to
// the user's dispatcher. A decision without a live session is dropped.
func (m *Manager) ResolvePermission(userID string, granted bool) {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	m.mu.Unlock()
	if ok {
		entry.notifier.ResolvePermission(granted)
	}
}

// Drop closes and forgets the user's session, if any.
func (m *Manager) Drop(userID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.session.Close()
}

// CloseAll tears down every live session. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]sessionEntry, 0, len(m.sessions))
	for id, entry := range m.sessions {
		entries = append(entries, entry)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		_ = entry.session.Close()
	}
}

// AddSessionRoutes registers the session-facing HTTP routes. messenger
// carries notification sink events for the SSE stream.
func AddSessionRoutes(mux *http.ServeMux, manager *Manager, messenger libbus.Messenger) {
	s := &sessionManager{manager: manager, messenger: messenger}

	mux.HandleFunc("GET /chat", s.deepLink)
	mux.HandleFunc("GET /session", s.snapshot)
	mux.HandleFunc("POST /session/select", s.selectCounterpart)
	mux.HandleFunc("POST /session/messages", s.sendMessage)
	mux.HandleFunc("POST /session/input", s.changeInput)
	mux.HandleFunc("POST /session/visibility", s.markVisible)
	mux.HandleFunc("POST /session/roster/refresh", s.refreshRoster)
	mux.HandleFunc("POST /session/notifications/permission", s.resolvePermission)
	mux.HandleFunc("GET /session/notifications/stream", s.streamNotifications)
	mux.HandleFunc("DELETE /session", s.closeSession)
}

type sessionManager struct {
	manager   *Manager
	messenger libbus.Messenger
}

type selectRequest struct {
	CounterpartID string `json:"counterpartId"`
}

type sendRequest struct {
	Body string `json:"message"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type permissionRequest struct {
	Granted bool `json:"granted"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *sessionManager) session(w http.ResponseWriter, r *http.Request, op serverops.Operation) (sessionservice.Service, bool) {
	identity, err := libauth.IdentityFromContext(r.Context())
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return nil, false
	}
	session, err := s.manager.Get(r, identity)
	if err != nil {
		_ = serverops.Error(w, r, err, op)
		return nil, false
	}
	return session, true
}

// Resolves a notification deep link: activates the conversation with the
// counterpart named in the query and returns the resulting session state.
func (s *sessionManager) deepLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.GetOperation)
	if !ok {
		return
	}

	counterpartID := serverops.GetQueryParam(r, "counterpart", "", "The counterpart to open the conversation with.")
	if counterpartID == "" {
		_ = serverops.Error(w, r, fmt.Errorf("counterpart is required %w", serverops.ErrBadQueryValue), serverops.GetOperation)
		return
	}

	if err := session.SelectCounterpart(ctx, counterpartID); err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	if err := session.MarkVisible(ctx, true); err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, session.Snapshot()) // @response sessionservice.Snapshot
}

// Returns the current session state for rendering.
func (s *sessionManager) snapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, serverops.GetOperation)
	if !ok {
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, session.Snapshot()) // @response sessionservice.Snapshot
}

// Makes a counterpart the active conversation.
func (s *sessionManager) selectCounterpart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.UpdateOperation)
	if !ok {
		return
	}

	req, err := serverops.Decode[selectRequest](r) // @request sessionapi.selectRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	if err := session.SelectCounterpart(ctx, req.CounterpartID); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, session.Snapshot()) // @response sessionservice.Snapshot
}

// Sends the message text to the active counterpart.
//
// On failure the composer input is preserved server-side so the client can
// retry without retyping.
func (s *sessionManager) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.CreateOperation)
	if !ok {
		return
	}

	req, err := serverops.Decode[sendRequest](r) // @request sessionapi.sendRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	if err := session.SendMessage(ctx, req.Body); err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusCreated, session.Snapshot()) // @response sessionservice.Snapshot
}

// Updates composer text; drives the typing signal as a side effect.
func (s *sessionManager) changeInput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.UpdateOperation)
	if !ok {
		return
	}

	req, err := serverops.Decode[inputRequest](r) // @request sessionapi.inputRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	if err := session.ChangeInput(ctx, req.Text); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, okResponse{OK: true}) // @response sessionapi.okResponse
}

// Records whether the chat surface is visible; visibility triggers the
// debounced read acknowledgement.
func (s *sessionManager) markVisible(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.UpdateOperation)
	if !ok {
		return
	}

	req, err := serverops.Decode[visibilityRequest](r) // @request sessionapi.visibilityRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	if err := session.MarkVisible(ctx, req.Visible); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, okResponse{OK: true}) // @response sessionapi.okResponse
}

// Re-derives the background subscription set after the roster changed.
func (s *sessionManager) refreshRoster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, ok := s.session(w, r, serverops.UpdateOperation)
	if !ok {
		return
	}

	if err := session.RefreshRoster(ctx); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, okResponse{OK: true}) // @response sessionapi.okResponse
}

// Records the platform's alert permission decision.
func (s *sessionManager) resolvePermission(w http.ResponseWriter, r *http.Request) {
	identity, err := libauth.IdentityFromContext(r.Context())
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	req, err := serverops.Decode[permissionRequest](r) // @request sessionapi.permissionRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	s.manager.ResolvePermission(identity.ID, req.Granted)

	_ = serverops.Encode(w, r, http.StatusOK, okResponse{OK: true}) // @response sessionapi.okResponse
}

// Streams the caller's notification sink events using Server-Sent Events.
func (s *sessionManager) streamNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = serverops.Error(w, r, fmt.Errorf("streaming unsupported"), serverops.StreamOperation)
		return
	}

	eventCh := make(chan []byte, 10)
	sub, err := s.messenger.Stream(ctx, notificationservice.NotifySubject(identity.ID), eventCh)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.StreamOperation)
		return
	}
	defer sub.Unsubscribe()

	fmt.Fprint(w, "data: connected\n\n")
	flusher.Flush()

	for {
		select {
		case eventData := <-eventCh:
			fmt.Fprintf(w, "data: %s\n\n", eventData)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Ends the caller's session and publishes offline presence.
func (s *sessionManager) closeSession(w http.ResponseWriter, r *http.Request) {
	identity, err := libauth.IdentityFromContext(r.Context())
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	if err := s.manager.Drop(identity.ID); err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, okResponse{OK: true}) // @response sessionapi.okResponse
}
