package chatapi

import (
	"fmt"
	"net/http"
	"strconv"

	serverops "github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/chatservice"
	"github.com/pairlink/pairlink/libauth"
	"github.com/pairlink/pairlink/presenceservice"
	"github.com/pairlink/pairlink/typingservice"
)

// AddChatRoutes registers HTTP routes for messaging, typing and presence.
// Every route reads the caller identity from the request context; the JWT
// middleware must run in front of this mux.
func AddChatRoutes(mux *http.ServeMux, chat chatservice.Service, typing typingservice.Service, presence presenceservice.Service) {
	c := &chatManager{chat: chat, typing: typing, presence: presence}

	// Write operations
	mux.HandleFunc("POST /messages", c.sendMessage)
	mux.HandleFunc("POST /messages/{counterpartId}/read", c.markRead)
	mux.HandleFunc("POST /typing", c.setTyping)
	mux.HandleFunc("POST /presence/heartbeat", c.heartbeat)

	// Read operations
	mux.HandleFunc("GET /messages/{counterpartId}", c.listMessages)
	mux.HandleFunc("GET /messages/{counterpartId}/last", c.lastMessage)
	mux.HandleFunc("GET /messages/{counterpartId}/unread", c.unreadCount)
	mux.HandleFunc("GET /channels", c.listChannels)
	mux.HandleFunc("GET /typing/{counterpartId}", c.isTyping)
	mux.HandleFunc("GET /presence/{userId}", c.getPresence)

	// SSE streams
	mux.HandleFunc("GET /messages/{counterpartId}/stream", c.streamChannel)
	mux.HandleFunc("GET /typing/{counterpartId}/stream", c.streamTyping)
	mux.HandleFunc("GET /presence/{userId}/stream", c.streamPresence)
}

type chatManager struct {
	chat     chatservice.Service
	typing   typingservice.Service
	presence presenceservice.Service
}

type sendMessageRequest struct {
	CounterpartID string `json:"counterpartId"`
	Body          string `json:"message"`
}

type markReadResponse struct {
	Flipped int64 `json:"flipped"`
}

type unreadResponse struct {
	Unread int64 `json:"unread"`
}

type typingRequest struct {
	CounterpartID string `json:"counterpartId"`
	Typing        bool   `json:"typing"`
}

type typingResponse struct {
	Typing bool `json:"typing"`
}

// Sends a message to a counterpart.
//
// The body is trimmed; the server assigns ID and timestamp and initializes
// the read flag to false.
func (c *chatManager) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	req, err := serverops.Decode[sendMessageRequest](r) // @request chatapi.sendMessageRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	msg, err := c.chat.Send(ctx, identity.ID, req.CounterpartID, req.Body, identity.Role)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusCreated, msg) // @response chatstore.Message
}

// Lists the conversation window with a counterpart in chronological order.
func (c *chatManager) listMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart in the conversation.")
	limitStr := serverops.GetQueryParam(r, "limit", "100", "Maximum number of recent messages to return; 0 for all.")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		_ = serverops.Error(w, r, fmt.Errorf("invalid limit, must be a non-negative integer %w", serverops.ErrUnprocessableEntity), serverops.ListOperation)
		return
	}

	msgs, err := c.chat.ListMessages(ctx, identity.ID, counterpartID, limit)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, msgs) // @response []chatstore.Message
}

// Returns the most recent message in the conversation.
func (c *chatManager) lastMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart in the conversation.")
	msg, err := c.chat.LastMessage(ctx, identity.ID, counterpartID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, msg) // @response chatstore.Message
}

// Acknowledges every unread message from the counterpart.
//
// Idempotent: repeating the call flips zero additional messages.
func (c *chatManager) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart whose messages to acknowledge.")
	flipped, err := c.chat.MarkRead(ctx, identity.ID, counterpartID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, markReadResponse{Flipped: flipped}) // @response chatapi.markReadResponse
}

// Returns the number of unread messages from the counterpart.
func (c *chatManager) unreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart in the conversation.")
	count, err := c.chat.UnreadCount(ctx, identity.ID, counterpartID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, unreadResponse{Unread: count}) // @response chatapi.unreadResponse
}

// Lists the caller's conversations ordered by latest activity.
func (c *chatManager) listChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	channels, err := c.chat.ListChannels(ctx, identity.ID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, channels) // @response []chatstore.ChannelSummary
}

// Publishes the caller's typing state for a conversation.
//
// A true flag expires on its own after a few seconds; clients refresh it
// while composing.
func (c *chatManager) setTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	req, err := serverops.Decode[typingRequest](r) // @request chatapi.typingRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	if err := c.typing.SetTyping(ctx, identity.ID, req.CounterpartID, req.Typing); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, typingResponse{Typing: req.Typing}) // @response chatapi.typingResponse
}

// Reports whether the counterpart is currently typing to the caller.
func (c *chatManager) isTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart whose typing state to read.")
	typing, err := c.typing.IsTyping(ctx, identity.ID, counterpartID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, typingResponse{Typing: typing}) // @response chatapi.typingResponse
}

// Extends the caller's presence liveness window.
func (c *chatManager) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	if err := c.presence.Heartbeat(ctx, identity.ID); err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	status, err := c.presence.GetPresence(ctx, identity.ID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, status) // @response presenceservice.Status
}

// Returns a user's presence. Unknown users read as offline.
func (c *chatManager) getPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := libauth.IdentityFromContext(ctx); err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	userID := serverops.GetPathParam(r, "userId", "The user whose presence to read.")
	status, err := c.presence.GetPresence(ctx, userID)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, status) // @response presenceservice.Status
}

// Streams conversation mutations in real-time using Server-Sent Events.
//
// Each event is a JSON chatservice.ChannelEvent in the data field. Events
// are invalidation signals; clients re-fetch the window on receipt.
func (c *chatManager) streamChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart whose conversation to stream.")
	c.streamSSE(w, r, func(ch chan<- []byte) (unsubscriber, error) {
		return c.chat.SubscribeToChannel(ctx, identity.ID, counterpartID, ch)
	})
}

// Streams typing transitions for a conversation using Server-Sent Events.
func (c *chatManager) streamTyping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, err := libauth.IdentityFromContext(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	counterpartID := serverops.GetPathParam(r, "counterpartId", "The counterpart in the conversation.")
	c.streamSSE(w, r, func(ch chan<- []byte) (unsubscriber, error) {
		return c.typing.SubscribeTyping(ctx, identity.ID, counterpartID, ch)
	})
}

// Streams presence transitions for a user using Server-Sent Events.
func (c *chatManager) streamPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := libauth.IdentityFromContext(ctx); err != nil {
		_ = serverops.Error(w, r, err, serverops.AuthorizeOperation)
		return
	}

	userID := serverops.GetPathParam(r, "userId", "The user whose presence to stream.")
	c.streamSSE(w, r, func(ch chan<- []byte) (unsubscriber, error) {
		return c.presence.SubscribePresence(ctx, userID, ch)
	})
}

type unsubscriber interface {
	Unsubscribe() error
}

func (c *chatManager) streamSSE(w http.ResponseWriter, r *http.Request, subscribe func(chan<- []byte) (unsubscriber, error)) {
	ctx := r.Context()

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
	sub, err := subscribe(eventCh)
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
