// Package rosterservice answers who a user is allowed to chat with. The
// roster lives in the external user/connections system; this package
// normalizes its entries into display-ready counterparts and hides the
// transport behind the Service interface.
package rosterservice

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("rosterservice: counterpart not found")
	ErrEmptyUserID = errors.New("rosterservice: user id is empty")
)

// Entry is a raw directory record as the connections system returns it.
type Entry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Counterpart is a normalized roster entry with a resolved display name.
type Counterpart struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Service exposes the roster of chat counterparts for a user.
type Service interface {
	// ListCounterparts returns the normalized roster for selfID, sorted by
	// display name. Entries with no usable name are dropped.
	ListCounterparts(ctx context.Context, selfID string) ([]Counterpart, error)
	// GetCounterpart resolves a single roster entry or ErrNotFound.
	GetCounterpart(ctx context.Context, selfID, counterpartID string) (Counterpart, error)
}

// Normalize converts a raw entry into a counterpart. The display name is
// resolved as displayName, then name, then the email local part. Entries
// carrying none of those are not chat-worthy and are reported false.
func Normalize(entry Entry) (Counterpart, bool) {
	if entry.ID == "" {
		return Counterpart{}, false
	}
	name := strings.TrimSpace(entry.DisplayName)
	if name == "" {
		name = strings.TrimSpace(entry.Name)
	}
	if name == "" {
		local, _, _ := strings.Cut(entry.Email, "@")
		name = strings.TrimSpace(local)
	}
	if name == "" {
		return Counterpart{}, false
	}
	return Counterpart{
		ID:          entry.ID,
		DisplayName: name,
		Role:        entry.Role,
		AvatarRef:   entry.AvatarRef,
	}, true
}

func normalizeAll(entries []Entry) []Counterpart {
	counterparts := make([]Counterpart, 0, len(entries))
	for _, entry := range entries {
		if counterpart, ok := Normalize(entry); ok {
			counterparts = append(counterparts, counterpart)
		}
	}
	sort.Slice(counterparts, func(i, j int) bool {
		ni := strings.ToLower(counterparts[i].DisplayName)
		nj := strings.ToLower(counterparts[j].DisplayName)
		if ni == nj {
			return counterparts[i].ID < counterparts[j].ID
		}
		return ni < nj
	})
	return counterparts
}

type staticService struct {
	connections map[string][]Entry
}

// NewStatic builds a roster from a fixed connections map keyed by user ID.
// It serves local single-process mode and tests.
func NewStatic(connections map[string][]Entry) Service {
	return &staticService{connections: connections}
}

func (s *staticService) ListCounterparts(_ context.Context, selfID string) ([]Counterpart, error) {
	if selfID == "" {
		return nil, ErrEmptyUserID
	}
	return normalizeAll(s.connections[selfID]), nil
}

func (s *staticService) GetCounterpart(ctx context.Context, selfID, counterpartID string) (Counterpart, error) {
	counterparts, err := s.ListCounterparts(ctx, selfID)
	if err != nil {
		return Counterpart{}, err
	}
	for _, counterpart := range counterparts {
		if counterpart.ID == counterpartID {
			return counterpart, nil
		}
	}
	return Counterpart{}, ErrNotFound
}
