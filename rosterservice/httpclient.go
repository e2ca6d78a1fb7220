package rosterservice

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pairlink/pairlink/apiframework"
)

// HTTPRosterService implements Service using HTTP calls to the external
// user/connections system.
type HTTPRosterService struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPRosterService creates an HTTP client that implements Service.
func NewHTTPRosterService(baseURL, token string, client *http.Client) Service {
	if client == nil {
		client = http.DefaultClient
	}

	// Ensure baseURL doesn't end with a slash
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &HTTPRosterService{
		client:  client,
		baseURL: baseURL,
		token:   token,
	}
}

// ListCounterparts implements Service.ListCounterparts
func (s *HTTPRosterService) ListCounterparts(ctx context.Context, selfID string) ([]Counterpart, error) {
	if selfID == "" {
		return nil, ErrEmptyUserID
	}
	url := s.baseURL + "/users/" + selfID + "/connections"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiframework.HandleAPIError(resp)
	}

	var entries []Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return normalizeAll(entries), nil
}

// GetCounterpart implements Service.GetCounterpart
func (s *HTTPRosterService) GetCounterpart(ctx context.Context, selfID, counterpartID string) (Counterpart, error) {
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
