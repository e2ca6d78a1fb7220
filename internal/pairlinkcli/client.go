// client.go is a thin HTTP client over the chat API used by the CLI commands.
package pairlinkcli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/chatstore"
	"github.com/pairlink/pairlink/presenceservice"
)

type apiClient struct {
	client  *http.Client
	baseURL string
	token   string
}

func newAPIClient(rc resolvedClient) *apiClient {
	return &apiClient{
		client:  http.DefaultClient,
		baseURL: strings.TrimSuffix(rc.baseURL, "/"),
		token:   rc.token,
	}
}

// do issues a JSON request and decodes the response body into out (if out is
// non-nil). Non-2xx responses surface through apiframework.HandleAPIError.
func (c *apiClient) do(ctx context.Context, method, path string, body any, out any, want int) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiframework.HandleAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type sendMessagePayload struct {
	CounterpartID string `json:"counterpartId"`
	Body          string `json:"message"`
}

type markReadPayload struct {
	Flipped int64 `json:"flipped"`
}

type unreadPayload struct {
	Unread int64 `json:"unread"`
}

type typingPayload struct {
	Typing bool `json:"typing"`
}

func (c *apiClient) send(ctx context.Context, counterpartID, body string) (chatstore.Message, error) {
	var msg chatstore.Message
	err := c.do(ctx, http.MethodPost, "/messages", sendMessagePayload{CounterpartID: counterpartID, Body: body}, &msg, http.StatusCreated)
	return msg, err
}

func (c *apiClient) listMessages(ctx context.Context, counterpartID string, limit int) ([]chatstore.Message, error) {
	var msgs []chatstore.Message
	path := fmt.Sprintf("/messages/%s?limit=%d", url.PathEscape(counterpartID), limit)
	err := c.do(ctx, http.MethodGet, path, nil, &msgs, http.StatusOK)
	return msgs, err
}

func (c *apiClient) markRead(ctx context.Context, counterpartID string) (int64, error) {
	var out markReadPayload
	path := "/messages/" + url.PathEscape(counterpartID) + "/read"
	err := c.do(ctx, http.MethodPost, path, nil, &out, http.StatusOK)
	return out.Flipped, err
}

func (c *apiClient) unread(ctx context.Context, counterpartID string) (int64, error) {
	var out unreadPayload
	path := "/messages/" + url.PathEscape(counterpartID) + "/unread"
	err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK)
	return out.Unread, err
}

func (c *apiClient) channels(ctx context.Context) ([]chatstore.ChannelSummary, error) {
	var out []chatstore.ChannelSummary
	err := c.do(ctx, http.MethodGet, "/channels", nil, &out, http.StatusOK)
	return out, err
}

func (c *apiClient) presence(ctx context.Context, userID string) (presenceservice.Status, error) {
	var out presenceservice.Status
	err := c.do(ctx, http.MethodGet, "/presence/"+url.PathEscape(userID), nil, &out, http.StatusOK)
	return out, err
}

// stream consumes a Server-Sent Events endpoint and calls handle for every
// data payload after the initial "connected" handshake. Returns when the
// context is canceled or the server closes the stream.
func (c *apiClient) stream(ctx context.Context, path string, handle func(data []byte)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiframework.HandleAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || data == "connected" {
			continue
		}
		handle([]byte(data))
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
