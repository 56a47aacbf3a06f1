/*
File: internal/platform/relationship/http_client.go
Description: HTTP client for the social-graph service. Answers the
friendship questions the fan-out permission check needs.
*/
// Package relationship provides relationship-policy implementations. The
// chat service never owns the social graph; it asks the service that does.
package relationship

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-chat-service/pkg/chat"
)

const defaultTimeout = 5 * time.Second

// relationshipResponse mirrors the social-graph service's JSON response.
type relationshipResponse struct {
	Friends bool `json:"friends"`
	CanDM   bool `json:"canDm"`
}

// HTTPClient implements chat.RelationshipPolicy against a remote HTTP
// endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient is the constructor for the HTTPClient. A nil http.Client
// gets a default with a sane timeout.
func NewHTTPClient(baseURL string, client *http.Client, logger zerolog.Logger) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("relationship service URL cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With().Str("component", "RelationshipClient").Logger(),
	}, nil
}

// IsFriend reports whether the two users are friends.
func (c *HTTPClient) IsFriend(ctx context.Context, a, b chat.UserID) (bool, error) {
	resp, err := c.lookup(ctx, a, b)
	if err != nil {
		return false, err
	}
	return resp.Friends, nil
}

// CanSendDirectMessage reports whether sender may DM recipient. Blocks and
// privacy settings are the remote service's concern.
func (c *HTTPClient) CanSendDirectMessage(ctx context.Context, sender, recipient chat.UserID) (bool, error) {
	resp, err := c.lookup(ctx, sender, recipient)
	if err != nil {
		return false, err
	}
	return resp.CanDM, nil
}

func (c *HTTPClient) lookup(ctx context.Context, a, b chat.UserID) (*relationshipResponse, error) {
	q := url.Values{}
	q.Set("user", string(a))
	q.Set("other", string(b))
	endpoint := c.baseURL + "/v1/relationship?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build relationship request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relationship request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relationship service returned %s", resp.Status)
	}

	var result relationshipResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode relationship response: %w", err)
	}
	return &result, nil
}
