package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request is the body POSTed to the token endpoint.
type Request struct {
	ChannelName string `json:"channelName"`
	UID         uint32 `json:"uid"`
	Role        string `json:"role"`
}

// Grant is the token endpoint's response.
type Grant struct {
	Token string `json:"token"`
	AppID string `json:"appId"`
}

// Client fetches join tokens from an HTTP endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a Client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch requests a publisher token for uid in channel.
func (c *Client) Fetch(ctx context.Context, channel string, uid uint32) (Grant, error) {
	body, err := json.Marshal(Request{ChannelName: channel, UID: uid, Role: RolePublisher})
	if err != nil {
		return Grant{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Grant{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Grant{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Grant{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return Grant{}, fmt.Errorf("decode token response: %w", err)
	}
	if g.Token == "" {
		return Grant{}, fmt.Errorf("token endpoint returned an empty token")
	}
	return g, nil
}
