// Package realtime talks to the AI voice endpoint: a backend token
// service mints a short-lived credential for a session, then the client
// trades a local SDP offer for the agent's answer over HTTPS.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ykwon/stormcall/internal/domain"
)

type Client struct {
	TokenURL string
	BaseURL  string
	Model    string

	http *http.Client
}

func NewClient(tokenURL, baseURL string) *Client {
	return &Client{
		TokenURL: tokenURL,
		BaseURL:  baseURL,
		Model:    "gpt-4o-realtime-preview-2024-12-17",
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type keyResponse struct {
	ClientSecret string `json:"client_secret"`
	SessionID    string `json:"session_id"`
	ExpiresAt    int64  `json:"expires_at"`
}

// EphemeralKey asks the token service for a credential scoped to the
// workshop session. Any non-2xx status is an AI-connect failure; it never
// touches peer media.
func (c *Client) EphemeralKey(ctx context.Context, session domain.SessionID) (string, error) {
	body, err := json.Marshal(map[string]string{"session_id": string(session)})
	if err != nil {
		return "", fmt.Errorf("encode key request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token service: status %d", resp.StatusCode)
	}
	var kr keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return "", fmt.Errorf("decode key response: %w", err)
	}
	if kr.ClientSecret == "" {
		return "", fmt.Errorf("token service: empty client secret")
	}
	return kr.ClientSecret, nil
}

// ExchangeSDP posts the gathered offer and returns the agent's answer.
func (c *Client) ExchangeSDP(ctx context.Context, key, offerSDP string) (string, error) {
	url := fmt.Sprintf("%s?model=%s", c.BaseURL, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent endpoint: %w", err)
	}
	defer resp.Body.Close()
	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read agent answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("agent endpoint: status %d", resp.StatusCode)
	}
	return string(answer), nil
}
