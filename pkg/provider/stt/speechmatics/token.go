package speechmatics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/tabcaption/pkg/provider/stt"
)

const (
	// DefaultAuthURL mints short-lived keys for the realtime API.
	DefaultAuthURL = "https://mp.speechmatics.com/v1/api_keys?type=rt"

	defaultTTL = time.Hour

	maxErrorBody = 64 << 10
)

// TokenOption is a functional option for configuring a [TokenClient].
type TokenOption func(*TokenClient)

// WithAuthURL overrides the token endpoint.
func WithAuthURL(u string) TokenOption {
	return func(c *TokenClient) { c.url = u }
}

// WithTTL sets the lifetime requested for minted tokens. It is sent in whole
// seconds.
func WithTTL(ttl time.Duration) TokenOption {
	return func(c *TokenClient) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHTTPClient sets the client used for the exchange.
func WithHTTPClient(hc *http.Client) TokenOption {
	return func(c *TokenClient) { c.client = hc }
}

// TokenClient implements stt.TokenSource against the Speechmatics
// management API.
type TokenClient struct {
	url    string
	ttl    time.Duration
	client *http.Client
}

// NewTokenClient creates a TokenClient with a 10s request timeout.
func NewTokenClient(opts ...TokenOption) *TokenClient {
	c := &TokenClient{
		url:    DefaultAuthURL,
		ttl:    defaultTTL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tokenRequest struct {
	TTL int `json:"ttl"`
}

type tokenResponse struct {
	KeyValue string `json:"key_value"`
}

// Exchange posts {"ttl": seconds} with the API key as bearer credential and
// returns the minted key. Non-2xx replies become *stt.CredentialError with a
// user-facing reason; the exchange is never retried here.
func (c *TokenClient) Exchange(ctx context.Context, apiKey string) (stt.Token, error) {
	if apiKey == "" {
		return stt.Token{}, stt.ErrNoCredential
	}

	body, err := json.Marshal(tokenRequest{TTL: int(c.ttl / time.Second)})
	if err != nil {
		return stt.Token{}, fmt.Errorf("speechmatics: encode token request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return stt.Token{}, fmt.Errorf("speechmatics: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	issued := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return stt.Token{}, fmt.Errorf("speechmatics: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Token{}, &stt.CredentialError{
			StatusCode: resp.StatusCode,
			Reason:     stt.ReasonForStatus(resp.StatusCode, raw),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return stt.Token{}, fmt.Errorf("speechmatics: decode token response: %w", err)
	}
	if tr.KeyValue == "" {
		return stt.Token{}, errors.New("speechmatics: token response missing key_value")
	}
	return stt.Token{Value: tr.KeyValue, ExpiresAt: issued.Add(c.ttl)}, nil
}

var _ stt.TokenSource = (*TokenClient)(nil)
