// Package trestle wraps the Trestle Real Contact API, used to confirm
// that a revealed phone number really belongs to the named person.
package trestle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.trestleiq.com/3.0"

// Client performs Real Contact lookups.
type Client interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

// VerifyRequest identifies the person and phone to cross-check.
type VerifyRequest struct {
	Name   string `json:"name"`
	City   string `json:"city,omitempty"`
	Region string `json:"region,omitempty"`
	Phone  string `json:"phone"`
}

// VerifyResult is the match outcome. Age and carrier come back as
// byproducts of the same lookup when Trestle knows them.
type VerifyResult struct {
	MatchScore float64 `json:"match_score"`
	Age        int     `json:"age,omitempty"`
	Carrier    string  `json:"carrier,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Trestle API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "trestle: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/real_contact", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "trestle: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "trestle: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "trestle: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("trestle: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result VerifyResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "trestle: unmarshal response")
	}
	return &result, nil
}
