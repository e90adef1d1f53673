// Package signalhire wraps the SignalHire contact-data API: person
// search, count-only probes, and asynchronous phone reveals delivered
// via webhook callback.
package signalhire

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

const defaultBaseURL = "https://api.signalhire.com/v1"

// Client performs search and reveal calls against the SignalHire API.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	SearchCount(ctx context.Context, req SearchRequest) (int, error)
	RequestPhoneReveal(ctx context.Context, personUID, callbackURL string) error
}

// SearchRequest is the request body for POST /candidate/search.
type SearchRequest struct {
	FullName string `json:"full_name,omitempty"`
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`
	Size     int    `json:"size,omitempty"`
	// CountOnly asks for the total estimate without returning profiles.
	CountOnly bool `json:"count_only,omitempty"`
}

// Person is one candidate profile in a search response.
type Person struct {
	UID          string `json:"uid"`
	FullName     string `json:"full_name"`
	Title        string `json:"title,omitempty"`
	City         string `json:"city,omitempty"`
	Region       string `json:"region,omitempty"`
	Company      string `json:"company,omitempty"`
	CompanyPhone string `json:"company_phone,omitempty"`
}

// SearchResponse is the response from POST /candidate/search.
type SearchResponse struct {
	Profiles []Person `json:"profiles"`
	Total    int      `json:"total"`
}

// revealRequest is the request body for POST /candidate/reveal.
type revealRequest struct {
	Items       []string `json:"items"`
	CallbackURL string   `json:"callbackUrl"`
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

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a SignalHire API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var result SearchResponse
	if err := c.post(ctx, "/candidate/search", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) SearchCount(ctx context.Context, req SearchRequest) (int, error) {
	req.CountOnly = true
	req.Size = 0

	var result SearchResponse
	if err := c.post(ctx, "/candidate/search", req, &result); err != nil {
		return 0, err
	}
	return result.Total, nil
}

func (c *httpClient) RequestPhoneReveal(ctx context.Context, personUID, callbackURL string) error {
	// The ack carries no fields the pipeline needs; the reveal itself
	// arrives later on the callback URL.
	return c.post(ctx, "/candidate/reveal", revealRequest{
		Items:       []string{personUID},
		CallbackURL: callbackURL,
	}, nil)
}

func (c *httpClient) post(ctx context.Context, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "signalhire: rate limit wait")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "signalhire: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "signalhire: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "signalhire: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "signalhire: read response")
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := eris.Errorf("signalhire: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "signalhire: unmarshal response")
		}
	}
	return nil
}
