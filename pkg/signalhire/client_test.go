package signalhire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		wantTotal int
		wantLen   int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"profiles": [
					{"uid": "p1", "full_name": "Jane Smith", "title": "VP Sales", "region": "TX"},
					{"uid": "p2", "full_name": "John Doe"}
				],
				"total": 57
			}`,
			wantTotal: 57,
			wantLen:   2,
		},
		{
			name:    "rate_limit",
			status:  http.StatusTooManyRequests,
			body:    `{"error": "rate limit exceeded"}`,
			wantErr: "unexpected status 429",
		},
		{
			name:    "server_error",
			status:  http.StatusInternalServerError,
			body:    `{"error": "internal"}`,
			wantErr: "unexpected status 500",
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/candidate/search", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("apikey"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))

			resp, err := client.Search(context.Background(), SearchRequest{FullName: "jane smith"})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.wantTotal, resp.Total)
			assert.Len(t, resp.Profiles, tt.wantLen)
		})
	}
}

func TestSearchCountSetsProbeFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.CountOnly)
		assert.Zero(t, req.Size)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"profiles": [], "total": 412}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	total, err := client.SearchCount(context.Background(), SearchRequest{FullName: "jane", Size: 50})
	require.NoError(t, err)
	assert.Equal(t, 412, total)
}

func TestRequestPhoneReveal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/candidate/reveal", r.URL.Path)

		var req revealRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"p1"}, req.Items)
		assert.Equal(t, "https://leads.example.com/webhook/phone", req.CallbackURL)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status": "queued"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	err := client.RequestPhoneReveal(context.Background(), "p1", "https://leads.example.com/webhook/phone")
	require.NoError(t, err)
}

func TestRequestPhoneRevealFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": "no credits"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	err := client.RequestPhoneReveal(context.Background(), "p1", "https://cb.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 402")
}
