package trestle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  string
		wantRes  *VerifyResult
	}{
		{
			name:    "full_match",
			status:  http.StatusOK,
			body:    `{"match_score": 0.93, "age": 47, "carrier": "Verizon Wireless"}`,
			wantRes: &VerifyResult{MatchScore: 0.93, Age: 47, Carrier: "Verizon Wireless"},
		},
		{
			name:    "score_only",
			status:  http.StatusOK,
			body:    `{"match_score": 0.42}`,
			wantRes: &VerifyResult{MatchScore: 0.42},
		},
		{
			name:    "server_error",
			status:  http.StatusServiceUnavailable,
			body:    `{"error": "unavailable"}`,
			wantErr: "unexpected status 503",
		},
		{
			name:    "malformed",
			status:  http.StatusOK,
			body:    `{bad`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/real_contact", r.URL.Path)
				assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

				var req VerifyRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "+15551230001", req.Phone)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			res, err := client.Verify(context.Background(), VerifyRequest{
				Name:  "Jane Smith",
				City:  "Austin",
				Phone: "+15551230001",
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRes, res)
		})
	}
}
