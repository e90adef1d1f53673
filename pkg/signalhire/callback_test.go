package signalhire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []CallbackMatch
		wantErr string
	}{
		{
			name: "batch",
			body: `{"matches": [
				{"uid": "p1", "phones": [{"number": "+15551230001", "type": "mobile"}]},
				{"uid": "p2", "phones": []}
			]}`,
			want: []CallbackMatch{
				{PersonUID: "p1", Phones: []PhoneEntry{{Number: "+15551230001", Type: "mobile"}}},
				{PersonUID: "p2", Phones: []PhoneEntry{}},
			},
		},
		{
			name: "wrapped_single",
			body: `{"match": {"uid": "p3", "phones": [{"number": "+15551230002", "type": "work"}]}}`,
			want: []CallbackMatch{
				{PersonUID: "p3", Phones: []PhoneEntry{{Number: "+15551230002", Type: "work"}}},
			},
		},
		{
			name: "bare",
			body: `{"uid": "p4", "phones": [{"number": "+15551230003"}]}`,
			want: []CallbackMatch{
				{PersonUID: "p4", Phones: []PhoneEntry{{Number: "+15551230003"}}},
			},
		},
		{
			name: "bare_empty_phones",
			body: `{"uid": "p5", "phones": []}`,
			want: []CallbackMatch{{PersonUID: "p5", Phones: []PhoneEntry{}}},
		},
		{
			name:    "not_json",
			body:    `this is not json`,
			wantErr: "parse callback",
		},
		{
			name:    "no_match",
			body:    `{"something": "else"}`,
			wantErr: "no recognizable match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback([]byte(tt.body))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
