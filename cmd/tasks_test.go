package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestFormatTasksList(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	tasks := []model.Task{
		{
			ID:             "0c9f2a3b-1111-2222-3333-444455556666",
			CustomerID:     "cust-a",
			Query:          model.Query{Name: "jane doe", Title: "vp sales", Region: "texas"},
			RequestedCount: 25,
			Status:         model.TaskStatusRunning,
			CreatedAt:      created,
		},
	}

	var buf bytes.Buffer
	formatTasksList(&buf, tasks)
	out := buf.String()

	assert.Contains(t, out, "0c9f2a3b")
	assert.NotContains(t, out, "444455556666")
	assert.Contains(t, out, "jane doe / vp sales / texas")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "2026-03-14 09:30")
}

func TestFormatTasksListTruncatesLongQuery(t *testing.T) {
	tasks := []model.Task{
		{
			ID:    "abc",
			Query: model.Query{Name: "someone with an extremely long name", Title: "chief executive officer of everything", Region: "texas"},
		},
	}

	var buf bytes.Buffer
	formatTasksList(&buf, tasks)
	assert.Contains(t, buf.String(), "...")
}

func TestFormatResultsList(t *testing.T) {
	updated := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	results := []model.SearchResult{
		{
			TaskID:      "t1",
			CandidateID: "uid-000111222333",
			Candidate:   model.Candidate{ID: "uid-000111222333", FullName: "Jane Doe"},
			Phone:       "+15125550100",
			PhoneState:  model.PhoneVerified,
			Score:       0.92,
			UpdatedAt:   updated,
		},
		{
			TaskID:      "t1",
			CandidateID: "uid-2",
			Candidate:   model.Candidate{ID: "uid-2", FullName: "John Roe"},
			PhoneState:  model.PhoneNone,
		},
		{
			TaskID:      "t1",
			CandidateID: "uid-3",
			Candidate:   model.Candidate{ID: "uid-3", FullName: "Jan Moe"},
			PhoneState:  model.PhonePending,
			NoResponse:  true,
		},
	}

	var buf bytes.Buffer
	formatResultsList(&buf, results)
	out := buf.String()

	assert.Contains(t, out, "Jane Doe")
	assert.Contains(t, out, "+15125550100")
	assert.Contains(t, out, "verified")
	assert.Contains(t, out, "0.92")
	assert.Contains(t, out, "no_phone")
	assert.Contains(t, out, "no response from provider")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}
