package verifier

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/trestle"
)

type fakeTrestle struct {
	result *trestle.VerifyResult
	err    error
	calls  int
}

func (f *fakeTrestle) Verify(_ context.Context, _ trestle.VerifyRequest) (*trestle.VerifyResult, error) {
	f.calls++
	return f.result, f.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func receivedResult(taskID string) model.SearchResult {
	return model.SearchResult{
		TaskID:      taskID,
		CandidateID: "uid-1",
		Candidate: model.Candidate{
			ID:       "uid-1",
			FullName: "Jane Doe",
			City:     "Austin",
			Region:   "texas",
		},
		Phone:      "+15125550100",
		PhoneType:  "mobile",
		PhoneState: model.PhoneReceived,
		UpdatedAt:  time.Now().UTC(),
	}
}

func createTask(t *testing.T, st store.Store) *model.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), "cust-a",
		model.Query{Name: "jane doe", Title: "vp", Region: "texas"}, 10, nil)
	require.NoError(t, err)
	return task
}

func TestProcessHighScoreVerifies(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := createTask(t, st)

	client := &fakeTrestle{result: &trestle.VerifyResult{MatchScore: 0.92, Age: 44, Carrier: "T-Mobile"}}
	v := New(st, client, 0.7)

	r := receivedResult(task.ID)
	require.NoError(t, st.UpsertResult(ctx, r))
	require.NoError(t, v.Process(ctx, &r, nil))

	assert.Equal(t, model.PhoneVerified, r.PhoneState)
	assert.True(t, r.Accepted)

	stored, err := st.GetResult(ctx, task.ID, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.PhoneVerified, stored.PhoneState)
	assert.InDelta(t, 0.92, stored.Score, 1e-9)
	assert.Equal(t, 44, stored.Age)
	assert.Equal(t, "T-Mobile", stored.Carrier)

	entries, err := st.ListLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogInfo, entries[0].Level)
	assert.Contains(t, entries[0].Message, "verified")
}

func TestProcessLowScoreStaysReceived(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := createTask(t, st)

	client := &fakeTrestle{result: &trestle.VerifyResult{MatchScore: 0.3}}
	v := New(st, client, 0.7)

	r := receivedResult(task.ID)
	require.NoError(t, st.UpsertResult(ctx, r))
	require.NoError(t, v.Process(ctx, &r, nil))

	// Delivered anyway, just not promoted.
	assert.Equal(t, model.PhoneReceived, r.PhoneState)
	assert.True(t, r.Accepted)
	assert.InDelta(t, 0.3, r.Score, 1e-9)

	entries, err := st.ListLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogWarn, entries[0].Level)
	assert.Contains(t, entries[0].Message, "below verification threshold")
}

func TestProcessOutageKeepsReceived(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := createTask(t, st)

	client := &fakeTrestle{err: eris.New("trestle: send request: connection refused")}
	v := New(st, client, 0.7)

	r := receivedResult(task.ID)
	require.NoError(t, st.UpsertResult(ctx, r))
	require.NoError(t, v.Process(ctx, &r, nil))

	assert.Equal(t, model.PhoneReceived, r.PhoneState)

	// The stored result keeps its phone.
	stored, err := st.GetResult(ctx, task.ID, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "+15125550100", stored.Phone)

	entries, err := st.ListLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "verification unavailable")
}

func TestProcessAgeFilterDeletesResult(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := createTask(t, st)

	client := &fakeTrestle{result: &trestle.VerifyResult{MatchScore: 0.9, Age: 61}}
	v := New(st, client, 0.7)

	r := receivedResult(task.ID)
	require.NoError(t, st.UpsertResult(ctx, r))
	require.NoError(t, v.Process(ctx, &r, &model.AgeRange{Min: 25, Max: 55}))

	stored, err := st.GetResult(ctx, task.ID, "uid-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	entries, err := st.ListLog(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "age 61 outside 25-55")
}

func TestProcessAgeUnknownPassesFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	task := createTask(t, st)

	// Trestle did not return an age; the filter cannot reject on it.
	client := &fakeTrestle{result: &trestle.VerifyResult{MatchScore: 0.9}}
	v := New(st, client, 0.7)

	r := receivedResult(task.ID)
	require.NoError(t, st.UpsertResult(ctx, r))
	require.NoError(t, v.Process(ctx, &r, &model.AgeRange{Min: 25, Max: 55}))

	stored, err := st.GetResult(ctx, task.ID, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.PhoneVerified, stored.PhoneState)
}

func TestProcessRejectsWrongState(t *testing.T) {
	st := newTestStore(t)
	v := New(st, &fakeTrestle{}, 0.7)

	r := receivedResult("t1")
	r.PhoneState = model.PhonePending
	err := v.Process(context.Background(), &r, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want received")
}
