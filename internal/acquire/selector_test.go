package acquire

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/ledger"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/signalhire"
)

type fakeProvider struct {
	profiles    []signalhire.Person
	total       int
	searchErr   error
	countErr    error
	searchCalls int
	countCalls  int
	lastSize    int
}

func (f *fakeProvider) Search(_ context.Context, req signalhire.SearchRequest) (*signalhire.SearchResponse, error) {
	f.searchCalls++
	f.lastSize = req.Size
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	profiles := f.profiles
	if req.Size > 0 && len(profiles) > req.Size {
		profiles = profiles[:req.Size]
	}
	return &signalhire.SearchResponse{Profiles: profiles, Total: f.total}, nil
}

func (f *fakeProvider) SearchCount(_ context.Context, _ signalhire.SearchRequest) (int, error) {
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.total, nil
}

func makeProfiles(n int) []signalhire.Person {
	people := make([]signalhire.Person, n)
	for i := range people {
		people[i] = signalhire.Person{
			UID:      fmt.Sprintf("uid-%03d", i),
			FullName: fmt.Sprintf("Person %d", i),
		}
	}
	return people
}

func newTestAcquirer(t *testing.T, provider Searcher) (*Acquirer, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.AcquireConfig{
		CoverageThreshold:    0.8,
		OverfetchMultiplier:  2,
		AssignmentExpiryDays: 30,
		CacheFreshDays:       180,
	}
	a := New(st, ledger.New(st, 30), provider, cfg, nil).WithSeed(42)
	return a, st
}

var testQuery = model.Query{Name: "jane doe", Title: "vp sales", Region: "texas"}

func TestAcquireNoCacheGoesToAPI(t *testing.T) {
	provider := &fakeProvider{profiles: makeProfiles(100), total: 100}
	a, st := newTestAcquirer(t, provider)

	acq, err := a.Acquire(context.Background(), testQuery, 10, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceAPI, acq.Source)
	assert.Len(t, acq.Records, 10)
	assert.Equal(t, 10, acq.FromAPI)
	assert.Equal(t, 0, acq.FromCache)
	// Over-fetched by the multiplier.
	assert.Equal(t, 20, provider.lastSize)
	// No count probe on the cold path.
	assert.Zero(t, provider.countCalls)

	// The over-fetched set was cached.
	entry, err := st.GetCacheEntry(context.Background(), model.NewFingerprint(testQuery))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Len(t, entry.Candidates, 20)
}

func TestAcquireLowCoverageRefetches(t *testing.T) {
	// Cache has 40 of an estimated 100: coverage 0.4 < 0.8 threshold.
	provider := &fakeProvider{profiles: makeProfiles(100), total: 100}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(40)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 10, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceAPI, acq.Source)
	assert.InDelta(t, 0.4, acq.CoverageRate, 1e-9)
	assert.Len(t, acq.Records, 10)
	assert.Equal(t, 1, provider.countCalls)
	assert.Equal(t, 1, provider.searchCalls)
}

func TestAcquireHighCoverageServesFromCache(t *testing.T) {
	// Cache has 85 of 100 and the customer wants 70: all from cache,
	// no search call at all.
	provider := &fakeProvider{total: 100}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(85)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 70, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceCache, acq.Source)
	assert.InDelta(t, 0.85, acq.CoverageRate, 1e-9)
	assert.Len(t, acq.Records, 70)
	assert.Equal(t, 70, acq.FromCache)
	assert.Zero(t, acq.FromAPI)
	assert.Zero(t, provider.searchCalls)
}

func TestAcquireMixedTopsUpFromAPI(t *testing.T) {
	// Cache has 85 of 100 but the customer wants 90: cache portion plus
	// a supplemental fetch. The provider serves profiles not yet cached.
	all := makeProfiles(130)
	provider := &fakeProvider{profiles: all[85:], total: 100}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(all[:85]), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 90, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceMixed, acq.Source)
	assert.Len(t, acq.Records, 90)
	assert.Equal(t, 85, acq.FromCache)
	assert.Equal(t, 5, acq.FromAPI)
	assert.False(t, acq.Partial)

	// All 90 records are distinct.
	seen := make(map[string]bool)
	for _, c := range acq.Records {
		assert.False(t, seen[c.ID], "duplicate candidate %s", c.ID)
		seen[c.ID] = true
	}
}

func TestAcquireMixedPartialOnProviderFailure(t *testing.T) {
	provider := &fakeProvider{total: 100, searchErr: eris.New("upstream down")}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(85)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 90, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceMixed, acq.Source)
	assert.True(t, acq.Partial)
	assert.Len(t, acq.Records, 85)
	assert.Equal(t, 85, acq.FromCache)
	assert.Zero(t, acq.FromAPI)
}

func TestAcquireThresholdBoundaryCountsAsCovered(t *testing.T) {
	// Coverage exactly at the threshold serves from cache.
	provider := &fakeProvider{total: 100}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(80)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 10, "cust-a")
	require.NoError(t, err)

	assert.Equal(t, model.SourceCache, acq.Source)
	assert.InDelta(t, 0.8, acq.CoverageRate, 1e-9)
	assert.Zero(t, provider.searchCalls)
}

func TestAcquireNoDoubleAssignment(t *testing.T) {
	provider := &fakeProvider{profiles: makeProfiles(100), total: 100}
	a, _ := newTestAcquirer(t, provider)

	first, err := a.Acquire(context.Background(), testQuery, 30, "cust-a")
	require.NoError(t, err)
	second, err := a.Acquire(context.Background(), testQuery, 30, "cust-b")
	require.NoError(t, err)

	got := make(map[string]bool, len(first.Records))
	for _, c := range first.Records {
		got[c.ID] = true
	}
	for _, c := range second.Records {
		assert.False(t, got[c.ID], "candidate %s assigned twice", c.ID)
	}
}

func TestAcquireCountProbeFailsOpen(t *testing.T) {
	provider := &fakeProvider{countErr: eris.New("probe timeout")}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(20)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 10, "cust-a")
	require.NoError(t, err)

	// Probe failure treats the cache as full coverage.
	assert.Equal(t, model.SourceCache, acq.Source)
	assert.InDelta(t, 1.0, acq.CoverageRate, 1e-9)
}

func TestAcquireProbeMemoized(t *testing.T) {
	provider := &fakeProvider{profiles: makeProfiles(100), total: 100}
	a, st := newTestAcquirer(t, provider)

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(90)), testFresh))

	_, err := a.Acquire(context.Background(), testQuery, 5, "cust-a")
	require.NoError(t, err)
	_, err = a.Acquire(context.Background(), testQuery, 5, "cust-b")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.countCalls)
}

func TestAcquireRejectsNonPositiveCount(t *testing.T) {
	a, _ := newTestAcquirer(t, &fakeProvider{})
	_, err := a.Acquire(context.Background(), testQuery, 0, "cust-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestAcquireRegionPolicyOverride(t *testing.T) {
	// Region policy lowers the threshold to 0.3, so 40 of 100 is enough.
	provider := &fakeProvider{total: 100}
	a, st := newTestAcquirer(t, provider)
	a.policy = &Policy{
		Defaults: PolicyParams{CoverageThreshold: 0.8, OverfetchMultiplier: 2},
		Regions: map[string]PolicyParams{
			"texas": {CoverageThreshold: 0.3, OverfetchMultiplier: 2},
		},
	}

	fp := model.NewFingerprint(testQuery)
	require.NoError(t, st.PutCacheEntry(context.Background(), fp, toCandidates(makeProfiles(40)), testFresh))

	acq, err := a.Acquire(context.Background(), testQuery, 10, "cust-a")
	require.NoError(t, err)
	assert.Equal(t, model.SourceCache, acq.Source)
	assert.Zero(t, provider.searchCalls)
}
