// Package acquire decides, per search, whether candidates come from the
// local cache, the SignalHire API, or a blend of both, and filters every
// selection through the assignment ledger so no contact is sold twice
// inside the cooldown window.
package acquire

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/config"
	"github.com/sells-group/leadgen-cli/internal/ledger"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/signalhire"
)

// Searcher is the slice of the SignalHire client the selector needs.
type Searcher interface {
	Search(ctx context.Context, req signalhire.SearchRequest) (*signalhire.SearchResponse, error)
	SearchCount(ctx context.Context, req signalhire.SearchRequest) (int, error)
}

// Acquirer implements the coverage selector.
type Acquirer struct {
	store    store.Store
	ledger   *ledger.Ledger
	provider Searcher
	cfg      config.AcquireConfig
	policy   *Policy
	breaker  *resilience.CircuitBreaker

	// probeCache memoizes count-only probes briefly so burst traffic on
	// one fingerprint doesn't re-probe the provider every time.
	probeCache *gocache.Cache

	// fpLocks serializes acquisitions per fingerprint. The exclusion-set
	// read and the assignment write are not atomic on their own; without
	// this, two concurrent searches could both select the same candidate.
	fpMu    sync.Mutex
	fpLocks map[model.Fingerprint]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Acquirer. policy may be nil; config values apply then.
func New(st store.Store, l *ledger.Ledger, provider Searcher, cfg config.AcquireConfig, policy *Policy) *Acquirer {
	probeTTL := time.Duration(cfg.ProbeCacheTTLSecs) * time.Second
	if probeTTL <= 0 {
		probeTTL = 5 * time.Minute
	}
	return &Acquirer{
		store:      st,
		ledger:     l,
		provider:   provider,
		cfg:        cfg,
		policy:     policy,
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
		probeCache: gocache.New(probeTTL, 2*probeTTL),
		fpLocks:    make(map[model.Fingerprint]*sync.Mutex),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithSeed fixes the selection shuffle for tests.
func (a *Acquirer) WithSeed(seed uint64) *Acquirer {
	a.rng = rand.New(rand.NewPCG(seed, seed))
	return a
}

// Acquire returns up to requested candidates for the query, choosing the
// source by cache coverage and excluding recently assigned records. The
// selection is recorded in the ledger before returning.
func (a *Acquirer) Acquire(ctx context.Context, q model.Query, requested int, customerID string) (*model.Acquisition, error) {
	if requested <= 0 {
		return nil, eris.New("acquire: requested count must be positive")
	}
	fp := model.NewFingerprint(q)

	unlock := a.lockFingerprint(fp)
	defer unlock()

	entry, err := a.store.GetCacheEntry(ctx, fp)
	if err != nil {
		return nil, err
	}

	params := a.params(q.Region)

	if entry == nil {
		return a.acquireFromAPI(ctx, fp, q, requested, customerID, params)
	}

	coverage := a.coverageRate(ctx, fp, q, len(entry.Candidates))
	if coverage < params.CoverageThreshold {
		zap.L().Info("cache coverage below threshold, refreshing from api",
			zap.String("fingerprint", string(fp)),
			zap.Float64("coverage", coverage),
			zap.Float64("threshold", params.CoverageThreshold),
		)
		acq, err := a.acquireFromAPI(ctx, fp, q, requested, customerID, params)
		if acq != nil {
			acq.CoverageRate = coverage
		}
		return acq, err
	}

	return a.acquireFromCache(ctx, fp, q, requested, customerID, entry, coverage, params)
}

// acquireFromAPI serves the request with a fresh provider fetch,
// over-fetching to amortize future requests and merging everything new
// into the cache entry.
func (a *Acquirer) acquireFromAPI(ctx context.Context, fp model.Fingerprint, q model.Query, requested int, customerID string, params PolicyParams) (*model.Acquisition, error) {
	fetched, err := a.search(ctx, q, requested*params.OverfetchMultiplier)
	if err != nil {
		return nil, eris.Wrap(err, "acquire: provider search")
	}

	candidates := toCandidates(fetched.Profiles)
	if err := a.store.PutCacheEntry(ctx, fp, candidates, a.cfg.CacheFreshFor()); err != nil {
		return nil, err
	}

	excluded, err := a.ledger.ExclusionSet(ctx, fp)
	if err != nil {
		return nil, err
	}
	available := filterExcluded(candidates, excluded, nil)

	selected := a.selectRandom(available, requested)
	if err := a.ledger.Record(ctx, fp, candidateIDs(selected), customerID); err != nil {
		return nil, err
	}

	return &model.Acquisition{
		Records:      selected,
		Source:       model.SourceAPI,
		CoverageRate: 0,
		FromAPI:      len(selected),
	}, nil
}

// acquireFromCache serves from the cached set, topping up from the API
// only when the exclusion filter leaves too few candidates.
func (a *Acquirer) acquireFromCache(ctx context.Context, fp model.Fingerprint, q model.Query, requested int, customerID string, entry *model.CacheEntry, coverage float64, params PolicyParams) (*model.Acquisition, error) {
	excluded, err := a.ledger.ExclusionSet(ctx, fp)
	if err != nil {
		return nil, err
	}
	available := filterExcluded(entry.Candidates, excluded, nil)

	if len(available) >= requested {
		selected := a.selectRandom(available, requested)
		if err := a.ledger.Record(ctx, fp, candidateIDs(selected), customerID); err != nil {
			return nil, err
		}
		return &model.Acquisition{
			Records:      selected,
			Source:       model.SourceCache,
			CoverageRate: coverage,
			FromCache:    len(selected),
		}, nil
	}

	// Cache alone cannot fill the request: take everything left and top
	// up from the provider, filtering the fresh fetch against both the
	// exclusion set and the cache portion to avoid intra-request dupes.
	cachePortion := available
	need := requested - len(cachePortion)

	fetched, err := a.search(ctx, q, need*params.OverfetchMultiplier)
	if err != nil {
		// Degrade to a partial result rather than failing the request.
		zap.L().Warn("supplemental provider fetch failed, returning cache portion only",
			zap.String("fingerprint", string(fp)),
			zap.Error(err),
		)
		if err := a.ledger.Record(ctx, fp, candidateIDs(cachePortion), customerID); err != nil {
			return nil, err
		}
		return &model.Acquisition{
			Records:      cachePortion,
			Source:       model.SourceMixed,
			CoverageRate: coverage,
			FromCache:    len(cachePortion),
			Partial:      true,
		}, nil
	}

	alreadyTaken := make(map[string]bool, len(cachePortion))
	for _, c := range cachePortion {
		alreadyTaken[c.ID] = true
	}
	fresh := filterExcluded(toCandidates(fetched.Profiles), excluded, alreadyTaken)
	if len(fresh) > need {
		fresh = fresh[:need]
	}

	if err := a.store.PutCacheEntry(ctx, fp, toCandidates(fetched.Profiles), a.cfg.CacheFreshFor()); err != nil {
		return nil, err
	}

	combined := append(cachePortion, fresh...)
	if err := a.ledger.Record(ctx, fp, candidateIDs(combined), customerID); err != nil {
		return nil, err
	}

	return &model.Acquisition{
		Records:      combined,
		Source:       model.SourceMixed,
		CoverageRate: coverage,
		FromCache:    len(cachePortion),
		FromAPI:      len(fresh),
	}, nil
}

// coverageRate probes the provider's total for the query and compares
// with the cache size. Probe failures fail open to the cache.
func (a *Acquirer) coverageRate(ctx context.Context, fp model.Fingerprint, q model.Query, cacheSize int) float64 {
	if cacheSize == 0 {
		return 0
	}

	var total int
	if cached, ok := a.probeCache.Get(string(fp)); ok {
		total = cached.(int)
	} else {
		var err error
		total, err = resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (int, error) {
			return a.provider.SearchCount(ctx, searchRequest(q, 0))
		})
		if err != nil {
			zap.L().Warn("count probe failed, treating cache as full coverage",
				zap.String("fingerprint", string(fp)),
				zap.Error(err),
			)
			return 1.0
		}
		a.probeCache.SetDefault(string(fp), total)
	}

	if total <= cacheSize {
		return 1.0
	}
	return float64(cacheSize) / float64(total)
}

func (a *Acquirer) search(ctx context.Context, q model.Query, size int) (*signalhire.SearchResponse, error) {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("signalhire", "search")
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*signalhire.SearchResponse, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*signalhire.SearchResponse, error) {
			return a.provider.Search(ctx, searchRequest(q, size))
		})
	})
}

// selectRandom uniformly picks up to n candidates. A plain shuffle keeps
// the draw unbiased; slicing insertion order would hand every customer
// the same "first" records.
func (a *Acquirer) selectRandom(candidates []model.Candidate, n int) []model.Candidate {
	if len(candidates) <= n {
		return candidates
	}
	shuffled := make([]model.Candidate, len(candidates))
	copy(shuffled, candidates)

	a.rngMu.Lock()
	a.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	a.rngMu.Unlock()

	return shuffled[:n]
}

func (a *Acquirer) lockFingerprint(fp model.Fingerprint) func() {
	a.fpMu.Lock()
	mu, ok := a.fpLocks[fp]
	if !ok {
		mu = &sync.Mutex{}
		a.fpLocks[fp] = mu
	}
	a.fpMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (a *Acquirer) params(region string) PolicyParams {
	params := PolicyParams{
		CoverageThreshold:   a.cfg.CoverageThreshold,
		OverfetchMultiplier: a.cfg.OverfetchMultiplier,
	}
	if a.policy != nil {
		p := a.policy.ForRegion(region)
		if p.CoverageThreshold > 0 {
			params.CoverageThreshold = p.CoverageThreshold
		}
		if p.OverfetchMultiplier > 0 {
			params.OverfetchMultiplier = p.OverfetchMultiplier
		}
	}
	if params.OverfetchMultiplier <= 0 {
		params.OverfetchMultiplier = 2
	}
	return params
}

// helpers

func searchRequest(q model.Query, size int) signalhire.SearchRequest {
	return signalhire.SearchRequest{
		FullName: q.Name,
		Title:    q.Title,
		Location: q.Region,
		Size:     size,
	}
}

func toCandidates(profiles []signalhire.Person) []model.Candidate {
	candidates := make([]model.Candidate, 0, len(profiles))
	for _, p := range profiles {
		candidates = append(candidates, model.Candidate{
			ID:           p.UID,
			FullName:     p.FullName,
			Title:        p.Title,
			City:         p.City,
			Region:       p.Region,
			Company:      p.Company,
			CompanyPhone: p.CompanyPhone,
		})
	}
	return candidates
}

func filterExcluded(candidates []model.Candidate, excluded map[string]bool, alsoSkip map[string]bool) []model.Candidate {
	var kept []model.Candidate
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if excluded[c.ID] || alsoSkip[c.ID] || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		kept = append(kept, c)
	}
	return kept
}

func candidateIDs(candidates []model.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}
