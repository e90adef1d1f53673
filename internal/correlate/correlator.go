// Package correlate matches asynchronous phone-reveal callbacks back to
// the tasks that requested them.
package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/verifier"
	"github.com/sells-group/leadgen-cli/pkg/signalhire"
)

// Revealer is the slice of the SignalHire client the correlator needs.
type Revealer interface {
	RequestPhoneReveal(ctx context.Context, personUID, callbackURL string) error
}

// Correlator tracks in-flight phone reveals and consumes provider
// callbacks. Pending entries live in memory only: a reveal is cheap to
// re-request after a restart, and the result rows already record which
// candidates are still pending.
type Correlator struct {
	store       store.Store
	provider    Revealer
	verifier    *verifier.Verifier
	callbackURL string
	expiry      time.Duration
	maxParallel int

	mu      sync.Mutex
	pending map[string]*model.PendingReveal // keyed by candidate UID

	nowFunc    func() time.Time
	sweepLimit int

	// OnResolved, when set, fires after a pending reveal reaches a
	// terminal outcome (callback consumed or sweep timeout). The task
	// service uses it to detect completion.
	OnResolved func(ctx context.Context, taskID string)
}

// defaultSweepBatch caps how many expired entries one sweep pass closes
// out; anything beyond the cap waits for the next tick.
const defaultSweepBatch = 256

// New creates a correlator. Pending reveals older than expiry are closed
// out by the sweep: the entry is dropped and its result is flagged as
// getting no response from the provider, still in the pending state.
func New(st store.Store, provider Revealer, v *verifier.Verifier, callbackURL string, expiry time.Duration, maxParallel int) *Correlator {
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &Correlator{
		store:       st,
		provider:    provider,
		verifier:    v,
		callbackURL: callbackURL,
		expiry:      expiry,
		maxParallel: maxParallel,
		pending:     make(map[string]*model.PendingReveal),
		nowFunc:     time.Now,
		sweepLimit:  defaultSweepBatch,
	}
}

// Dispatch registers a pending reveal for every candidate, writes the
// tentative pending result rows, and fans out the reveal requests with
// bounded parallelism. A failed dispatch rolls its candidate back to
// no_phone rather than leaving a pending entry nothing will ever answer.
func (c *Correlator) Dispatch(ctx context.Context, task *model.Task, candidates []model.Candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for _, cand := range candidates {
		if err := c.register(task, cand); err != nil {
			zap.L().Warn("reveal already pending, skipping dispatch",
				zap.String("task_id", task.ID),
				zap.String("candidate_id", cand.ID),
			)
			continue
		}

		if err := c.store.UpsertResult(ctx, model.SearchResult{
			TaskID:      task.ID,
			CandidateID: cand.ID,
			Candidate:   cand,
			PhoneState:  model.PhonePending,
			UpdatedAt:   c.nowFunc().UTC(),
		}); err != nil {
			c.unregister(cand.ID)
			return eris.Wrap(err, "correlate: persist pending result")
		}

		g.Go(func() error {
			if err := c.provider.RequestPhoneReveal(gctx, cand.ID, c.callbackURL); err != nil {
				c.failDispatch(gctx, task.ID, cand.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// failDispatch rolls a candidate back after the reveal request itself
// failed: no callback is coming, so the pending entry and the pending
// result state would both dangle forever.
func (c *Correlator) failDispatch(ctx context.Context, taskID, candidateID string, cause error) {
	c.unregister(candidateID)
	zap.L().Warn("phone reveal dispatch failed",
		zap.String("task_id", taskID),
		zap.String("candidate_id", candidateID),
		zap.Error(cause),
	)
	if err := c.transitionResult(ctx, taskID, candidateID, model.PhoneNone, "", ""); err != nil {
		zap.L().Error("rollback after failed dispatch", zap.Error(err))
		return
	}
	if err := c.store.AppendLog(ctx, taskID, model.LogWarn,
		fmt.Sprintf("phone reveal request failed for %s", candidateID)); err != nil {
		zap.L().Error("append task log", zap.Error(err))
	}
}

// HandleCallback consumes one webhook delivery. Unknown or already
// consumed candidates are skipped silently so provider redeliveries stay
// idempotent.
func (c *Correlator) HandleCallback(ctx context.Context, body []byte) error {
	matches, err := signalhire.ParseCallback(body)
	if err != nil {
		return eris.Wrap(err, "correlate: callback")
	}

	for _, m := range matches {
		pending, ok := c.consume(m.PersonUID)
		if !ok {
			zap.L().Debug("callback for unknown or already consumed reveal",
				zap.String("candidate_id", m.PersonUID),
			)
			continue
		}
		// One bad match must not abort the rest of a batch delivery.
		if err := c.applyMatch(ctx, pending, m); err != nil {
			zap.L().Error("apply callback match",
				zap.String("task_id", pending.TaskID),
				zap.String("candidate_id", pending.CandidateID),
				zap.Error(err),
			)
			continue
		}
		if c.OnResolved != nil {
			c.OnResolved(ctx, pending.TaskID)
		}
	}
	return nil
}

func (c *Correlator) applyMatch(ctx context.Context, pending *model.PendingReveal, m signalhire.CallbackMatch) error {
	phone, phoneType := pickPhone(m.Phones)
	if phone == "" {
		if err := c.transitionResult(ctx, pending.TaskID, pending.CandidateID, model.PhoneNone, "", ""); err != nil {
			return err
		}
		return c.store.AppendLog(ctx, pending.TaskID, model.LogInfo,
			fmt.Sprintf("no phone found for candidate %s", pending.CandidateID))
	}

	if err := c.transitionResult(ctx, pending.TaskID, pending.CandidateID, model.PhoneReceived, phone, phoneType); err != nil {
		return err
	}

	// A stopped task still gets its result row updated, but nothing
	// further happens on its behalf.
	task, err := c.store.GetTask(ctx, pending.TaskID)
	if err != nil {
		return eris.Wrap(err, "correlate: load task")
	}
	if task.Status == model.TaskStatusStopped {
		zap.L().Debug("phone received after task stop, skipping verification",
			zap.String("task_id", pending.TaskID),
			zap.String("candidate_id", pending.CandidateID),
		)
		return nil
	}

	r, err := c.store.GetResult(ctx, pending.TaskID, pending.CandidateID)
	if err != nil {
		return eris.Wrap(err, "correlate: load result")
	}
	if r == nil {
		return nil
	}
	return c.verifier.Process(ctx, r, pending.AgeFilter)
}

// SweepExpired closes out pending reveals the provider never answered.
// The results stay in the pending phone state — no_phone means the
// provider answered with an empty phone list, which never happened here —
// and are flagged no-response instead. Returns the number swept.
func (c *Correlator) SweepExpired(ctx context.Context) int {
	return c.SweepOlderThan(ctx, c.expiry)
}

// SweepOlderThan sweeps pending reveals registered more than age ago,
// regardless of the configured expiry. At most sweepLimit entries go per
// pass; a large backlog drains across ticks.
func (c *Correlator) SweepOlderThan(ctx context.Context, age time.Duration) int {
	cutoff := c.nowFunc().Add(-age)

	c.mu.Lock()
	var expired []*model.PendingReveal
	for uid, p := range c.pending {
		if len(expired) >= c.sweepLimit {
			break
		}
		if p.RegisteredAt.Before(cutoff) {
			expired = append(expired, p)
			delete(c.pending, uid)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		if err := c.markNoResponse(ctx, p.TaskID, p.CandidateID); err != nil {
			zap.L().Error("sweep mark no response", zap.Error(err))
			continue
		}
		if err := c.store.AppendLog(ctx, p.TaskID, model.LogWarn,
			fmt.Sprintf("no response from provider for %s, reveal timed out", p.CandidateID)); err != nil {
			zap.L().Error("append task log", zap.Error(err))
		}
		if c.OnResolved != nil {
			c.OnResolved(ctx, p.TaskID)
		}
	}

	if len(expired) > 0 {
		zap.L().Info("expired pending reveals swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// RunSweeper sweeps on the given interval until ctx is canceled.
func (c *Correlator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepExpired(ctx)
		}
	}
}

// PendingCount reports the in-flight reveal depth.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// register check-and-inserts atomically: at most one live pending entry
// per candidate UID, no matter how many goroutines dispatch at once.
func (c *Correlator) register(task *model.Task, cand model.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[cand.ID]; exists {
		return eris.Errorf("correlate: reveal already pending for %s", cand.ID)
	}
	c.pending[cand.ID] = &model.PendingReveal{
		CorrelationID: uuid.New().String(),
		TaskID:        task.ID,
		CandidateID:   cand.ID,
		Candidate:     cand,
		AgeFilter:     task.AgeFilter,
		RegisteredAt:  c.nowFunc().UTC(),
	}
	return nil
}

func (c *Correlator) unregister(candidateID string) {
	c.mu.Lock()
	delete(c.pending, candidateID)
	c.mu.Unlock()
}

// consume removes and returns the pending entry, exactly once.
func (c *Correlator) consume(candidateID string) (*model.PendingReveal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[candidateID]
	if ok {
		delete(c.pending, candidateID)
	}
	return p, ok
}

// markNoResponse flags a swept result as never answered. The phone state
// stays where it was; a late callback can still consume nothing (the
// pending entry is gone) but the row reads "no response" to the customer.
func (c *Correlator) markNoResponse(ctx context.Context, taskID, candidateID string) error {
	r, err := c.store.GetResult(ctx, taskID, candidateID)
	if err != nil {
		return eris.Wrap(err, "correlate: load result")
	}
	if r == nil {
		return nil
	}
	r.NoResponse = true
	r.UpdatedAt = c.nowFunc().UTC()
	return eris.Wrap(c.store.UpsertResult(ctx, *r), "correlate: persist result")
}

// transitionResult applies a phone-state transition, enforcing the state
// machine against the stored row.
func (c *Correlator) transitionResult(ctx context.Context, taskID, candidateID string, next model.PhoneState, phone, phoneType string) error {
	r, err := c.store.GetResult(ctx, taskID, candidateID)
	if err != nil {
		return eris.Wrap(err, "correlate: load result")
	}
	if r == nil {
		return nil
	}
	if !r.PhoneState.CanTransition(next) {
		zap.L().Warn("illegal phone-state transition skipped",
			zap.String("task_id", taskID),
			zap.String("candidate_id", candidateID),
			zap.String("from", string(r.PhoneState)),
			zap.String("to", string(next)),
		)
		return nil
	}

	r.PhoneState = next
	if phone != "" {
		r.Phone = phone
		r.PhoneType = phoneType
	}
	r.UpdatedAt = c.nowFunc().UTC()
	return eris.Wrap(c.store.UpsertResult(ctx, *r), "correlate: persist result")
}

// pickPhone prefers mobile, then personal, then whatever came first.
func pickPhone(phones []signalhire.PhoneEntry) (string, string) {
	for _, want := range []string{"mobile", "personal"} {
		for _, p := range phones {
			if p.Type == want && p.Number != "" {
				return p.Number, p.Type
			}
		}
	}
	for _, p := range phones {
		if p.Number != "" {
			return p.Number, p.Type
		}
	}
	return "", ""
}
