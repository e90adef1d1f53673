// Package verifier cross-checks revealed phone numbers against Trestle
// Real Contact and applies post-verification filters.
package verifier

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/trestle"
)

// Verifier runs the verification and filter stage on results that just
// received a phone number.
type Verifier struct {
	store    store.Store
	client   trestle.Client
	minScore float64
	breaker  *resilience.CircuitBreaker
}

// New creates a verifier. Results scoring at or above minScore are
// promoted to verified.
func New(st store.Store, client trestle.Client, minScore float64) *Verifier {
	return &Verifier{
		store:    st,
		client:   client,
		minScore: minScore,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{}),
	}
}

// Process verifies a received result and applies the optional age filter.
//
// A verification outage is not an error for the pipeline: the result
// stays in the received state with its phone intact, which is still a
// deliverable outcome. Only store failures propagate.
func (v *Verifier) Process(ctx context.Context, r *model.SearchResult, ageFilter *model.AgeRange) error {
	if r.PhoneState != model.PhoneReceived {
		return eris.Errorf("verifier: result %s/%s is %s, want received", r.TaskID, r.CandidateID, r.PhoneState)
	}

	vr, err := resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (*trestle.VerifyResult, error) {
		return v.client.Verify(ctx, trestle.VerifyRequest{
			Name:   r.Candidate.FullName,
			City:   r.Candidate.City,
			Region: r.Candidate.Region,
			Phone:  r.Phone,
		})
	})
	if err != nil {
		zap.L().Warn("verification unavailable, keeping result as received",
			zap.String("task_id", r.TaskID),
			zap.String("candidate_id", r.CandidateID),
			zap.Error(err),
		)
		return v.store.AppendLog(ctx, r.TaskID, model.LogWarn,
			fmt.Sprintf("verification unavailable for %s, delivered unverified", r.CandidateID))
	}

	r.Score = vr.MatchScore
	r.Age = vr.Age
	r.Carrier = vr.Carrier

	if vr.MatchScore >= v.minScore && r.PhoneState.CanTransition(model.PhoneVerified) {
		r.PhoneState = model.PhoneVerified
	}

	if ageFilter != nil && vr.Age > 0 && !ageFilter.Contains(vr.Age) {
		if err := v.store.DeleteResult(ctx, r.TaskID, r.CandidateID); err != nil {
			return eris.Wrap(err, "verifier: delete filtered result")
		}
		zap.L().Info("result removed by age filter",
			zap.String("task_id", r.TaskID),
			zap.String("candidate_id", r.CandidateID),
			zap.Int("age", vr.Age),
		)
		return v.store.AppendLog(ctx, r.TaskID, model.LogInfo,
			fmt.Sprintf("candidate %s filtered out: age %d outside %d-%d", r.CandidateID, vr.Age, ageFilter.Min, ageFilter.Max))
	}

	r.Accepted = true
	if err := v.store.UpsertResult(ctx, *r); err != nil {
		return eris.Wrap(err, "verifier: persist verified result")
	}

	if r.PhoneState == model.PhoneVerified {
		return v.store.AppendLog(ctx, r.TaskID, model.LogInfo,
			fmt.Sprintf("candidate %s verified (score %.2f)", r.CandidateID, vr.MatchScore))
	}
	return v.store.AppendLog(ctx, r.TaskID, model.LogWarn,
		fmt.Sprintf("candidate %s below verification threshold (score %.2f), delivered unverified", r.CandidateID, vr.MatchScore))
}
