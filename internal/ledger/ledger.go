// Package ledger tracks which candidates have been sold to which
// customers, so the same contact is never delivered twice inside the
// cooldown window.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// Ledger answers "who already got this candidate" questions against the
// append-only assignments table. Writes never update rows; the history
// doubles as an audit trail.
type Ledger struct {
	store      store.Store
	expireDays int
}

// New creates a ledger with the given exclusion window in days.
func New(st store.Store, expireDays int) *Ledger {
	return &Ledger{store: st, expireDays: expireDays}
}

// ExclusionSet returns the candidate IDs assigned for this fingerprint
// within the exclusion window. Older assignments no longer block reuse.
func (l *Ledger) ExclusionSet(ctx context.Context, fp model.Fingerprint) (map[string]bool, error) {
	since := time.Now().UTC().AddDate(0, 0, -l.expireDays)
	records, err := l.store.ListAssignments(ctx, fp, since)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: exclusion set")
	}

	excluded := make(map[string]bool, len(records))
	for _, r := range records {
		excluded[r.CandidateID] = true
	}
	return excluded, nil
}

// Record appends one assignment per candidate for this customer.
func (l *Ledger) Record(ctx context.Context, fp model.Fingerprint, candidateIDs []string, customerID string) error {
	if len(candidateIDs) == 0 {
		return nil
	}
	if err := l.store.RecordAssignments(ctx, fp, candidateIDs, customerID); err != nil {
		return eris.Wrap(err, "ledger: record assignments")
	}
	zap.L().Debug("assignments recorded",
		zap.String("fingerprint", string(fp)),
		zap.String("customer", customerID),
		zap.Int("count", len(candidateIDs)),
	)
	return nil
}

// PruneExpired physically deletes assignments past the exclusion window.
// They stopped affecting exclusion sets the moment they aged out; this
// just reclaims space.
func (l *Ledger) PruneExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -l.expireDays)
	n, err := l.store.DeleteAssignmentsBefore(ctx, cutoff)
	return n, eris.Wrap(err, "ledger: prune expired")
}
