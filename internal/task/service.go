// Package task orchestrates the lead pipeline end to end: create the
// task, acquire candidates, dispatch phone reveals, and track the task
// through completion.
package task

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/acquire"
	"github.com/sells-group/leadgen-cli/internal/correlate"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

// Service drives customer search tasks.
type Service struct {
	store      store.Store
	acquirer   *acquire.Acquirer
	correlator *correlate.Correlator
}

// New creates the task service and hooks it into the correlator's
// resolution events so tasks complete as their last reveal settles.
func New(st store.Store, a *acquire.Acquirer, c *correlate.Correlator) *Service {
	s := &Service{store: st, acquirer: a, correlator: c}
	c.OnResolved = s.maybeComplete
	return s
}

// Start creates a task, acquires candidates for it, and dispatches the
// phone reveals. The returned task is in the running state unless the
// pipeline finished (or failed) synchronously.
func (s *Service) Start(ctx context.Context, customerID string, q model.Query, requested int, ageFilter *model.AgeRange) (*model.Task, error) {
	t, err := s.store.CreateTask(ctx, customerID, q, requested, ageFilter)
	if err != nil {
		return nil, eris.Wrap(err, "task: create")
	}
	s.log(ctx, t.ID, model.LogInfo,
		fmt.Sprintf("task started: %d leads for %q / %q in %q", requested, q.Name, q.Title, q.Region))

	acq, err := s.acquirer.Acquire(ctx, q, requested, customerID)
	if err != nil {
		s.log(ctx, t.ID, model.LogWarn, fmt.Sprintf("acquisition failed: %v", err))
		if uerr := s.store.UpdateTaskStatus(ctx, t.ID, model.TaskStatusFailed); uerr != nil {
			zap.L().Error("mark task failed", zap.Error(uerr))
		}
		t.Status = model.TaskStatusFailed
		return t, eris.Wrap(err, "task: acquire")
	}

	s.log(ctx, t.ID, model.LogInfo, acquisitionSummary(acq))
	if acq.Partial {
		s.log(ctx, t.ID, model.LogWarn,
			fmt.Sprintf("provider unavailable, delivered %d of %d requested", len(acq.Records), requested))
	}

	if len(acq.Records) == 0 {
		s.log(ctx, t.ID, model.LogWarn, "no candidates available for this query")
		if err := s.store.UpdateTaskStatus(ctx, t.ID, model.TaskStatusComplete); err != nil {
			return t, eris.Wrap(err, "task: complete empty task")
		}
		t.Status = model.TaskStatusComplete
		return t, nil
	}

	if err := s.correlator.Dispatch(ctx, t, acq.Records); err != nil {
		return t, eris.Wrap(err, "task: dispatch reveals")
	}

	// Every dispatch may have failed synchronously; check rather than
	// waiting on a sweep that has nothing to sweep.
	s.maybeComplete(ctx, t.ID)
	return t, nil
}

// Stop halts a running task. Reveals already in flight keep updating
// their result rows when callbacks land, but nothing further is done on
// the task's behalf.
func (s *Service) Stop(ctx context.Context, taskID string) error {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return eris.Wrap(err, "task: load")
	}
	if t.Status != model.TaskStatusRunning {
		return eris.Errorf("task: cannot stop task in state %s", t.Status)
	}
	if err := s.store.UpdateTaskStatus(ctx, taskID, model.TaskStatusStopped); err != nil {
		return eris.Wrap(err, "task: stop")
	}
	s.log(ctx, taskID, model.LogInfo, "task stopped by customer")
	return nil
}

// maybeComplete marks a running task complete once no result is still
// waiting on a phone reveal. A pending result the sweep flagged as
// no-response counts as settled: its reveal will never be answered.
func (s *Service) maybeComplete(ctx context.Context, taskID string) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		zap.L().Error("completion check: load task", zap.Error(err))
		return
	}
	if t.Status != model.TaskStatusRunning {
		return
	}

	results, err := s.store.ListResults(ctx, taskID)
	if err != nil {
		zap.L().Error("completion check: list results", zap.Error(err))
		return
	}
	for _, r := range results {
		if r.PhoneState == model.PhonePending && !r.NoResponse {
			return
		}
	}

	if err := s.store.UpdateTaskStatus(ctx, taskID, model.TaskStatusComplete); err != nil {
		zap.L().Error("completion check: update status", zap.Error(err))
		return
	}
	s.log(ctx, taskID, model.LogInfo, fmt.Sprintf("task complete: %d results", len(results)))
}

// log appends to the task log, downgrading append failures to a zap
// error so pipeline progress never stalls on bookkeeping.
func (s *Service) log(ctx context.Context, taskID string, level model.LogLevel, msg string) {
	if err := s.store.AppendLog(ctx, taskID, level, msg); err != nil {
		zap.L().Error("append task log",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func acquisitionSummary(acq *model.Acquisition) string {
	switch acq.Source {
	case model.SourceAPI:
		return fmt.Sprintf("acquired %d candidates from provider", len(acq.Records))
	case model.SourceCache:
		return fmt.Sprintf("acquired %d candidates from cache (coverage %.0f%%)", len(acq.Records), acq.CoverageRate*100)
	default:
		return fmt.Sprintf("acquired %d candidates (%d cached, %d from provider)", len(acq.Records), acq.FromCache, acq.FromAPI)
	}
}
