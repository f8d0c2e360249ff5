package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/observability"
)

// JobRunner executes one claimed job and reports its recorded outcome. Job
// failures belong in the result, not in an error: the runner only errors
// when it cannot report an outcome at all.
type JobRunner interface {
	RunJob(ctx context.Context, claim WorkClaim) JobResult
}

// Driver pumps the claim, execute, update loop for one run until no further
// progress is possible.
type Driver struct {
	engine *Engine
	runner JobRunner
	log    zerolog.Logger
}

// NewDriver wires a driver to an engine and a job runner.
func NewDriver(eng *Engine, runner JobRunner, log zerolog.Logger) (*Driver, error) {
	if eng == nil {
		return nil, fmt.Errorf("run driver: engine is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("run driver: job runner is required")
	}
	return &Driver{engine: eng, runner: runner, log: log}, nil
}

// Run starts a new run and drives it to rest. The returned state is terminal
// or blocked on an approval.
func (d *Driver) Run(ctx context.Context, req StartRequest) (State, error) {
	state, err := d.engine.Start(req)
	if err != nil {
		return State{}, err
	}
	d.log.Info().
		Str("run_id", state.RunID).
		Str("workflow", state.Workflow).
		Msg("run started")
	return d.drive(ctx, state)
}

// ResumeRun reloads the persisted run and drives it to rest.
func (d *Driver) ResumeRun(ctx context.Context, req ResumeRequest) (State, error) {
	state, err := d.engine.Resume(req)
	if err != nil {
		return State{}, err
	}
	d.log.Info().
		Str("run_id", state.RunID).
		Str("status", string(state.Status)).
		Msg("run resumed")
	return d.drive(ctx, state)
}

func (d *Driver) drive(ctx context.Context, state State) (State, error) {
	entryStatus := state.Status
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	if limit := state.Runtime.MaxParallel; limit > 0 {
		group.SetLimit(limit)
	}

	results := make(chan JobUpdate)
	inflight := 0
	var driveErr error

loop:
	for {
		claimed, err := d.engine.Claim(ClaimRequest{})
		if err != nil {
			driveErr = err
			break
		}
		state = claimed.State
		for _, claim := range claimed.Claims {
			claim := claim
			inflight++
			d.log.Info().
				Str("run_id", claim.RunID).
				Str("job", claim.ID).
				Str("executor", claim.Job.EffectiveExecutor()).
				Msg("job dispatched")
			group.Go(func() error {
				result := d.runner.RunJob(groupCtx, claim)
				select {
				case results <- JobUpdate{ID: claim.ID, Result: result}:
					return nil
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			})
		}
		if inflight == 0 {
			break
		}
		select {
		case update := <-results:
			inflight--
			d.logOutcome(state.RunID, update)
			next, err := d.engine.Update(UpdateRequest{Results: []JobUpdate{update}})
			if err != nil {
				driveErr = err
				break loop
			}
			state = next
		case <-ctx.Done():
			driveErr = ctx.Err()
			break loop
		}
	}

	cancel()
	if err := group.Wait(); err != nil && driveErr == nil && !errors.Is(err, context.Canceled) {
		driveErr = err
	}
	if driveErr != nil {
		return state, driveErr
	}

	if state.Status.Terminal() && state.Status != entryStatus {
		observability.RecordRun(state.Workflow, string(state.Status))
	}
	event := d.log.Info()
	if state.Status == RunStatusFailed {
		event = d.log.Error()
	}
	event.
		Str("run_id", state.RunID).
		Str("status", string(state.Status)).
		Str("reason", state.StatusReason).
		Msg("run finished")
	return state, nil
}

func (d *Driver) logOutcome(runID string, update JobUpdate) {
	event := d.log.Info()
	switch update.Result.Status {
	case StatusFailed:
		event = d.log.Error()
	case StatusSkipped:
		event = d.log.Warn()
	}
	event.
		Str("run_id", runID).
		Str("job", update.ID).
		Str("status", string(update.Result.Status)).
		Int("exit_code", update.Result.ExitCode).
		Dur("elapsed", update.Result.Duration()).
		Msg("job finished")
}
