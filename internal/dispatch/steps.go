package dispatch

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
)

// CreateStep registers a step for a run. Re-creating an existing (run, step)
// pair resets the row for retry: status back to pending, retry count bumped,
// outputs and error cleared, inputs overwritten.
func (d *Dispatcher) CreateStep(ctx context.Context, runID core.RunID, stepID, agentID string, inputs map[string]interface{}, maxRetries int) (*core.Step, error) {
	if _, err := d.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	step := &core.Step{
		ID:         uuid.NewString(),
		RunID:      runID,
		StepID:     stepID,
		AgentID:    agentID,
		Status:     core.StepStatusPending,
		Inputs:     inputs,
		MaxRetries: maxRetries,
	}
	if err := d.store.UpsertStep(ctx, step); err != nil {
		return nil, err
	}
	return d.store.GetStep(ctx, runID, stepID)
}

// UpdateStep patches a step and announces the change on the run's control
// stream.
func (d *Dispatcher) UpdateStep(ctx context.Context, step *core.Step) error {
	if err := d.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	events.TryPublish(ctx, d.bus, d.logger, events.RunStream(string(step.RunID)),
		events.New(events.TypeStepUpdated).
			WithRun(string(step.RunID)).
			WithAgent(step.AgentID).
			WithData("step_id", step.StepID).
			WithData("status", string(step.Status)))
	return nil
}

// RestartStep resets one step to pending and revives the run, even from a
// terminal state. The run is re-posted to the new-runs stream because the
// engine's previous subscription may have been torn down.
func (d *Dispatcher) RestartStep(ctx context.Context, runID core.RunID, stepID string) error {
	step, err := d.store.GetStep(ctx, runID, stepID)
	if err != nil {
		return err
	}
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	step.Status = core.StepStatusPending
	step.Outputs = nil
	step.Error = ""
	step.StartedAt = nil
	step.CompletedAt = nil
	if err := d.store.UpdateStep(ctx, step); err != nil {
		return err
	}

	run.Status = core.RunStatusRunning
	run.CompletedAt = nil
	if err := d.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	events.TryPublish(ctx, d.bus, d.logger, events.RunStream(string(runID)),
		events.New(events.TypeHumanIntervention).
			WithRun(string(runID)).
			WithData("action", "restart").
			WithData("step_id", stepID))
	events.TryPublish(ctx, d.bus, d.logger, events.StreamNewRuns,
		events.New(events.TypeRunNew).
			WithRun(string(runID)).
			WithData("pipeline_id", run.PipelineID))

	d.logger.Info("step restarted", "run_id", runID, "step_id", stepID)
	return nil
}

// RestartRun resets every step of a run to pending and requeues the run.
func (d *Dispatcher) RestartRun(ctx context.Context, runID core.RunID) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	err = d.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := d.store.ResetStepsForRun(ctx, tx, runID); err != nil {
			return err
		}
		run.Status = core.RunStatusPending
		run.CompletedAt = nil
		run.CurrentStepID = ""
		return d.store.UpdateRunTx(ctx, tx, run)
	})
	if err != nil {
		return err
	}

	events.TryPublish(ctx, d.bus, d.logger, events.StreamNewRuns,
		events.New(events.TypeRunNew).
			WithRun(string(runID)).
			WithData("pipeline_id", run.PipelineID))

	d.logger.Info("run restarted", "run_id", runID)
	return nil
}

// Pause marks a run paused. Workers observe the status asynchronously.
func (d *Dispatcher) Pause(ctx context.Context, runID core.RunID) error {
	return d.setRunStatus(ctx, runID, core.RunStatusPaused, nil)
}

// Resume sets a run back to running and re-emits STEP_QUEUED for every step
// still sitting in the queue, so workers pick up where the pause left off.
func (d *Dispatcher) Resume(ctx context.Context, runID core.RunID) error {
	if err := d.setRunStatus(ctx, runID, core.RunStatusRunning, nil); err != nil {
		return err
	}
	steps, err := d.store.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.Status != core.StepStatusQueued {
			continue
		}
		events.TryPublish(ctx, d.bus, d.logger, events.RunStream(string(runID)),
			events.New(events.TypeStepQueued).
				WithRun(string(runID)).
				WithAgent(step.AgentID).
				WithData("step_id", step.StepID))
	}
	return nil
}

// Cancel terminates a run. Cancellation never blocks the caller; workers
// react to the intervention event asynchronously.
func (d *Dispatcher) Cancel(ctx context.Context, runID core.RunID) error {
	now := time.Now()
	if err := d.setRunStatus(ctx, runID, core.RunStatusCancelled, &now); err != nil {
		return err
	}
	events.TryPublish(ctx, d.bus, d.logger, events.RunStream(string(runID)),
		events.New(events.TypeHumanIntervention).
			WithRun(string(runID)).
			WithData("action", "stop"))
	d.logger.Info("run cancelled", "run_id", runID)
	return nil
}

func (d *Dispatcher) setRunStatus(ctx context.Context, runID core.RunID, status core.RunStatus, completedAt *time.Time) error {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	run.Status = status
	run.CompletedAt = completedAt
	return d.store.UpdateRun(ctx, run)
}

// SetOutput records a key/value pair a step exposes to later steps. Writes
// upsert on (run, key): the latest writer wins.
func (d *Dispatcher) SetOutput(ctx context.Context, runID core.RunID, stepID, key, value string) error {
	return d.store.SetOutput(ctx, runID, stepID, key, value)
}

// Outputs returns the accumulated key/value outputs of a run.
func (d *Dispatcher) Outputs(ctx context.Context, runID core.RunID) (map[string]string, error) {
	return d.store.GetOutputs(ctx, runID)
}

// SaveLoopState persists a loop step's cursor.
func (d *Dispatcher) SaveLoopState(ctx context.Context, ls *core.LoopState) error {
	return d.store.SaveLoopState(ctx, ls)
}

// AdvanceLoop moves a loop step's cursor to its next pending item and
// persists the new position. The second return is false when the loop is
// exhausted.
func (d *Dispatcher) AdvanceLoop(ctx context.Context, runID core.RunID, stepID string) (*core.LoopItem, bool, error) {
	ls, err := d.store.GetLoopState(ctx, runID, stepID)
	if err != nil {
		return nil, false, err
	}
	if ls == nil {
		return nil, false, core.ErrNotFound("loop_state", stepID)
	}
	item, ok := ls.Advance()
	if !ok {
		return nil, false, nil
	}
	if err := d.store.SaveLoopState(ctx, ls); err != nil {
		return nil, false, err
	}
	return item, true, nil
}
