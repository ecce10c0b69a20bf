package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/djinnbot/djinnbot/internal/core"
)

const stepColumns = `id, run_id, step_id, agent_id, status, session_id,
	inputs, outputs, error, retry_count, max_retries, human_context,
	model_used, started_at, completed_at`

// UpsertStep creates the step row or, when the (run_id, step_id) pair
// already exists, resets it for retry: status back to pending, retry_count
// incremented in place, outputs/error/timestamps cleared, inputs
// overwritten.
func (s *Store) UpsertStep(ctx context.Context, st *core.Step) error {
	inputs, err := json.Marshal(orEmptyMap(st.Inputs))
	if err != nil {
		return fmt.Errorf("marshaling step inputs: %w", err)
	}
	outputs, err := json.Marshal(orEmptyMap(st.Outputs))
	if err != nil {
		return fmt.Errorf("marshaling step outputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			status = 'pending',
			retry_count = retry_count + 1,
			agent_id = excluded.agent_id,
			inputs = excluded.inputs,
			outputs = '{}',
			error = '',
			started_at = NULL,
			completed_at = NULL`,
		st.ID, st.RunID, st.StepID, st.AgentID, st.Status, st.SessionID,
		string(inputs), string(outputs), st.Error, st.MaxRetries,
		st.HumanContext, st.ModelUsed,
		timeToNullMs(st.StartedAt), timeToNullMs(st.CompletedAt))
	if err != nil {
		return fmt.Errorf("upserting step: %w", err)
	}
	return nil
}

func orEmptyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// GetStep fetches a step by run id and pipeline step id.
func (s *Store) GetStep(ctx context.Context, runID core.RunID, stepID string) (*core.Step, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+stepColumns+" FROM steps WHERE run_id = ? AND step_id = ?", runID, stepID)
	st, err := scanStep(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("step", string(runID)+"/"+stepID)
	}
	return st, err
}

// ListSteps returns the steps of a run in creation order.
func (s *Store) ListSteps(ctx context.Context, runID core.RunID) ([]*core.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+stepColumns+" FROM steps WHERE run_id = ? ORDER BY rowid", runID)
	if err != nil {
		return nil, fmt.Errorf("listing steps: %w", err)
	}
	defer rows.Close()

	var steps []*core.Step
	for rows.Next() {
		st, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func scanStep(scan func(...any) error) (*core.Step, error) {
	var (
		st          core.Step
		inputs      string
		outputs     string
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	err := scan(&st.ID, &st.RunID, &st.StepID, &st.AgentID, &st.Status, &st.SessionID,
		&inputs, &outputs, &st.Error, &st.RetryCount, &st.MaxRetries,
		&st.HumanContext, &st.ModelUsed, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning step: %w", err)
	}
	if err := json.Unmarshal([]byte(inputs), &st.Inputs); err != nil {
		return nil, fmt.Errorf("decoding step inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(outputs), &st.Outputs); err != nil {
		return nil, fmt.Errorf("decoding step outputs: %w", err)
	}
	st.StartedAt = nullMsToTime(startedAt)
	st.CompletedAt = nullMsToTime(completedAt)
	return &st, nil
}

// UpdateStep rewrites the mutable step fields.
func (s *Store) UpdateStep(ctx context.Context, st *core.Step) error {
	inputs, err := json.Marshal(orEmptyMap(st.Inputs))
	if err != nil {
		return fmt.Errorf("marshaling step inputs: %w", err)
	}
	outputs, err := json.Marshal(orEmptyMap(st.Outputs))
	if err != nil {
		return fmt.Errorf("marshaling step outputs: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET status = ?, agent_id = ?, session_id = ?, inputs = ?,
			outputs = ?, error = ?, retry_count = ?, human_context = ?,
			model_used = ?, started_at = ?, completed_at = ?
		WHERE run_id = ? AND step_id = ?`,
		st.Status, st.AgentID, st.SessionID, string(inputs),
		string(outputs), st.Error, st.RetryCount, st.HumanContext,
		st.ModelUsed, timeToNullMs(st.StartedAt), timeToNullMs(st.CompletedAt),
		st.RunID, st.StepID)
	if err != nil {
		return fmt.Errorf("updating step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound("step", string(st.RunID)+"/"+st.StepID)
	}
	return nil
}

// ResetStepsForRun resets every step of a run to pending, preserving retry
// counts. Used by run restarts.
func (s *Store) ResetStepsForRun(ctx context.Context, tx *sql.Tx, runID core.RunID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE steps SET status = 'pending', outputs = '{}', error = '',
			started_at = NULL, completed_at = NULL
		WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("resetting steps: %w", err)
	}
	return nil
}

// SetOutput upserts a run-scoped key/value pair visible to later steps.
func (s *Store) SetOutput(ctx context.Context, runID core.RunID, stepID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outputs (run_id, step_id, key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value, step_id = excluded.step_id`,
		runID, stepID, key, value)
	if err != nil {
		return fmt.Errorf("setting output: %w", err)
	}
	return nil
}

// GetOutputs returns all key/value outputs of a run.
func (s *Store) GetOutputs(ctx context.Context, runID core.RunID) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM outputs WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("listing outputs: %w", err)
	}
	defer rows.Close()

	outputs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning output: %w", err)
		}
		outputs[k] = v
	}
	return outputs, rows.Err()
}

// SaveLoopState upserts the loop cursor for a (run, step) pair.
func (s *Store) SaveLoopState(ctx context.Context, ls *core.LoopState) error {
	items, err := json.Marshal(ls.Items)
	if err != nil {
		return fmt.Errorf("marshaling loop items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loop_states (run_id, step_id, items, current_index)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			items = excluded.items, current_index = excluded.current_index`,
		ls.RunID, ls.StepID, string(items), ls.CurrentIndex)
	if err != nil {
		return fmt.Errorf("saving loop state: %w", err)
	}
	return nil
}

// GetLoopState fetches the loop cursor, nil when none exists.
func (s *Store) GetLoopState(ctx context.Context, runID core.RunID, stepID string) (*core.LoopState, error) {
	var (
		items string
		ls    = core.LoopState{RunID: runID, StepID: stepID}
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT items, current_index FROM loop_states WHERE run_id = ? AND step_id = ?",
		runID, stepID).Scan(&items, &ls.CurrentIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching loop state: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &ls.Items); err != nil {
		return nil, fmt.Errorf("decoding loop items: %w", err)
	}
	return &ls, nil
}
