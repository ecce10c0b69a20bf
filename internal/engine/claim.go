package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/workspace"
)

// Claim outcomes.
const (
	ClaimOutcomeClaimed        = "claimed"
	ClaimOutcomeAlreadyClaimed = "already_claimed"
)

// ClaimResult reports a successful claim. Branch carries the resolved feature
// branch so the agent can immediately create its worktree.
type ClaimResult struct {
	Outcome string
	Task    *core.Task
	Branch  string
}

// ClaimTask is the serialisation point for agent/task assignment. The write
// transaction takes the database's write lock, so concurrent claimants are
// serialised: exactly one wins, the loser sees the winner's agent id in a
// conflict error.
func (e *Engine) ClaimTask(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, agentID string) (*ClaimResult, error) {
	if agentID == "" {
		return nil, core.ErrValidation("AGENT_ID_REQUIRED", "agent_id cannot be empty")
	}

	result := &ClaimResult{Outcome: ClaimOutcomeClaimed}
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		project, err := e.store.GetProjectTx(ctx, tx, projectID)
		if err != nil {
			return err
		}
		task, err := e.store.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.ProjectID != projectID {
			return core.ErrNotFound("task", string(taskID))
		}

		if task.AssignedAgent == agentID {
			result.Outcome = ClaimOutcomeAlreadyClaimed
			result.Branch, err = e.ensureBranchTx(ctx, tx, task)
			result.Task = task
			return err
		}
		if task.AssignedAgent != "" {
			return core.ErrConflict(core.CodeClaimedByOther,
				fmt.Sprintf("task is claimed by agent %s", task.AssignedAgent)).
				WithDetail("assigned_agent", task.AssignedAgent)
		}
		if !project.Semantics.IsClaimable(task.Status) {
			return core.ErrValidation(core.CodeNotClaimable,
				fmt.Sprintf("task status %q is not claimable", task.Status))
		}

		task.AssignedAgent = agentID
		result.Branch, err = e.ensureBranchTx(ctx, tx, task)
		if err != nil {
			return err
		}
		result.Task = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == ClaimOutcomeClaimed {
		e.publish(ctx, events.New(events.TypeTaskClaimed).
			WithProject(string(projectID)).
			WithTask(string(taskID)).
			WithAgent(agentID).
			WithData("branch", result.Branch))
		e.logger.Info("task claimed",
			"project_id", projectID,
			"task_id", taskID,
			"agent_id", agentID,
			"branch", result.Branch)
	}
	return result, nil
}

// ensureBranchTx computes and persists the task's feature branch when absent,
// writing the task row in either case so a plain claim also commits the
// assignment.
func (e *Engine) ensureBranchTx(ctx context.Context, tx *sql.Tx, task *core.Task) (string, error) {
	branch := task.GitBranch()
	if branch == "" {
		branch = workspace.TaskBranchName(task.ID, task.Title)
		task.Metadata = task.Metadata.Set(core.MetaGitBranch, branch)
	}
	return branch, e.store.UpdateTaskTx(ctx, tx, task)
}
