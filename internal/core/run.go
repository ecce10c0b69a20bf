package core

import "time"

// RunID uniquely identifies a pipeline run.
type RunID string

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Run is one execution of a pipeline against a project.
type Run struct {
	ID                RunID
	PipelineID        string
	ProjectID         ProjectID
	TaskDescription   string
	Status            RunStatus
	CurrentStepID     string
	Outputs           map[string]string
	HumanContext      string
	InitiatedByUserID string
	ModelOverride     string
	TaskBranch        string
	WorkspaceType     WorkspaceType
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NewRun creates a pending run.
func NewRun(id RunID, pipelineID string) *Run {
	now := time.Now()
	return &Run{
		ID:            id,
		PipelineID:    pipelineID,
		Status:        RunStatusPending,
		Outputs:       make(map[string]string),
		WorkspaceType: WorkspaceEphemeral,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TaskRun is the history record linking a task to each run it spawned.
type TaskRun struct {
	ID          string
	TaskID      TaskID
	RunID       RunID
	PipelineID  string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}
