package core

import "time"

// TaskID uniquely identifies a task.
type TaskID string

// Priority orders tasks from P0 (urgent) to P3 (low).
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Rank returns a sortable weight, lower is more urgent. Unknown priorities
// sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	default:
		return 4
	}
}

// Metadata keys used by the engines.
const (
	MetaGitBranch        = "git_branch"
	MetaPreBlockStatus   = "pre_block_status"
	MetaPreBlockColumnID = "pre_block_column_id"
	MetaTransitionNotes  = "transition_notes"
	MetaPRNumber         = "pr_number"
	MetaPRURL            = "pr_url"
)

// TransitionNote records an annotated status move.
type TransitionNote struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskMetadata is the free-form key/value bag carried by every task.
type TaskMetadata map[string]interface{}

// GetString returns the string value for key, empty when absent or not a
// string.
func (m TaskMetadata) GetString(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Set stores a value, allocating the map on first use. Returns the map so a
// nil receiver can be replaced.
func (m TaskMetadata) Set(key string, value interface{}) TaskMetadata {
	if m == nil {
		m = make(TaskMetadata)
	}
	m[key] = value
	return m
}

// Delete removes a key if present.
func (m TaskMetadata) Delete(key string) {
	if m != nil {
		delete(m, key)
	}
}

// Task is the unit of work.
type Task struct {
	ID              TaskID
	ProjectID       ProjectID
	Title           string
	Description     string
	Status          string
	Priority        Priority
	AssignedAgent   string
	WorkflowID      string
	PipelineID      string
	RunID           string
	ParentTaskID    TaskID
	Tags            []string
	EstimatedHours  float64
	ColumnID        ColumnID
	ColumnPosition  int
	Metadata        TaskMetadata
	WorkType        WorkType
	CompletedStages []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewTask creates a task with defaults applied.
func NewTask(id TaskID, projectID ProjectID, title string) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		Priority:  PriorityP2,
		Metadata:  make(TaskMetadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task ID cannot be empty")
	}
	if t.Title == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", "task title cannot be empty")
	}
	if t.ProjectID == "" {
		return ErrValidation("TASK_PROJECT_REQUIRED", "task must belong to a project")
	}
	return nil
}

// GitBranch returns the feature branch recorded for the task, if any.
func (t *Task) GitBranch() string {
	return t.Metadata.GetString(MetaGitBranch)
}

// HasCompletedStage reports whether stage was already recorded.
func (t *Task) HasCompletedStage(stage string) bool {
	for _, s := range t.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// RecordStage appends stage to the completed list, deduplicated.
func (t *Task) RecordStage(stage string) {
	if stage == "" || t.HasCompletedStage(stage) {
		return
	}
	t.CompletedStages = append(t.CompletedStages, stage)
}
