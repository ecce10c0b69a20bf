package core

import "time"

// StepStatus represents the current state of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusQueued    StepStatus = "queued"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Step is one agent turn within a run. There is exactly one row per
// (RunID, StepID); retries reset the row in place.
type Step struct {
	ID           string
	RunID        RunID
	StepID       string
	AgentID      string
	Status       StepStatus
	SessionID    string
	Inputs       map[string]interface{}
	Outputs      map[string]interface{}
	Error        string
	RetryCount   int
	MaxRetries   int
	HumanContext string
	ModelUsed    string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// LoopState tracks per-step item-by-item progress for map-style pipelines.
type LoopState struct {
	RunID        RunID
	StepID       string
	Items        []LoopItem
	CurrentIndex int
}

// LoopItem is one element of a loop step's work list.
type LoopItem struct {
	Value  string `json:"value"`
	Status string `json:"status"`
}

// Advance scans from CurrentIndex for the next pending item and moves the
// cursor to it. Returns the item and true, or false when the loop is
// exhausted.
func (l *LoopState) Advance() (*LoopItem, bool) {
	for i := l.CurrentIndex; i < len(l.Items); i++ {
		if l.Items[i].Status == "pending" {
			l.CurrentIndex = i
			return &l.Items[i], true
		}
	}
	return nil, false
}
