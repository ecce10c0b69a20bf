// Package events provides durable, append-only event delivery between the
// orchestration engines, the dashboard, and the worker pool. Streams are
// totally ordered; there are no ordering guarantees across streams, and
// consumers must be idempotent.
package events

import (
	"context"
	"time"

	"github.com/djinnbot/djinnbot/internal/logging"
)

// Stream names used by the core.
const (
	// StreamGlobal is the broadcast channel for dashboard state changes.
	StreamGlobal = "events:global"
	// StreamNewRuns is the single-reader queue from the dispatcher to the
	// worker pool; workers form a consumer group on it.
	StreamNewRuns = "events:new_runs"
	// StreamChatSessions carries inbound session requests.
	StreamChatSessions = "events:chat_sessions"
)

// RunStream returns the per-run control channel name.
func RunStream(runID string) string {
	return "events:run:" + runID
}

// Event type names.
const (
	TypeRunNew                  = "run:new"
	TypeRunCreated              = "RUN_CREATED"
	TypeStepUpdated             = "STEP_UPDATED"
	TypeStepQueued              = "STEP_QUEUED"
	TypeHumanIntervention       = "HUMAN_INTERVENTION"
	TypeTaskClaimed             = "TASK_CLAIMED"
	TypeTaskStatusChanged       = "TASK_STATUS_CHANGED"
	TypeTaskExecutionCompleted  = "TASK_EXECUTION_COMPLETED"
	TypeTaskExecutionFailed     = "TASK_EXECUTION_FAILED"
	TypeTaskWorkspaceRequested  = "TASK_WORKSPACE_REQUESTED"
	TypeTaskWorkspaceRemoveReq  = "TASK_WORKSPACE_REMOVE_REQUESTED"
	TypeTaskPROpened            = "TASK_PR_OPENED"
	TypeCodeGraphIndexRequested = "CODE_GRAPH_INDEX_REQUESTED"
	TypePulseTriggered          = "PULSE_TRIGGERED"
	TypeSwarmDispatched         = "SWARM_DISPATCHED"
)

// Event is the wire payload appended to streams. Every event carries its
// type, the entity ids it concerns, and a server timestamp in milliseconds.
type Event struct {
	Type      string                 `json:"type"`
	ProjectID string                 `json:"project_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Timestamp int64                  `json:"ts"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// New creates an event stamped with the current server time.
func New(eventType string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithProject sets the project id.
func (e Event) WithProject(id string) Event { e.ProjectID = id; return e }

// WithTask sets the task id.
func (e Event) WithTask(id string) Event { e.TaskID = id; return e }

// WithRun sets the run id.
func (e Event) WithRun(id string) Event { e.RunID = id; return e }

// WithAgent sets the agent id.
func (e Event) WithAgent(id string) Event { e.AgentID = id; return e }

// WithData attaches one payload field.
func (e Event) WithData(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Handler processes one consumed event. Returning an error leaves the event
// pending for redelivery.
type Handler func(ctx context.Context, ev Event) error

// Bus is the append/consume contract shared by the Redis-backed bus and the
// in-memory test bus.
type Bus interface {
	// Publish appends an event to a stream.
	Publish(ctx context.Context, stream string, ev Event) error
	// Consume reads events from a stream as part of a consumer group,
	// invoking handler for each and acknowledging on success. It blocks
	// until ctx is cancelled.
	Consume(ctx context.Context, stream, group, consumer string, handler Handler) error
}

// KV is the small key/value surface backing request/result handshakes such
// as worktree provisioning.
type KV interface {
	SetKey(ctx context.Context, key, value string, ttl time.Duration) error
	GetKey(ctx context.Context, key string) (string, bool, error)
	DeleteKey(ctx context.Context, key string) error
}

// TryPublish appends best-effort: publish failures are logged and swallowed
// because events are reconstructable from database state and must never fail
// the mutating transaction that preceded them.
func TryPublish(ctx context.Context, bus Bus, log *logging.Logger, stream string, ev Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, stream, ev); err != nil {
		log.Warn("event publish failed",
			"stream", stream,
			"type", ev.Type,
			"error", err)
	}
}
