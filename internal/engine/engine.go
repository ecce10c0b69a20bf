// Package engine owns the lifecycle of projects, columns, and tasks: status
// transitions, atomic agent claims, the ready-tasks query, and the readiness
// cascade that keeps dependents and parent tasks consistent.
package engine

import (
	"context"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

// Engine mediates between user edits, agent automation, run completion, and
// the dependency cascade. All invariants live in the database; the engine is
// stateless and safe to run in multiple processes against one store.
type Engine struct {
	store      *store.Store
	bus        events.Bus
	logger     *logging.Logger
	propagator *Propagator
	waker      Waker
}

// Waker gates transition-triggered pulses behind the shared wake guardrails.
// The pulse scheduler implements it.
type Waker interface {
	WakeTask(ctx context.Context, agentID, reason, projectID, taskID, status string) bool
}

// New creates a task engine.
func New(st *store.Store, bus events.Bus, logger *logging.Logger) *Engine {
	return &Engine{
		store:      st,
		bus:        bus,
		logger:     logger,
		propagator: NewPropagator(st, bus, logger),
	}
}

// SetWaker wires the pulse scheduler in as the sink for transition-triggered
// pulses. The scheduler is built after the engine, hence a setter rather than
// a constructor argument. Without a waker, transition pulses are dropped.
func (e *Engine) SetWaker(w Waker) { e.waker = w }

// Propagator exposes the readiness propagator, used directly by the run
// dispatcher's completion webhook.
func (e *Engine) Propagator() *Propagator {
	return e.propagator
}

// publish appends best-effort to the global stream.
func (e *Engine) publish(ctx context.Context, ev events.Event) {
	events.TryPublish(ctx, e.bus, e.logger, events.StreamGlobal, ev)
}

// statusChanged builds the TASK_STATUS_CHANGED payload shared by all
// transition paths.
func statusChanged(task *core.Task, from, reason string) events.Event {
	return events.New(events.TypeTaskStatusChanged).
		WithProject(string(task.ProjectID)).
		WithTask(string(task.ID)).
		WithData("from", from).
		WithData("to", task.Status).
		WithData("reason", reason)
}
