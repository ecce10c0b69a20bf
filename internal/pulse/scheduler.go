// Package pulse wakes agents periodically and in response to events, with
// global guardrails so a chatty agent cannot wake-storm the rest of the team.
package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

// Guardrail defaults, used when the corresponding global setting is unset.
const (
	DefaultIntervalMinutes     = 30
	DefaultWakeCooldownSec     = 300
	DefaultMaxWakesPerDay      = 48
	DefaultMaxWakesPerPair     = 12
	DefaultMaxConcurrentPulses = 3
)

// AgentDirectory lists the agents eligible for periodic pulses.
type AgentDirectory interface {
	EnabledAgents(ctx context.Context) ([]string, error)
}

// StaticAgents is a fixed agent list, typically loaded from configuration.
type StaticAgents []string

// EnabledAgents implements AgentDirectory.
func (a StaticAgents) EnabledAgents(context.Context) ([]string, error) { return a, nil }

// Scheduler emits PULSE_TRIGGERED events. Guardrails are read from global
// settings on demand so horizontally scaled processes agree on them; a wake
// violating any guardrail is silently suppressed and logged, never fatal.
type Scheduler struct {
	store  *store.Store
	bus    events.Bus
	logger *logging.Logger
	agents AgentDirectory
	cron   *cron.Cron

	mu           sync.Mutex
	sessions     map[string]time.Time // open pulse sessions by agent
	lastPeriodic time.Time
}

// New creates a pulse scheduler.
func New(st *store.Store, bus events.Bus, logger *logging.Logger, agents AgentDirectory) *Scheduler {
	return &Scheduler{
		store:    st,
		bus:      bus,
		logger:   logger,
		agents:   agents,
		sessions: make(map[string]time.Time),
	}
}

// Start schedules the periodic tick. The tick fires every minute and pulses
// all enabled agents once the configured interval has elapsed, so interval
// changes in global settings take effect without a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 1m", func() { s.periodicTick(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("pulse scheduler started")
	return nil
}

// Stop halts the periodic tick and waits for the running job to return.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) periodicTick(ctx context.Context) {
	interval, err := s.store.GetSettingInt(ctx, store.SettingPulseIntervalMinutes, DefaultIntervalMinutes)
	if err != nil {
		s.logger.Warn("reading pulse interval", "error", err)
		return
	}
	if interval < 1 {
		return
	}
	if time.Since(s.lastPeriodic) < time.Duration(interval)*time.Minute {
		return
	}
	s.lastPeriodic = time.Now()

	agents, err := s.agents.EnabledAgents(ctx)
	if err != nil {
		s.logger.Warn("listing enabled agents", "error", err)
		return
	}
	for _, agent := range agents {
		s.Wake(ctx, agent, "", "periodic")
	}
}

// Wake pulses one agent, applying every guardrail. It returns true when the
// pulse was emitted; suppression is not an error.
func (s *Scheduler) Wake(ctx context.Context, agentID, sourceAgentID, reason string) bool {
	return s.wake(ctx, agentID, sourceAgentID, reason, nil)
}

// WakeTask pulses the agent owning a task's next stage, stamping the task
// context onto the emitted event. The task engine routes its
// transition-triggered pulses through here so they meet the same guardrails
// as every other wake.
func (s *Scheduler) WakeTask(ctx context.Context, agentID, reason, projectID, taskID, status string) bool {
	return s.wake(ctx, agentID, "", reason, func(ev events.Event) events.Event {
		return ev.WithProject(projectID).WithTask(taskID).WithData("status", status)
	})
}

func (s *Scheduler) wake(ctx context.Context, agentID, sourceAgentID, reason string, decorate func(events.Event) events.Event) bool {
	if agentID == "" {
		return false
	}
	if ok, why := s.allowed(ctx, agentID, sourceAgentID); !ok {
		s.logger.Info("pulse suppressed",
			"agent_id", agentID,
			"source_agent_id", sourceAgentID,
			"reason", reason,
			"guardrail", why)
		return false
	}
	if !s.openSession(ctx, agentID) {
		s.logger.Info("pulse suppressed",
			"agent_id", agentID,
			"source_agent_id", sourceAgentID,
			"reason", reason,
			"guardrail", "maxConcurrentPulseSessions")
		return false
	}

	if err := s.store.RecordWake(ctx, uuid.NewString(), agentID, sourceAgentID, reason); err != nil {
		s.logger.Warn("recording wake", "agent_id", agentID, "error", err)
		return false
	}
	ev := events.New(events.TypePulseTriggered).
		WithAgent(agentID).
		WithData("reason", reason).
		WithData("source_agent_id", sourceAgentID)
	if decorate != nil {
		ev = decorate(ev)
	}
	events.TryPublish(ctx, s.bus, s.logger, events.StreamGlobal, ev)
	return true
}

// allowed evaluates the wake guardrails; the second return names the first
// guardrail hit.
func (s *Scheduler) allowed(ctx context.Context, agentID, sourceAgentID string) (bool, string) {
	enabled, err := s.store.GetSettingBool(ctx, store.SettingWakeEnabled, true)
	if err != nil || !enabled {
		return false, "wakeEnabled"
	}

	cooldown, err := s.store.GetSettingInt(ctx, store.SettingWakeCooldownSec, DefaultWakeCooldownSec)
	if err == nil && cooldown > 0 {
		last, err := s.store.LastWake(ctx, agentID)
		if err == nil && !last.IsZero() && time.Since(last) < time.Duration(cooldown)*time.Second {
			return false, "wakeCooldownSec"
		}
	}

	since := time.Now().Add(-24 * time.Hour)
	maxPerDay, err := s.store.GetSettingInt(ctx, store.SettingMaxWakesPerDay, DefaultMaxWakesPerDay)
	if err == nil && maxPerDay > 0 {
		n, err := s.store.CountWakesSince(ctx, agentID, since)
		if err == nil && n >= maxPerDay {
			return false, "maxWakesPerDay"
		}
	}

	if sourceAgentID != "" {
		maxPerPair, err := s.store.GetSettingInt(ctx, store.SettingMaxWakesPerPairPerDay, DefaultMaxWakesPerPair)
		if err == nil && maxPerPair > 0 {
			n, err := s.store.CountPairWakesSince(ctx, sourceAgentID, agentID, since)
			if err == nil && n >= maxPerPair {
				return false, "maxWakesPerPairPerDay"
			}
		}
	}
	return true, ""
}

// openSession reserves a concurrent-session slot for the agent. Re-waking an
// agent refreshes its existing session instead of taking a second slot. A
// session expires after one pulse interval, so an agent that found no work
// frees its slot by the next periodic window; EndSession frees it sooner when
// the agent reports back. The cap and interval are read per call, like the
// other guardrails.
func (s *Scheduler) openSession(ctx context.Context, agentID string) bool {
	max, err := s.store.GetSettingInt(ctx, store.SettingMaxConcurrentPulseSessions, DefaultMaxConcurrentPulses)
	if err != nil || max < 1 {
		max = DefaultMaxConcurrentPulses
	}
	interval, err := s.store.GetSettingInt(ctx, store.SettingPulseIntervalMinutes, DefaultIntervalMinutes)
	if err != nil || interval < 1 {
		interval = DefaultIntervalMinutes
	}
	ttl := time.Duration(interval) * time.Minute

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for agent, opened := range s.sessions {
		if now.Sub(opened) > ttl {
			delete(s.sessions, agent)
		}
	}
	if _, open := s.sessions[agentID]; !open && len(s.sessions) >= max {
		return false
	}
	s.sessions[agentID] = now
	return true
}

// EndSession closes an agent's pulse session, freeing its concurrency slot.
// The run-completed webhook calls this when a woken agent hands its run back.
func (s *Scheduler) EndSession(agentID string) {
	s.mu.Lock()
	delete(s.sessions, agentID)
	s.mu.Unlock()
}
