package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Global setting keys. Guardrails are read on demand rather than cached so
// horizontally scaled processes see the same values.
const (
	SettingPulseIntervalMinutes       = "pulseIntervalMinutes"
	SettingWakeEnabled                = "wakeEnabled"
	SettingWakeCooldownSec            = "wakeCooldownSec"
	SettingMaxWakesPerDay             = "maxWakesPerDay"
	SettingMaxWakesPerPairPerDay      = "maxWakesPerPairPerDay"
	SettingMaxConcurrentPulseSessions = "maxConcurrentPulseSessions"
)

// GetSetting returns the raw value for key, with fallback when unset.
func (s *Store) GetSetting(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM global_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("fetching setting %s: %w", key, err)
	}
	return value, nil
}

// GetSettingInt returns a numeric setting with fallback.
func (s *Store) GetSettingInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, err := s.GetSetting(ctx, key, strconv.Itoa(fallback))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// GetSettingBool returns a boolean setting with fallback.
func (s *Store) GetSettingBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.GetSetting(ctx, key, strconv.FormatBool(fallback))
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

// SetSetting upserts a global setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// RecordWake logs one agent wake for guardrail accounting.
func (s *Store) RecordWake(ctx context.Context, id, agentID, sourceAgentID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pulse_wakes (id, agent_id, source_agent_id, reason, woken_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, agentID, sourceAgentID, reason, nowMilli())
	if err != nil {
		return fmt.Errorf("recording wake: %w", err)
	}
	return nil
}

// LastWake returns the most recent wake time of an agent, zero when never
// woken.
func (s *Store) LastWake(ctx context.Context, agentID string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(woken_at) FROM pulse_wakes WHERE agent_id = ?", agentID).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching last wake: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, nil
	}
	return msToTime(ms.Int64), nil
}

// CountWakesSince returns the wakes of an agent in the rolling window.
func (s *Store) CountWakesSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pulse_wakes WHERE agent_id = ? AND woken_at >= ?",
		agentID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting wakes: %w", err)
	}
	return n, nil
}

// CountPairWakesSince returns the wakes of (source, target) in the rolling
// window.
func (s *Store) CountPairWakesSince(ctx context.Context, sourceAgentID, agentID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pulse_wakes
		WHERE source_agent_id = ? AND agent_id = ? AND woken_at >= ?`,
		sourceAgentID, agentID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pair wakes: %w", err)
	}
	return n, nil
}
