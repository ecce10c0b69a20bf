package workspace

import (
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/githubapp"
)

// Test-only accessors so the external test package can reach unexported
// identifiers without creating an import cycle with internal/engine.

func (m *Manager) SetPollingForTest(interval, timeout time.Duration) {
	m.pollInterval = interval
	m.pollTimeout = timeout
}

func WorktreeResultKeyForTest(taskID core.TaskID) string {
	return worktreeResultKey(taskID)
}

func PRNumberForTest(meta core.TaskMetadata) (int, bool) {
	return prNumber(meta)
}

func CIStatusForTest(checks []githubapp.CheckRun) string {
	return ciStatus(checks)
}
