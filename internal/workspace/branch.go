package workspace

import (
	"strings"

	"github.com/djinnbot/djinnbot/internal/core"
)

const maxSlugLen = 40

// TaskBranchName returns the deterministic feature branch for a task:
// feat/{task_id}-{slug(title)}. An empty slug degrades to feat/{task_id}.
func TaskBranchName(taskID core.TaskID, title string) string {
	slug := slugify(title)
	if slug == "" {
		return "feat/" + string(taskID)
	}
	return "feat/" + string(taskID) + "-" + slug
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
