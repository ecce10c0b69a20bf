package graph

import (
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
)

// TimelineEntry is one scheduled bar of the Gantt chart. Times are unix
// milliseconds.
type TimelineEntry struct {
	TaskID       core.TaskID   `json:"task_id"`
	Title        string        `json:"title"`
	Status       string        `json:"status"`
	StartMs      int64         `json:"start_ms"`
	EndMs        int64         `json:"end_ms"`
	DurationDays float64       `json:"duration_days"`
	Dependencies []core.TaskID `json:"dependencies"`
}

// TimelineResult is the forward-scheduled plan for a project.
type TimelineResult struct {
	Entries      []TimelineEntry `json:"entries"`
	CriticalPath []core.TaskID   `json:"critical_path"`
	HoursPerDay  float64         `json:"hours_per_day"`
}

const dayMs = 24 * int64(time.Hour/time.Millisecond)

// Timeline forward-schedules the project: in topological order each task
// starts at the latest end of its blocking predecessors; duration is
// estimated_hours spread over hours_per_day working days. Tasks already
// completed keep their actual created/completed window. The critical path
// is the chain of latest-end tasks traced backwards through blocking
// predecessors.
func Timeline(tasks []*core.Task, edges []*core.DependencyEdge, semantics core.StatusSemantics, hoursPerDay float64, now time.Time) *TimelineResult {
	if hoursPerDay <= 0 {
		hoursPerDay = 8
	}
	byID := make(map[core.TaskID]*core.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	preds := predecessors(edges)
	order := TopoSort(tasks, edges)

	start := make(map[core.TaskID]int64, len(tasks))
	end := make(map[core.TaskID]int64, len(tasks))
	baseMs := now.UnixMilli()

	for _, id := range order {
		t := byID[id]

		if semantics.IsDone(t.Status) && t.CompletedAt != nil {
			start[id] = t.CreatedAt.UnixMilli()
			end[id] = t.CompletedAt.UnixMilli()
			continue
		}

		s := baseMs
		for _, p := range preds[id] {
			if e, ok := end[p]; ok && e > s {
				s = e
			}
		}
		days := taskWeight(t) / hoursPerDay
		start[id] = s
		end[id] = s + int64(days*float64(dayMs))
	}

	entries := make([]TimelineEntry, 0, len(order))
	for _, id := range order {
		t := byID[id]
		entries = append(entries, TimelineEntry{
			TaskID:       id,
			Title:        t.Title,
			Status:       t.Status,
			StartMs:      start[id],
			EndMs:        end[id],
			DurationDays: float64(end[id]-start[id]) / float64(dayMs),
			Dependencies: append([]core.TaskID{}, preds[id]...),
		})
	}

	return &TimelineResult{
		Entries:      entries,
		CriticalPath: latestEndChain(order, preds, end),
		HoursPerDay:  hoursPerDay,
	}
}

// latestEndChain traces back from the task finishing last, at each hop
// picking the blocking predecessor with the latest end.
func latestEndChain(order []core.TaskID, preds map[core.TaskID][]core.TaskID, end map[core.TaskID]int64) []core.TaskID {
	if len(order) == 0 {
		return nil
	}
	var last core.TaskID
	maxEnd := int64(-1)
	for _, id := range order {
		if end[id] > maxEnd {
			maxEnd = end[id]
			last = id
		}
	}

	var chain []core.TaskID
	node := last
	for node != "" {
		chain = append([]core.TaskID{node}, chain...)
		var next core.TaskID
		bestEnd := int64(-1)
		for _, p := range preds[node] {
			if e, ok := end[p]; ok && e > bestEnd {
				bestEnd = e
				next = p
			}
		}
		node = next
	}
	return chain
}
