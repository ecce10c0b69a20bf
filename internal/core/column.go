package core

// ColumnID uniquely identifies a kanban column.
type ColumnID string

// KanbanColumn is an ordered visual bucket grouping tasks by raw status.
type KanbanColumn struct {
	ID        ColumnID
	ProjectID ProjectID
	Name      string
	Position  int
	WIPLimit  *int
	// TaskStatuses is ordered: a task dropped into the column is forced to
	// the first entry.
	TaskStatuses []string
}

// Accepts reports whether the column maps the given raw status.
func (c *KanbanColumn) Accepts(status string) bool {
	for _, s := range c.TaskStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// EntryStatus returns the status forced onto tasks moved into the column.
func (c *KanbanColumn) EntryStatus() string {
	if len(c.TaskStatuses) == 0 {
		return ""
	}
	return c.TaskStatuses[0]
}

// ColumnForStatus picks the target column for a raw status: the
// lowest-position column whose status list contains it. Columns must be
// sorted by position.
func ColumnForStatus(columns []*KanbanColumn, status string) *KanbanColumn {
	for _, c := range columns {
		if c.Accepts(status) {
			return c
		}
	}
	return nil
}

// StatusUnion returns every raw status reachable through the project's
// columns, preserving first-seen order.
func StatusUnion(columns []*KanbanColumn) []string {
	seen := make(map[string]bool)
	var union []string
	for _, c := range columns {
		for _, s := range c.TaskStatuses {
			if !seen[s] {
				seen[s] = true
				union = append(union, s)
			}
		}
	}
	return union
}

// DefaultColumnSpec describes one column created with a new project.
type DefaultColumnSpec struct {
	Name     string
	Statuses []string
}

// DefaultColumns is the board layout applied when a project is created
// without an explicit column set.
func DefaultColumns() []DefaultColumnSpec {
	return []DefaultColumnSpec{
		{Name: "Backlog", Statuses: []string{"backlog"}},
		{Name: "Planning", Statuses: []string{"planning", "planned"}},
		{Name: "Ready", Statuses: []string{"ready"}},
		{Name: "In Progress", Statuses: []string{"in_progress"}},
		{Name: "Review", Statuses: []string{"review", "test"}},
		{Name: "Done", Statuses: []string{"done"}},
		{Name: "Blocked", Statuses: []string{"blocked", "failed", "cancelled"}},
	}
}
