package core

import "time"

// ProjectID uniquely identifies a project.
type ProjectID string

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusPaused    ProjectStatus = "paused"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// WorkspaceType selects how run workspaces are provisioned for a project.
type WorkspaceType string

const (
	// WorkspaceEphemeral provisions a fresh run directory per execution.
	WorkspaceEphemeral WorkspaceType = "ephemeral_run_dir"
	// WorkspacePersistent reuses one on-disk clone per project.
	WorkspacePersistent WorkspaceType = "persistent_directory"
)

// SemanticRole is an abstract status role mapped to raw statuses per project.
type SemanticRole string

const (
	RoleInitial      SemanticRole = "initial"
	RoleClaimable    SemanticRole = "claimable"
	RoleTerminalDone SemanticRole = "terminal_done"
	RoleTerminalFail SemanticRole = "terminal_fail"
	RoleBlocked      SemanticRole = "blocked"
)

// StatusSemantics maps semantic roles to ordered sets of raw status names.
// Every engine that needs to reason about what "done" means consults the
// project's semantics rather than comparing against literals.
type StatusSemantics map[SemanticRole][]string

// DefaultSemantics returns the semantics applied to new projects.
func DefaultSemantics() StatusSemantics {
	return StatusSemantics{
		RoleInitial:      {"backlog", "planning"},
		RoleClaimable:    {"ready", "backlog", "planning"},
		RoleTerminalDone: {"done"},
		RoleTerminalFail: {"failed", "cancelled"},
		RoleBlocked:      {"blocked"},
	}
}

// Has reports whether status carries the given role.
func (s StatusSemantics) Has(role SemanticRole, status string) bool {
	for _, v := range s[role] {
		if v == status {
			return true
		}
	}
	return false
}

// First returns the first raw status mapped to role, or fallback when the
// role is unmapped.
func (s StatusSemantics) First(role SemanticRole, fallback string) string {
	if v := s[role]; len(v) > 0 {
		return v[0]
	}
	return fallback
}

// IsDone reports whether status is a successful terminal status.
func (s StatusSemantics) IsDone(status string) bool { return s.Has(RoleTerminalDone, status) }

// IsFailed reports whether status is a failed terminal status.
func (s StatusSemantics) IsFailed(status string) bool { return s.Has(RoleTerminalFail, status) }

// IsTerminal reports whether status is terminal in either direction.
func (s StatusSemantics) IsTerminal(status string) bool {
	return s.IsDone(status) || s.IsFailed(status)
}

// IsClaimable reports whether an agent may claim a task in status.
func (s StatusSemantics) IsClaimable(status string) bool { return s.Has(RoleClaimable, status) }

// IsBlocked reports whether status marks a task as blocked.
func (s StatusSemantics) IsBlocked(status string) bool { return s.Has(RoleBlocked, status) }

// Validate checks that the mandatory roles are defined.
func (s StatusSemantics) Validate() error {
	for _, role := range []SemanticRole{RoleInitial, RoleClaimable, RoleTerminalDone, RoleTerminalFail, RoleBlocked} {
		if len(s[role]) == 0 {
			return ErrValidation("INCOMPLETE_SEMANTICS",
				"status_semantics must define role "+string(role))
		}
	}
	return nil
}

// Project is the identity for a body of work.
type Project struct {
	ID                ProjectID
	Name              string
	Description       string
	Status            ProjectStatus
	Repository        string
	DefaultPipelineID string
	Semantics         StatusSemantics
	WorkspaceType     WorkspaceType
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// NewProject creates an active project with default semantics.
func NewProject(id ProjectID, name string) *Project {
	now := time.Now()
	return &Project{
		ID:            id,
		Name:          name,
		Status:        ProjectStatusActive,
		Semantics:     DefaultSemantics(),
		WorkspaceType: WorkspaceEphemeral,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks project invariants.
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrValidation("PROJECT_ID_REQUIRED", "project ID cannot be empty")
	}
	if p.Name == "" {
		return ErrValidation("PROJECT_NAME_REQUIRED", "project name cannot be empty")
	}
	return p.Semantics.Validate()
}
