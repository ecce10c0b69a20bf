package core

// EdgeID uniquely identifies a dependency edge.
type EdgeID string

// DependencyType classifies a dependency edge.
type DependencyType string

const (
	// DependencyBlocks means the target cannot start until the source is done.
	// The blocks sub-graph must stay acyclic.
	DependencyBlocks DependencyType = "blocks"
	// DependencyInforms is advisory only and carries no scheduling weight.
	DependencyInforms DependencyType = "informs"
)

// Valid reports whether t is a known dependency type.
func (t DependencyType) Valid() bool {
	return t == DependencyBlocks || t == DependencyInforms
}

// DependencyEdge is a directed relation between two tasks of one project.
type DependencyEdge struct {
	ID         EdgeID
	ProjectID  ProjectID
	FromTaskID TaskID
	ToTaskID   TaskID
	Type       DependencyType
}

// Validate checks edge invariants that hold independent of the graph.
func (e *DependencyEdge) Validate() error {
	if e.FromTaskID == e.ToTaskID {
		return ErrValidation(CodeSelfDependency, "a task cannot depend on itself")
	}
	if !e.Type.Valid() {
		return ErrValidation("UNKNOWN_DEPENDENCY_TYPE", "dependency type must be blocks or informs")
	}
	return nil
}
