package core

// StageDisposition says whether a workflow stage runs or is skipped for a
// given work type.
type StageDisposition string

const (
	StageRun  StageDisposition = "run"
	StageSkip StageDisposition = "skip"
)

// StageRule is one entry of a work type's ordered stage list.
type StageRule struct {
	Stage       string           `json:"stage"`
	Disposition StageDisposition `json:"disposition"`
	AgentRole   string           `json:"agent_role"`
}

// WorkflowPolicy maps each work type of a project to its ordered stage
// rules. It validates transitions and selects the agent to wake after each
// stage.
type WorkflowPolicy struct {
	ProjectID  ProjectID
	StageRules map[WorkType][]StageRule
}

// RulesFor returns the stage rules governing a work type, nil when the work
// type is unclassified or unmapped.
func (p *WorkflowPolicy) RulesFor(wt WorkType) []StageRule {
	if p == nil || wt == "" {
		return nil
	}
	return p.StageRules[wt]
}

// StageAllowed reports whether a work type may enter the named stage. Stages
// absent from the policy are allowed; stages marked skip are not.
func (p *WorkflowPolicy) StageAllowed(wt WorkType, stage string) bool {
	rules := p.RulesFor(wt)
	if rules == nil {
		return true
	}
	for _, r := range rules {
		if r.Stage == stage {
			return r.Disposition != StageSkip
		}
	}
	return true
}

// RunnableStages returns the stages with disposition run, in order.
func (p *WorkflowPolicy) RunnableStages(wt WorkType) []string {
	var stages []string
	for _, r := range p.RulesFor(wt) {
		if r.Disposition == StageRun {
			stages = append(stages, r.Stage)
		}
	}
	return stages
}

// AgentRoleForStage returns the role owning a stage, empty when unmapped.
func (p *WorkflowPolicy) AgentRoleForStage(wt WorkType, stage string) string {
	for _, r := range p.RulesFor(wt) {
		if r.Stage == stage {
			return r.AgentRole
		}
	}
	return ""
}

// fallbackStageAgents routes transition pulses when no workflow policy is
// configured. TODO: drop once projects uniformly carry policies with a
// per-project agent directory.
var fallbackStageAgents = map[string]string{
	"planned": "shigeo",
	"test":    "chieko",
	"failed":  "yukihiro",
}

// FallbackAgentForStatus returns the default agent woken when a task enters
// status and no policy maps it.
func FallbackAgentForStatus(status string) string {
	return fallbackStageAgents[status]
}

// StatusStage maps raw statuses to the workflow stage they represent.
// Statuses outside any stage return "".
func StatusStage(status string) string {
	switch status {
	case "planning", "planned":
		return "planning"
	case "in_progress":
		return "implementation"
	case "review":
		return "review"
	case "test":
		return "qa"
	default:
		return ""
	}
}
