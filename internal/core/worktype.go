package core

import "strings"

// WorkType classifies a task for workflow-policy selection. Empty means
// unclassified.
type WorkType string

const (
	WorkTypeFeature        WorkType = "feature"
	WorkTypeBugfix         WorkType = "bugfix"
	WorkTypeTest           WorkType = "test"
	WorkTypeRefactor       WorkType = "refactor"
	WorkTypeDocs           WorkType = "docs"
	WorkTypeInfrastructure WorkType = "infrastructure"
	WorkTypeDesign         WorkType = "design"
)

// workTypeKeywords maps each work type to the keywords that suggest it.
// Inference scans in declaration order; the first type with a hit wins, so
// more specific vocabularies come before the catch-all feature keywords.
var workTypeKeywords = []struct {
	wt       WorkType
	keywords []string
}{
	{WorkTypeBugfix, []string{"bug", "fix", "broken", "crash", "regression", "hotfix", "defect"}},
	{WorkTypeTest, []string{"test", "coverage", "e2e", "qa", "flaky", "spec"}},
	{WorkTypeRefactor, []string{"refactor", "cleanup", "clean up", "simplify", "extract", "rename", "restructure"}},
	{WorkTypeDocs, []string{"doc", "readme", "changelog", "documentation", "guide", "tutorial"}},
	{WorkTypeInfrastructure, []string{"ci", "cd", "deploy", "docker", "pipeline", "infra", "terraform", "kubernetes", "k8s", "monitoring"}},
	{WorkTypeDesign, []string{"design", "ux", "ui", "mockup", "wireframe", "figma", "prototype"}},
	{WorkTypeFeature, []string{"feature", "add", "implement", "support", "create", "build", "new"}},
}

// InferWorkType classifies a task from its title, tags, and description.
// Tags are checked first as exact matches, then the combined text is scanned
// for keywords. Returns "" when nothing matches.
func InferWorkType(title string, tags []string, description string) WorkType {
	for _, tag := range tags {
		switch WorkType(strings.ToLower(tag)) {
		case WorkTypeFeature, WorkTypeBugfix, WorkTypeTest, WorkTypeRefactor,
			WorkTypeDocs, WorkTypeInfrastructure, WorkTypeDesign:
			return WorkType(strings.ToLower(tag))
		}
	}

	text := strings.ToLower(title + " " + strings.Join(tags, " ") + " " + description)
	for _, entry := range workTypeKeywords {
		for _, kw := range entry.keywords {
			if containsWord(text, kw) {
				return entry.wt
			}
		}
	}
	return ""
}

// containsWord matches kw on word boundaries so "fix" does not match
// "prefix" and "ci" does not match "circuit".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
