// Package workspace maintains per-project git workspaces, per-task feature
// branches, and the worktree request handshake with the agent engine. The
// engine owns the filesystem agents work in; this package only provisions the
// shared project clone and requests worktree operations via events.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/semaphore"

	"github.com/djinnbot/djinnbot/internal/core"
	"github.com/djinnbot/djinnbot/internal/events"
	"github.com/djinnbot/djinnbot/internal/githubapp"
	"github.com/djinnbot/djinnbot/internal/logging"
	"github.com/djinnbot/djinnbot/internal/store"
)

const (
	// agentWorktreeRoot is where the agent engine materialises worktrees.
	agentWorktreeRoot = "/home/agent/task-workspaces"

	markerFile = ".djinnbot-workspace"

	worktreePollInterval = 500 * time.Millisecond
	worktreePollTimeout  = 30 * time.Second

	// maxConcurrentClones bounds parallel clone/pull work; full clones are
	// network and disk heavy.
	maxConcurrentClones = 4
)

// GitHub is the subset of the App client the manager consumes.
type GitHub interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
	DiscoverInstallation(ctx context.Context, owner, repo string) (int64, error)
	CreatePullRequest(ctx context.Context, installationID int64, owner, repo string, opts githubapp.CreatePullRequestOptions) (*githubapp.PullRequest, error)
	GetPullRequest(ctx context.Context, installationID int64, owner, repo string, number int) (*githubapp.PullRequest, error)
	ListReviews(ctx context.Context, installationID int64, owner, repo string, number int) ([]githubapp.Review, error)
	ListCheckRuns(ctx context.Context, installationID int64, owner, repo, sha string) ([]githubapp.CheckRun, error)
}

// Manager provisions project workspaces and pull requests.
type Manager struct {
	store    *store.Store
	bus      events.Bus
	kv       events.KV
	logger   *logging.Logger
	git      *Git
	github   GitHub // nil when no App is configured
	root     string // $WORKSPACES_DIR
	envToken string // fallback when the App cannot serve a repo
	cloneSem *semaphore.Weighted

	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewManager creates a workspace manager rooted at workspacesDir. github and
// envToken may be zero; credential resolution degrades accordingly.
func NewManager(st *store.Store, bus events.Bus, kv events.KV, logger *logging.Logger, workspacesDir string, github GitHub, envToken string) *Manager {
	return &Manager{
		store:        st,
		bus:          bus,
		kv:           kv,
		logger:       logger,
		git:          NewGit(),
		github:       github,
		root:         workspacesDir,
		envToken:     envToken,
		cloneSem:     semaphore.NewWeighted(maxConcurrentClones),
		pollInterval: worktreePollInterval,
		pollTimeout:  worktreePollTimeout,
	}
}

// ProjectPath returns the on-disk workspace for a project.
func (m *Manager) ProjectPath(projectID core.ProjectID) string {
	return filepath.Join(m.root, string(projectID))
}

// WorktreePath returns where the agent engine materialises a task worktree.
func WorktreePath(taskID core.TaskID) string {
	return filepath.Join(agentWorktreeRoot, string(taskID))
}

// RepoSetupResult reports the outcome of SetupProject. CloneError is set when
// the clone or update failed; callers surface it as a warning, the project
// itself is still usable.
type RepoSetupResult struct {
	Path       string `json:"path"`
	Cloned     bool   `json:"cloned"`
	Updated    bool   `json:"updated"`
	AuthMethod string `json:"auth_method"`
	CloneError string `json:"clone_error,omitempty"`
}

// SetupProject clones or fast-forwards the project workspace. Credentials are
// resolved in order: explicit App installation, App installation discovery,
// environment token, unauthenticated. Clone failures are non-fatal and come
// back in the result.
func (m *Manager) SetupProject(ctx context.Context, projectID core.ProjectID, repoURL string, installationID *int64) (*RepoSetupResult, error) {
	if repoURL == "" {
		return nil, core.ErrValidation("REPO_URL_REQUIRED", "project has no repository configured")
	}
	path := m.ProjectPath(projectID)
	result := &RepoSetupResult{Path: path}

	if err := m.cloneSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.cloneSem.Release(1)

	cloneURL, method := m.resolveCloneURL(ctx, repoURL, installationID)
	result.AuthMethod = method

	if m.git.IsRepo(path) {
		if err := m.git.PullFastForward(ctx, path); err != nil {
			m.logger.Warn("workspace update failed",
				"project_id", projectID, "path", path, "error", err)
			result.CloneError = err.Error()
			return result, nil
		}
		result.Updated = true
	} else {
		if err := m.git.Clone(ctx, cloneURL, path); err != nil {
			m.logger.Warn("workspace clone failed",
				"project_id", projectID, "repo", repoURL, "error", err)
			result.CloneError = err.Error()
			return result, nil
		}
		result.Cloned = true
	}

	if err := m.writeMarker(path, projectID); err != nil {
		m.logger.Warn("workspace marker write failed", "path", path, "error", err)
	}

	events.TryPublish(ctx, m.bus, m.logger, events.StreamGlobal,
		events.New(events.TypeCodeGraphIndexRequested).
			WithProject(string(projectID)).
			WithData("path", path))
	return result, nil
}

// resolveCloneURL builds an authenticated clone URL when credentials can be
// resolved, falling back to the raw URL for public repositories.
func (m *Manager) resolveCloneURL(ctx context.Context, repoURL string, installationID *int64) (string, string) {
	owner, repo, ok := ParseRepoURL(repoURL)
	if ok && m.github != nil {
		id := int64(0)
		if installationID != nil {
			id = *installationID
		} else if discovered, err := m.github.DiscoverInstallation(ctx, owner, repo); err == nil {
			id = discovered
		} else {
			m.logger.Debug("installation discovery failed", "repo", repoURL, "error", err)
		}
		if id != 0 {
			if token, err := m.github.InstallationToken(ctx, id); err == nil {
				return githubapp.CloneURL(owner, repo, token), "github_app"
			} else {
				m.logger.Warn("installation token fetch failed",
					"installation_id", id, "error", err)
			}
		}
	}
	if ok && m.envToken != "" {
		return githubapp.CloneURL(owner, repo, m.envToken), "env_token"
	}
	return repoURL, "public"
}

func (m *Manager) writeMarker(path string, projectID core.ProjectID) error {
	payload, err := json.Marshal(map[string]interface{}{
		"project_id": projectID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(path, markerFile), payload, 0o644)
}

// ParseRepoURL extracts owner and repo from HTTPS and SSH GitHub URLs.
func ParseRepoURL(repoURL string) (owner, repo string, ok bool) {
	s := strings.TrimSuffix(repoURL, ".git")
	switch {
	case strings.HasPrefix(s, "git@"):
		_, after, found := strings.Cut(s, ":")
		if !found {
			return "", "", false
		}
		s = after
	case strings.Contains(s, "://"):
		_, after, _ := strings.Cut(s, "://")
		parts := strings.SplitN(after, "/", 2)
		if len(parts) != 2 {
			return "", "", false
		}
		s = parts[1]
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// EnsureTaskBranch computes and persists the feature branch for a task,
// returning the existing branch when one is already recorded.
func (m *Manager) EnsureTaskBranch(ctx context.Context, taskID core.TaskID) (string, error) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if branch := task.GitBranch(); branch != "" {
		return branch, nil
	}
	branch := TaskBranchName(task.ID, task.Title)
	task.Metadata = task.Metadata.Set(core.MetaGitBranch, branch)
	task.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return "", err
	}
	return branch, nil
}

func worktreeResultKey(taskID core.TaskID) string {
	return "worktree:result:" + string(taskID)
}

// RequestWorktree asks the agent engine to materialise a worktree for the
// task and waits for the handshake key. The engine writes "ready" or an
// "error:..." value to the result key.
func (m *Manager) RequestWorktree(ctx context.Context, agentID string, projectID core.ProjectID, taskID core.TaskID, branch string) (string, error) {
	key := worktreeResultKey(taskID)
	_ = m.kv.DeleteKey(ctx, key)

	events.TryPublish(ctx, m.bus, m.logger, events.StreamGlobal,
		events.New(events.TypeTaskWorkspaceRequested).
			WithProject(string(projectID)).
			WithTask(string(taskID)).
			WithAgent(agentID).
			WithData("branch", branch))

	deadline := time.Now().Add(m.pollTimeout)
	for {
		value, found, err := m.kv.GetKey(ctx, key)
		if err != nil {
			return "", err
		}
		if found {
			_ = m.kv.DeleteKey(ctx, key)
			if after, isErr := strings.CutPrefix(value, "error:"); isErr {
				return "", core.ErrInternal("worktree provisioning failed: "+after, nil)
			}
			return WorktreePath(taskID), nil
		}
		if time.Now().After(deadline) {
			timeout := core.ErrTimeout(fmt.Sprintf("worktree for task %s not provisioned within %s", taskID, m.pollTimeout))
			timeout.Code = core.CodeWorktreeTimeout
			return "", timeout
		}
		select {
		case <-ctx.Done():
			return "", core.ErrTimeout("worktree wait cancelled").WithCause(ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

// RequestWorktreeRemoval asks the agent engine to tear down a task worktree.
// Fire-and-forget.
func (m *Manager) RequestWorktreeRemoval(ctx context.Context, agentID string, projectID core.ProjectID, taskID core.TaskID) {
	events.TryPublish(ctx, m.bus, m.logger, events.StreamGlobal,
		events.New(events.TypeTaskWorkspaceRemoveReq).
			WithProject(string(projectID)).
			WithTask(string(taskID)).
			WithAgent(agentID))
}

// OpenPullRequestOptions carries the PR parameters for a task.
type OpenPullRequestOptions struct {
	HeadBranch string
	BaseBranch string
	Title      string
	Body       string
	Draft      bool
}

// OpenPullRequest opens a PR for the task's branch and records the PR number
// and URL in the task metadata.
func (m *Manager) OpenPullRequest(ctx context.Context, projectID core.ProjectID, taskID core.TaskID, opts OpenPullRequestOptions) (*githubapp.PullRequest, error) {
	if m.github == nil {
		return nil, core.ErrValidation("NO_GITHUB_APP", "github app is not configured")
	}
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ProjectID != projectID {
		return nil, core.ErrNotFound("task", string(taskID))
	}
	owner, repo, ok := ParseRepoURL(project.Repository)
	if !ok {
		return nil, core.ErrValidation("BAD_REPO_URL",
			fmt.Sprintf("cannot parse repository %q", project.Repository))
	}
	installationID, err := m.github.DiscoverInstallation(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	head := opts.HeadBranch
	if head == "" {
		head = task.GitBranch()
	}
	if head == "" {
		head = TaskBranchName(task.ID, task.Title)
	}
	base := opts.BaseBranch
	if base == "" {
		base = "main"
	}
	title := opts.Title
	if title == "" {
		title = task.Title
	}

	pr, err := m.github.CreatePullRequest(ctx, installationID, owner, repo, githubapp.CreatePullRequestOptions{
		Title: title,
		Body:  opts.Body,
		Head:  head,
		Base:  base,
		Draft: opts.Draft,
	})
	if err != nil {
		return nil, err
	}

	task.Metadata = task.Metadata.Set(core.MetaPRNumber, pr.Number)
	task.Metadata = task.Metadata.Set(core.MetaPRURL, pr.HTMLURL)
	task.UpdatedAt = time.Now()
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	events.TryPublish(ctx, m.bus, m.logger, events.StreamGlobal,
		events.New(events.TypeTaskPROpened).
			WithProject(string(projectID)).
			WithTask(string(taskID)).
			WithData("pr_number", pr.Number).
			WithData("pr_url", pr.HTMLURL))
	m.logger.Info("pull request opened",
		"task_id", taskID, "pr_number", pr.Number, "head", head, "base", base)
	return pr, nil
}

// CI status values reported by PullRequestStatus.
const (
	CINone    = "none"
	CIPending = "pending"
	CIPassing = "passing"
	CIFailing = "failing"
)

// PRStatus is the merged view of a task's pull request.
type PRStatus struct {
	Number       int    `json:"number"`
	URL          string `json:"url"`
	State        string `json:"state"`
	Draft        bool   `json:"draft"`
	Merged       bool   `json:"merged"`
	Mergeable    bool   `json:"mergeable"`
	CIStatus     string `json:"ci_status"`
	Approvals    int    `json:"approvals"`
	ReadyToMerge bool   `json:"ready_to_merge"`
}

// PullRequestStatus resolves the task's PR plus its reviews and checks into
// one mergeability verdict.
func (m *Manager) PullRequestStatus(ctx context.Context, projectID core.ProjectID, taskID core.TaskID) (*PRStatus, error) {
	if m.github == nil {
		return nil, core.ErrValidation("NO_GITHUB_APP", "github app is not configured")
	}
	project, err := m.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	number, ok := prNumber(task.Metadata)
	if !ok {
		return nil, core.ErrNotFound("pull request for task", string(taskID))
	}
	owner, repo, okURL := ParseRepoURL(project.Repository)
	if !okURL {
		return nil, core.ErrValidation("BAD_REPO_URL",
			fmt.Sprintf("cannot parse repository %q", project.Repository))
	}
	installationID, err := m.github.DiscoverInstallation(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	pr, err := m.github.GetPullRequest(ctx, installationID, owner, repo, number)
	if err != nil {
		return nil, err
	}
	reviews, err := m.github.ListReviews(ctx, installationID, owner, repo, number)
	if err != nil {
		return nil, err
	}
	checks, err := m.github.ListCheckRuns(ctx, installationID, owner, repo, pr.Head.SHA)
	if err != nil {
		return nil, err
	}

	status := &PRStatus{
		Number:    pr.Number,
		URL:       pr.HTMLURL,
		State:     pr.State,
		Draft:     pr.Draft,
		Merged:    pr.Merged,
		Mergeable: pr.Mergeable != nil && *pr.Mergeable,
		CIStatus:  ciStatus(checks),
	}
	for _, r := range reviews {
		if r.State == "APPROVED" {
			status.Approvals++
		}
	}
	ciOK := status.CIStatus == CIPassing || status.CIStatus == CINone
	status.ReadyToMerge = status.State == "open" &&
		!status.Draft &&
		status.Mergeable &&
		ciOK &&
		status.Approvals >= 1
	return status, nil
}

// prNumber reads the PR number from metadata, tolerating the float64 that
// JSON round-trips produce.
func prNumber(meta core.TaskMetadata) (int, bool) {
	switch v := meta[core.MetaPRNumber].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func ciStatus(checks []githubapp.CheckRun) string {
	if len(checks) == 0 {
		return CINone
	}
	status := CIPassing
	for _, c := range checks {
		if c.Status != "completed" {
			status = CIPending
			continue
		}
		switch c.Conclusion {
		case "success", "neutral", "skipped":
		default:
			return CIFailing
		}
	}
	return status
}
