package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/djinnbot/djinnbot/internal/core"
)

// Git wraps the git CLI operations the workspace manager needs.
type Git struct {
	timeout time.Duration
}

// NewGit creates a git client with the default command timeout.
func NewGit() *Git {
	return &Git{timeout: 60 * time.Second}
}

// run executes a git command in dir.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout("git command timed out")
		}
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "not possible to fast-forward") {
			return "", core.ErrConflict(core.CodeMergeRejected, "remote has diverged, pull first")
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Clone clones url into path.
func (g *Git) Clone(ctx context.Context, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating workspace parent: %w", err)
	}
	_, err := g.run(ctx, "", "clone", url, path)
	return err
}

// PullFastForward updates an existing clone, refusing merges.
func (g *Git) PullFastForward(ctx context.Context, path string) error {
	_, err := g.run(ctx, path, "pull", "--ff-only")
	return err
}

// IsRepo reports whether path holds a git repository.
func (g *Git) IsRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.IsDir()
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context, path string) (string, error) {
	return g.run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranch creates branch at HEAD without switching to it. Already
// existing branches are left alone.
func (g *Git) CreateBranch(ctx context.Context, path, branch string) error {
	if _, err := g.run(ctx, path, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		return nil
	}
	_, err := g.run(ctx, path, "branch", branch)
	return err
}
