// Package gitops records a successful apply in version control. It is an
// audit step: its failures are logged by the caller and never escalate into
// the apply outcome.
package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Committer stages and commits previously-tracked modified files after a
// successful apply. New/untracked paths are never added: an apply must not
// accidentally publish stray generated artifacts. Push crosses a trust
// boundary (credentials, network) and stays disabled unless explicitly
// enabled.
type Committer struct {
	RepoDir     string
	PushEnabled bool
	Logger      *slog.Logger
}

func New(repoDir string, pushEnabled bool, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{RepoDir: repoDir, PushEnabled: pushEnabled, Logger: logger}
}

// CommitApplied commits tracked modifications with a message identifying the
// applied proposal. A clean tree is a no-op. The returned error is for the
// caller's log only.
func (c *Committer) CommitApplied(ctx context.Context, proposalID, title string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not available: %w", err)
	}
	modified, err := c.trackedModified(ctx)
	if err != nil {
		return err
	}
	if len(modified) == 0 {
		c.Logger.Info("no tracked modifications to commit", "proposal", proposalID)
		return nil
	}
	args := append([]string{"add", "--"}, modified...)
	if _, err := c.git(ctx, args...); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	msg := fmt.Sprintf("apply proposal %s: %s", proposalID, title)
	if _, err := c.git(ctx, "commit", "-m", msg); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	c.Logger.Info("committed applied proposal", "proposal", proposalID, "files", len(modified))
	if !c.PushEnabled {
		return nil
	}
	if _, err := c.git(ctx, "push"); err != nil {
		// push failure must never fail the overall apply
		c.Logger.Warn("push failed after successful commit", "proposal", proposalID, "error", err)
	}
	return nil
}

// trackedModified lists paths git already tracks that carry unstaged
// modifications.
func (c *Committer) trackedModified(ctx context.Context) ([]string, error) {
	out, err := c.git(ctx, "diff", "--name-only")
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (c *Committer) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.RepoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
