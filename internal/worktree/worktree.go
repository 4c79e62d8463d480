// Package worktree provisions and reclaims the isolated working trees
// granted to sessions.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gitgate/gateway/internal/gitexec"
	"gitgate/gateway/internal/policy"
	"gitgate/gateway/internal/visibility"
)

// Grant is one on-disk working copy bound to a session.
type Grant struct {
	SessionID  string                `json:"sessionId"`
	Repo       string                `json:"repo"`
	Path       string                `json:"path"`
	Visibility visibility.Visibility `json:"visibility"`
}

// Provisioner creates and destroys session worktrees against the
// shared base repositories.
type Provisioner struct {
	build  *Builder
	git    gitexec.Runner
	oracle visibility.Oracle
	log    *slog.Logger
}

func NewProvisioner(build *Builder, git gitexec.Runner, oracle visibility.Oracle, log *slog.Logger) *Provisioner {
	return &Provisioner{
		build:  build,
		git:    git,
		oracle: oracle,
		log:    log.With("component", "worktree"),
	}
}

// Builder exposes the path layout for callers that only need paths.
func (p *Provisioner) Builder() *Builder {
	return p.build
}

// ProvisionAtomic checks visibility, filters the candidates to the
// session's mode and creates one isolated worktree per surviving
// repository, as a single logical transaction. Visibility is read once
// and the grants are created from that same read, so a repository
// cannot change class between check and grant. Any failure rolls back
// every worktree created for this attempt.
func (p *Provisioner) ProvisionAtomic(ctx context.Context, sessionID string, mode policy.Mode, candidates []string) ([]Grant, error) {
	for _, repo := range candidates {
		if !validRepoName(repo) {
			return nil, fmt.Errorf("invalid repository identifier %q", repo)
		}
	}

	vis, err := visibility.LookupAll(ctx, p.oracle, candidates)
	if err != nil {
		return nil, fmt.Errorf("visibility check: %w", err)
	}
	kept := policy.FilterRepos(mode, vis, candidates)

	grants := make([]Grant, 0, len(kept))
	for _, repo := range kept {
		path, err := p.addWorktree(ctx, sessionID, repo)
		if err != nil {
			p.rollback(ctx, sessionID, grants)
			return nil, fmt.Errorf("provision %s: %w", repo, err)
		}
		grants = append(grants, Grant{
			SessionID:  sessionID,
			Repo:       repo,
			Path:       path,
			Visibility: vis[repo],
		})
	}
	return grants, nil
}

func (p *Provisioner) addWorktree(ctx context.Context, sessionID, repo string) (string, error) {
	repoGit := p.build.RepoGitDir(repo)
	if _, err := os.Stat(repoGit); err != nil {
		return "", fmt.Errorf("base repository not mirrored: %w", err)
	}

	if err := os.MkdirAll(p.build.SessionDir(sessionID), 0700); err != nil {
		return "", err
	}

	path := p.build.GrantPath(sessionID, repo)
	if _, err := p.git.Git(ctx, repoGit, "worktree", "add", "--detach", path); err != nil {
		return "", err
	}
	p.log.Debug("worktree added", "session", sessionID, "repo", repo, "path", path)
	return path, nil
}

// rollback removes the worktrees of a failed provisioning attempt.
// Errors are logged and swallowed: rollback runs on a path that is
// already failing.
func (p *Provisioner) rollback(ctx context.Context, sessionID string, grants []Grant) {
	for _, g := range grants {
		p.removeWorktree(ctx, g.Repo, g.Path)
	}
	if err := os.RemoveAll(p.build.SessionDir(sessionID)); err != nil {
		p.log.Warn("rollback cleanup failed", "session", sessionID, "error", err)
	}
}

func (p *Provisioner) removeWorktree(ctx context.Context, repo, path string) {
	repoGit := p.build.RepoGitDir(repo)
	if _, err := p.git.Git(ctx, repoGit, "worktree", "remove", "--force", path); err != nil {
		p.log.Warn("worktree remove failed", "repo", repo, "path", path, "error", err)
	}
	if _, err := p.git.Git(ctx, repoGit, "worktree", "prune"); err != nil {
		p.log.Warn("worktree prune failed", "repo", repo, "error", err)
	}
}

// Reclaim deletes every worktree and admin directory uniquely owned by
// the session. Idempotent: reclaiming a session that holds nothing is
// a no-op.
func (p *Provisioner) Reclaim(ctx context.Context, sessionID string) error {
	dir := p.build.SessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		repo := unsanitize(e.Name())
		p.removeWorktree(ctx, repo, p.build.GrantPath(sessionID, repo))
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("reclaim %s: %w", sessionID, err)
	}
	p.log.Info("session worktrees reclaimed", "session", sessionID)
	return nil
}

// CleanupOrphans removes session trees left behind by a prior crash:
// every tree whose session id is not in live is reclaimed, and stale
// gitdir registrations are pruned from every base repository. Safe to
// run on every startup.
func (p *Provisioner) CleanupOrphans(ctx context.Context, live map[string]bool) error {
	entries, err := os.ReadDir(p.build.TreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if !e.IsDir() || live[e.Name()] {
			continue
		}
		p.log.Info("reclaiming orphaned session tree", "session", e.Name())
		if err := p.Reclaim(ctx, e.Name()); err != nil {
			return err
		}
	}

	repos, err := os.ReadDir(p.build.ReposDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, r := range repos {
		if !r.IsDir() {
			continue
		}
		repo := unsanitize(trimGitSuffix(r.Name()))
		if _, err := p.git.Git(ctx, p.build.RepoGitDir(repo), "worktree", "prune"); err != nil {
			p.log.Warn("startup prune failed", "repo", repo, "error", err)
		}
	}
	return nil
}

// validRepoName rejects identifiers that would collide under sanitize
// ("a__b" vs "a/b") or resolve outside the session directory.
func validRepoName(repo string) bool {
	if repo == "" || repo == "." || repo == ".." {
		return false
	}
	if strings.Contains(repo, "__") {
		return false
	}
	return true
}

func trimGitSuffix(name string) string {
	if len(name) > 4 && name[len(name)-4:] == ".git" {
		return name[:len(name)-4]
	}
	return name
}
