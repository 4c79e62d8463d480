package worktree

import (
	"path/filepath"
	"strings"
)

// Builder computes every on-disk path of the worktree layout:
//
//	<data>/repos/<repo>.git   shared object and ref stores, one per
//	                          repository, pre-mirrored by the host
//	<data>/trees/<session>/   per-session checkouts, the only part
//	                          ever mounted into a worker
//
// The administrative metadata of each checkout (index, HEAD) lives
// inside the host-side gitdir under repos/, which is never exposed to
// workers. Isolation comes from what is mounted, not from permission
// checks inside the worker.
type Builder struct {
	DataDir string
}

func NewBuilder(dataDir string) *Builder {
	return &Builder{DataDir: dataDir}
}

func (b *Builder) ReposDir() string {
	return filepath.Join(b.DataDir, "repos")
}

func (b *Builder) TreesDir() string {
	return filepath.Join(b.DataDir, "trees")
}

// RepoGitDir is the shared base repository for repo.
func (b *Builder) RepoGitDir(repo string) string {
	return filepath.Join(b.ReposDir(), sanitize(repo)+".git")
}

// SessionDir is the root of one session's checkouts. Paths embed the
// session id, so two sessions can never receive overlapping paths.
func (b *Builder) SessionDir(sessionID string) string {
	return filepath.Join(b.TreesDir(), sessionID)
}

// GrantPath is the checkout path for one repository inside a session.
func (b *Builder) GrantPath(sessionID, repo string) string {
	return filepath.Join(b.SessionDir(sessionID), sanitize(repo))
}

// sanitize flattens an owner/name repository identifier into a single
// path component.
func sanitize(repo string) string {
	return strings.ReplaceAll(repo, "/", "__")
}

func unsanitize(name string) string {
	return strings.ReplaceAll(name, "__", "/")
}
