// Package policy decides allow/deny for every gateway operation.
// Decisions are transient values, recomputed per request and never
// stored, so a visibility change can never leak through a stale
// authorization.
package policy

import (
	"fmt"

	"gitgate/gateway/internal/visibility"
)

// Mode is a session's access mode. It determines which repository
// visibility classes the session may touch and is immutable for the
// session's lifetime.
type Mode string

const (
	ModePrivate Mode = "private"
	ModePublic  Mode = "public"
)

// Valid reports whether m is one of the two recognized modes.
func (m Mode) Valid() bool {
	return m == ModePrivate || m == ModePublic
}

// Operation is a gateway-mediated version-control operation.
type Operation string

const (
	OpPush     Operation = "push"
	OpFetch    Operation = "fetch"
	OpLsRemote Operation = "ls-remote"
	OpStatus   Operation = "status"
	OpLog      Operation = "log"
)

// IsWrite reports whether the operation mutates the remote.
func (o Operation) IsWrite() bool {
	return o == OpPush
}

// Known reports whether the gateway forwards this operation at all.
func (o Operation) Known() bool {
	switch o {
	case OpPush, OpFetch, OpLsRemote, OpStatus, OpLog:
		return true
	}
	return false
}

// Decision is the transient outcome of one policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

func allow() Decision {
	return Decision{Allowed: true, Reason: "allowed"}
}

// Engine evaluates requests against the configured policy. It holds no
// mutable state; every method is safe for concurrent use.
type Engine struct {
	// DefaultMode is the deprecated process-wide fallback, consulted
	// only when a request carries no determinable mode and Strict is
	// off.
	DefaultMode Mode
	// Strict removes the fallback: an unresolved mode or repository is
	// denied outright.
	Strict bool
}

// Decide is a pure function of its inputs: same inputs, same output,
// no side effects.
func (e *Engine) Decide(op Operation, vis visibility.Visibility, mode Mode, isWrite bool) Decision {
	if !mode.Valid() {
		return deny("no determinable mode for operation %s", op)
	}

	switch mode {
	case ModePrivate:
		if vis == visibility.Public {
			return deny("private-mode session may not touch public repository")
		}
	case ModePublic:
		if vis == visibility.Private || vis == visibility.Internal {
			return deny("public-mode session may not touch %s repository", vis)
		}
	}
	return allow()
}

// ResolveMode returns the effective mode for a request. The session's
// own mode always wins; the process-wide default applies only as the
// deprecated fallback, and strict mode reports unresolved instead.
func (e *Engine) ResolveMode(sessionMode Mode) (Mode, bool) {
	if sessionMode.Valid() {
		return sessionMode, true
	}
	if e.Strict {
		return "", false
	}
	if e.DefaultMode.Valid() {
		return e.DefaultMode, true
	}
	return "", false
}

// ResolveRepo determines the target repository of an operation with a
// strict precedence order: an explicit repository argument beats any
// structured payload field. An unresolvable target is reported as
// such, never silently defaulted, so fail-closed policy can act on it.
func (e *Engine) ResolveRepo(explicit string, payload map[string]string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if payload != nil {
		if repo := payload["repo"]; repo != "" {
			return repo, true
		}
	}
	return "", false
}

// FilterRepos keeps the candidates a session of the given mode may be
// granted: private mode keeps private and internal repositories,
// public mode keeps public only.
func FilterRepos(mode Mode, vis map[string]visibility.Visibility, candidates []string) []string {
	var kept []string
	for _, repo := range candidates {
		v, ok := vis[repo]
		if !ok {
			continue
		}
		switch mode {
		case ModePrivate:
			if v == visibility.Private || v == visibility.Internal {
				kept = append(kept, repo)
			}
		case ModePublic:
			if v == visibility.Public {
				kept = append(kept, repo)
			}
		}
	}
	return kept
}
