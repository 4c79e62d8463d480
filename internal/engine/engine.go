// Package engine forwards validated operations to the real
// version-control engine on the trusted host. It trusts nothing about
// the arguments: workers supply refs, never flags.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitgate/gateway/internal/gitexec"
	"gitgate/gateway/internal/policy"
)

type Engine struct {
	git     gitexec.Runner
	timeout time.Duration
	log     *slog.Logger
}

func New(git gitexec.Runner, timeout time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		git:     git,
		timeout: timeout,
		log:     log.With("component", "engine"),
	}
}

// Run executes op inside the session's worktree with a bounded
// timeout, so a hung downstream call cannot exhaust server threads.
func (e *Engine) Run(ctx context.Context, worktreePath string, op policy.Operation, args []string) (string, error) {
	if !op.Known() {
		return "", fmt.Errorf("unsupported operation %q", op)
	}
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			return "", fmt.Errorf("argument %q: flags are not forwarded", a)
		}
	}

	gitArgs, err := buildArgs(op, args)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := e.git.Git(ctx, worktreePath, gitArgs...)
	e.log.Debug("engine call",
		"op", op, "worktree", worktreePath,
		"took", time.Since(start), "error", err)
	return out, err
}

func buildArgs(op policy.Operation, args []string) ([]string, error) {
	switch op {
	case policy.OpPush:
		return append([]string{"push", "origin"}, args...), nil
	case policy.OpFetch:
		return append([]string{"fetch", "origin"}, args...), nil
	case policy.OpLsRemote:
		return append([]string{"ls-remote", "origin"}, args...), nil
	case policy.OpStatus:
		if len(args) != 0 {
			return nil, fmt.Errorf("status takes no arguments")
		}
		return []string{"status", "--porcelain"}, nil
	case policy.OpLog:
		return append([]string{"log", "--oneline", "-20"}, args...), nil
	default:
		return nil, fmt.Errorf("unsupported operation %q", op)
	}
}
