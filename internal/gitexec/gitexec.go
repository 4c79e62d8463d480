package gitexec

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts the git CLI so provisioning and forwarding can be
// tested without a real repository.
type Runner interface {
	// Git runs `git -C dir args...` and returns trimmed stdout.
	Git(ctx context.Context, dir string, args ...string) (string, error)
}

// RealRunner shells out to the git binary on the trusted host.
type RealRunner struct{}

func NewRunner() *RealRunner {
	return &RealRunner{}
}

func (r *RealRunner) Git(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
