// Package visibility answers "is repo X public, internal or private?"
// against the hosting provider's source of truth. Callers must treat a
// lookup error as unknown visibility and fail closed; the package never
// substitutes a default.
package visibility

import (
	"context"
	"errors"
	"fmt"
)

type Visibility string

const (
	Public   Visibility = "public"
	Internal Visibility = "internal"
	Private  Visibility = "private"
)

// ErrUnknownRepo is returned when the provider has no record of the
// repository.
var ErrUnknownRepo = errors.New("unknown repository")

// Oracle is the read-only visibility lookup.
type Oracle interface {
	Lookup(ctx context.Context, repo string) (Visibility, error)
}

// LookupAll resolves every repo in order. The first failure aborts the
// whole batch: a partially resolved candidate list must never feed a
// provisioning decision.
func LookupAll(ctx context.Context, o Oracle, repos []string) (map[string]Visibility, error) {
	out := make(map[string]Visibility, len(repos))
	for _, repo := range repos {
		vis, err := o.Lookup(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", repo, err)
		}
		out[repo] = vis
	}
	return out, nil
}

// StaticOracle serves a fixed repo→visibility map. Used in tests and
// in air-gapped deployments where the mirror list is the whole world.
type StaticOracle struct {
	Repos map[string]Visibility
}

func (s *StaticOracle) Lookup(_ context.Context, repo string) (Visibility, error) {
	vis, ok := s.Repos[repo]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownRepo, repo)
	}
	return vis, nil
}
