package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitgate/gateway/internal/visibility"
)

func TestDecide_ModeMatrix(t *testing.T) {
	e := &Engine{}

	tests := []struct {
		name    string
		mode    Mode
		vis     visibility.Visibility
		allowed bool
	}{
		{"private mode, private repo", ModePrivate, visibility.Private, true},
		{"private mode, internal repo", ModePrivate, visibility.Internal, true},
		{"private mode, public repo", ModePrivate, visibility.Public, false},
		{"public mode, public repo", ModePublic, visibility.Public, true},
		{"public mode, private repo", ModePublic, visibility.Private, false},
		{"public mode, internal repo", ModePublic, visibility.Internal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(OpPush, tt.vis, tt.mode, true)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason, "denials always carry a reason")
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	e := &Engine{DefaultMode: ModePrivate}

	first := e.Decide(OpFetch, visibility.Public, ModePrivate, false)
	second := e.Decide(OpFetch, visibility.Public, ModePrivate, false)
	assert.Equal(t, first, second)
}

func TestDecide_UnresolvedModeDenies(t *testing.T) {
	e := &Engine{}

	d := e.Decide(OpPush, visibility.Public, "", true)
	assert.False(t, d.Allowed)
}

func TestResolveMode_SessionWins(t *testing.T) {
	e := &Engine{DefaultMode: ModePrivate}

	mode, ok := e.ResolveMode(ModePublic)
	assert.True(t, ok)
	assert.Equal(t, ModePublic, mode)
}

func TestResolveMode_FallbackUnlessStrict(t *testing.T) {
	e := &Engine{DefaultMode: ModePrivate}

	mode, ok := e.ResolveMode("")
	assert.True(t, ok)
	assert.Equal(t, ModePrivate, mode)

	e.Strict = true
	_, ok = e.ResolveMode("")
	assert.False(t, ok, "strict removes the fallback entirely")
}

func TestResolveRepo_Precedence(t *testing.T) {
	e := &Engine{}

	repo, ok := e.ResolveRepo("org/explicit", map[string]string{"repo": "org/payload"})
	assert.True(t, ok)
	assert.Equal(t, "org/explicit", repo, "explicit argument beats payload")

	repo, ok = e.ResolveRepo("", map[string]string{"repo": "org/payload"})
	assert.True(t, ok)
	assert.Equal(t, "org/payload", repo)

	_, ok = e.ResolveRepo("", nil)
	assert.False(t, ok, "unresolved is reported, never defaulted")
}

func TestFilterRepos(t *testing.T) {
	vis := map[string]visibility.Visibility{
		"org/pub":  visibility.Public,
		"org/priv": visibility.Private,
		"org/int":  visibility.Internal,
	}
	candidates := []string{"org/pub", "org/priv", "org/int"}

	assert.Equal(t, []string{"org/priv", "org/int"}, FilterRepos(ModePrivate, vis, candidates))
	assert.Equal(t, []string{"org/pub"}, FilterRepos(ModePublic, vis, candidates))
}

func TestFilterRepos_UnknownVisibilityDropped(t *testing.T) {
	kept := FilterRepos(ModePrivate, map[string]visibility.Visibility{}, []string{"org/x"})
	assert.Empty(t, kept)
}

func TestOperation_IsWrite(t *testing.T) {
	assert.True(t, OpPush.IsWrite())
	assert.False(t, OpFetch.IsWrite())
	assert.False(t, OpLsRemote.IsWrite())
}

func TestOperation_Known(t *testing.T) {
	assert.True(t, OpPush.Known())
	assert.False(t, Operation("rebase").Known())
}
