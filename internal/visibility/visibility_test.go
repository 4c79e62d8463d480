package visibility

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticOracle(t *testing.T) {
	o := &StaticOracle{Repos: map[string]Visibility{"org/a": Public}}

	vis, err := o.Lookup(context.Background(), "org/a")
	require.NoError(t, err)
	assert.Equal(t, Public, vis)

	_, err = o.Lookup(context.Background(), "org/ghost")
	assert.ErrorIs(t, err, ErrUnknownRepo)
}

func TestLookupAll_AbortsOnFirstFailure(t *testing.T) {
	o := &StaticOracle{Repos: map[string]Visibility{"org/a": Public}}

	_, err := LookupAll(context.Background(), o, []string{"org/a", "org/ghost"})
	assert.ErrorIs(t, err, ErrUnknownRepo,
		"a partially resolved batch must not be returned")
}

func TestProviderOracle_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer provider-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/org%2Finternal-repo", "/repos/org/internal-repo":
			w.Write([]byte(`{"visibility": "internal", "private": true}`))
		case "/repos/org%2Flegacy", "/repos/org/legacy":
			// Older providers only report the private flag.
			w.Write([]byte(`{"private": true}`))
		case "/repos/org%2Fpub", "/repos/org/pub":
			w.Write([]byte(`{"private": false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := NewProviderOracle(srv.URL, "provider-token", 5*time.Second)
	ctx := context.Background()

	vis, err := o.Lookup(ctx, "org/internal-repo")
	require.NoError(t, err)
	assert.Equal(t, Internal, vis)

	vis, err = o.Lookup(ctx, "org/legacy")
	require.NoError(t, err)
	assert.Equal(t, Private, vis)

	vis, err = o.Lookup(ctx, "org/pub")
	require.NoError(t, err)
	assert.Equal(t, Public, vis)

	_, err = o.Lookup(ctx, "org/ghost")
	assert.ErrorIs(t, err, ErrUnknownRepo)
}

func TestProviderOracle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewProviderOracle(srv.URL, "", 5*time.Second)
	_, err := o.Lookup(context.Background(), "org/a")
	assert.Error(t, err, "a failing provider yields an error, never a default visibility")
}
