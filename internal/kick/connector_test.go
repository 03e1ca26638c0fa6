package kick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/paymoneywubby":
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Write([]byte(`{"id": 7, "slug": "paymoneywubby", "chatroom": {"id": 1234}}`))
		case "/nochat":
			w.Write([]byte(`{"id": 8, "slug": "nochat"}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := &Resolver{APIBase: srv.URL, Client: srv.Client()}

	id, slug, err := r.Resolve(context.Background(), "paymoneywubby")
	require.NoError(t, err)
	assert.Equal(t, 1234, id)
	assert.Equal(t, "paymoneywubby", slug)

	_, _, err = r.Resolve(context.Background(), "nochat")
	assert.Error(t, err)

	_, _, err = r.Resolve(context.Background(), "missing")
	assert.ErrorContains(t, err, "404")
}

func TestResolveAllSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xqc" {
			w.Write([]byte(`{"slug": "xqc", "chatroom": {"id": 99}}`))
			return
		}
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New([]ChannelConfig{
		{Slug: "preset", ChatroomID: 5},
		{Slug: "xqc"},
		{Slug: "blocked"},
	})
	c.resolver = &Resolver{APIBase: srv.URL, Client: srv.Client()}
	c.resolveAll(context.Background())

	assert.Equal(t, map[int]string{5: "preset", 99: "xqc"}, c.idToSlug)
}
