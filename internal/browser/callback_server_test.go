package browser

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gisauth/internal/autherr"
)

type capture struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (c *capture) handle(_ context.Context, u string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, u)
	return c.err
}

func (c *capture) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}

func startServer(t *testing.T, c *capture) *CallbackServer {
	t.Helper()
	srv := NewCallbackServer(CallbackConfig{Handler: c.handle})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(srv.Stop)

	redirect, err := srv.Start(ctx)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(redirect, "/callback"))
	require.NotZero(t, srv.Port())
	return srv
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestCallbackServer_CodeCallback(t *testing.T) {
	c := &capture{}
	srv := startServer(t, c)

	resp, err := http.Get(srv.RedirectURI() + "?code=abc&state=xyz")
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Signed in")
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, []string{srv.RedirectURI() + "?code=abc&state=xyz"}, c.got())
}

func TestCallbackServer_ImplicitCallbackPostsFragment(t *testing.T) {
	c := &capture{}
	srv := startServer(t, c)

	// The bare redirect serves the page that forwards the fragment.
	resp, err := http.Get(srv.RedirectURI())
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, "/fragment")
	assert.Empty(t, c.got())

	resp, err = http.Post(srv.RedirectURI()+"/fragment", "application/x-www-form-urlencoded",
		strings.NewReader("access_token=tok&expires_in=7200&state=xyz"))
	require.NoError(t, err)
	body = readBody(t, resp)

	assert.Contains(t, body, "Signed in")
	assert.Equal(t, []string{srv.RedirectURI() + "#access_token=tok&expires_in=7200&state=xyz"}, c.got())
}

func TestCallbackServer_HandlerErrorRendersMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "denied", err: autherr.NewAccessDeniedError(), expected: "denied your authorization request"},
		{name: "state mismatch", err: autherr.NewAuthError(autherr.CodeMismatchedAuthState, "state mismatch"), expected: "state mismatch"},
		{name: "opaque", err: io.ErrUnexpectedEOF, expected: "unexpected error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &capture{err: tt.err}
			srv := startServer(t, c)

			resp, err := http.Get(srv.RedirectURI() + "?error=x&state=y")
			require.NoError(t, err)
			body := readBody(t, resp)
			assert.Contains(t, body, "Sign-in failed")
			assert.Contains(t, body, tt.expected)
		})
	}
}

func TestCallbackServer_EmptyFragment(t *testing.T) {
	c := &capture{}
	srv := startServer(t, c)

	resp, err := http.Post(srv.RedirectURI()+"/fragment", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "empty")
	assert.Empty(t, c.got())
}

func TestCallbackServer_RequiresHandler(t *testing.T) {
	srv := NewCallbackServer(CallbackConfig{})
	_, err := srv.Start(context.Background())
	require.Error(t, err)
}

func TestCallbackServer_StopIsIdempotent(t *testing.T) {
	srv := startServer(t, &capture{})
	srv.Stop()
	srv.Stop()

	_, err := http.Get(srv.RedirectURI())
	assert.Error(t, err)
}
