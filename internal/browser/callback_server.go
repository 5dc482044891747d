package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"gisauth/internal/autherr"
	"gisauth/pkg/logging"
)

// DefaultCallbackPath is the path the portal redirects back to.
const DefaultCallbackPath = "/callback"

// CallbackTimeout is how long the CLI waits for the browser to come back.
const CallbackTimeout = 10 * time.Minute

const maxFragmentBytes = 16 << 10

//go:embed templates/callback.html
var callbackHTML string

var callbackTemplate = template.Must(template.New("callback").Parse(callbackHTML))

// CallbackHandler receives the full callback URL, query or fragment included,
// and returns the outcome of completing the flow with it.
type CallbackHandler func(ctx context.Context, callbackURL string) error

// CallbackConfig configures a CallbackServer.
type CallbackConfig struct {
	// Port to listen on; 0 picks a free port.
	Port int

	// Path of the redirect URI (default /callback).
	Path string

	// Handler is invoked once per callback.
	Handler CallbackHandler
}

// CallbackServer is a loopback HTTP server that receives the portal's
// redirect. Code-flow callbacks carry their result in the query; implicit
// callbacks carry it in the URL fragment, which the served page posts back.
type CallbackServer struct {
	config    CallbackConfig
	server    *http.Server
	listener  net.Listener
	serverURL string
	stopOnce  sync.Once
}

// NewCallbackServer creates a callback server. It does not listen until Start.
func NewCallbackServer(config CallbackConfig) *CallbackServer {
	if config.Path == "" {
		config.Path = DefaultCallbackPath
	}
	if !strings.HasPrefix(config.Path, "/") {
		config.Path = "/" + config.Path
	}
	return &CallbackServer{config: config}
}

// Start begins listening on 127.0.0.1 and returns the redirect URI. The server
// stops when ctx is cancelled.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	if s.config.Handler == nil {
		return "", autherr.Missing("handler", "callback server")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.config.Port = listener.Addr().(*net.TCPAddr).Port
	s.serverURL = fmt.Sprintf("http://127.0.0.1:%d", s.config.Port)

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleCallback)
	mux.HandleFunc(s.config.Path+"/fragment", s.handleFragment)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Callback", err, "Callback server stopped unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("Callback", "Listening for OAuth callback on %s", s.RedirectURI())
	return s.RedirectURI(), nil
}

// RedirectURI returns the URI the portal should redirect to.
func (s *CallbackServer) RedirectURI() string {
	return s.serverURL + s.config.Path
}

// Port returns the port the server listens on.
func (s *CallbackServer) Port() int {
	return s.config.Port
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'; script-src 'unsafe-inline'; connect-src 'self'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Implicit flow: the result is in the fragment, which never reaches us.
	if r.URL.RawQuery == "" {
		s.render(w, pageData{Pending: true})
		return
	}

	s.deliver(r.Context(), w, s.RedirectURI()+"?"+r.URL.RawQuery)
}

func (s *CallbackServer) handleFragment(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFragmentBytes))
	if err != nil || len(body) == 0 {
		s.render(w, pageData{Error: "The sign-in response was empty."})
		return
	}

	s.deliver(r.Context(), w, s.RedirectURI()+"#"+string(body))
}

func (s *CallbackServer) deliver(ctx context.Context, w http.ResponseWriter, callbackURL string) {
	if err := s.config.Handler(ctx, callbackURL); err != nil {
		s.render(w, pageData{Error: describe(err)})
		return
	}
	s.render(w, pageData{})
}

type pageData struct {
	Pending bool
	Error   string
}

func (s *CallbackServer) render(w http.ResponseWriter, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackTemplate.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// describe turns a flow error into text suitable for the browser page.
func describe(err error) string {
	var denied *autherr.AccessDeniedError
	if errors.As(err, &denied) {
		return denied.Error()
	}
	var authErr *autherr.AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return "An unexpected error occurred while completing sign-in."
}
