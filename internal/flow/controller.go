package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"gisauth/internal/autherr"
	"gisauth/internal/browser"
	"gisauth/internal/identity"
	"gisauth/internal/metrics"
	"gisauth/internal/storage"
	"gisauth/pkg/logging"
	"gisauth/pkg/oauth"
)

const (
	// DefaultPortal is used when no portal is given.
	DefaultPortal = "https://www.arcgis.com/sharing/rest"
	// DefaultExpiration is the requested token lifetime in minutes (two weeks).
	DefaultExpiration = 20160
	// DefaultPopupTimeout bounds how long BeginOAuth2 waits for the callback.
	DefaultPopupTimeout = 10 * time.Minute

	stateKeyPrefix    = "AUTH_STATE_"
	verifierKeyPrefix = "CODE_VERIFIER_"
)

// StateKey is the storage key holding the pending state token of clientID.
func StateKey(clientID string) string { return stateKeyPrefix + clientID }

// VerifierKey is the storage key holding the PKCE verifier of clientID.
func VerifierKey(clientID string) string { return verifierKeyPrefix + clientID }

// Bool returns a pointer to v, for the optional switches of BeginOptions.
func Bool(v bool) *bool { return &v }

// BeginOptions configures BeginOAuth2. PKCE and Popup default to true.
type BeginOptions struct {
	ClientID    string
	RedirectURI string
	Portal      string
	Provider    string
	// Expiration is the requested token lifetime in minutes.
	Expiration   int
	PKCE         *bool
	Popup        *bool
	Locale       string
	Style        string
	State        json.RawMessage
	OriginalURL  string
	PopupTimeout time.Duration
}

func (o BeginOptions) withDefaults() BeginOptions {
	if o.Portal == "" {
		o.Portal = DefaultPortal
	}
	o.Portal = oauth.NormalizePortalURL(o.Portal)
	if o.Provider == "" {
		o.Provider = oauth.ProviderArcGIS
	}
	if o.Expiration <= 0 {
		o.Expiration = DefaultExpiration
	}
	if o.PKCE == nil {
		o.PKCE = Bool(true)
	}
	if o.Popup == nil {
		o.Popup = Bool(true)
	}
	if o.PopupTimeout <= 0 {
		o.PopupTimeout = DefaultPopupTimeout
	}
	return o
}

// Config wires a Controller to its capabilities.
type Config struct {
	// Store keeps state tokens and verifiers between begin and complete.
	// Defaults to an in-memory store.
	Store storage.Store
	// Window opens and navigates the browser. Defaults to the system browser.
	Window browser.Window
	// HTTPClient is used for the code exchange and by the managers produced.
	HTTPClient *http.Client
	Clock      func() time.Time
	// InsecureContext disables the SHA-256 PKCE challenge in favour of the
	// plain method.
	InsecureContext bool
	// TrustedDomains are passed on to the managers produced.
	TrustedDomains []string
}

type result struct {
	manager *identity.Manager
	err     error
}

// Controller runs OAuth 2.0 flows. It is safe for concurrent use; flows are
// told apart by their state id.
type Controller struct {
	store          storage.Store
	window         browser.Window
	httpClient     *http.Client
	now            func() time.Time
	hasher         oauth.Hasher
	trustedDomains []string

	mu      sync.Mutex
	waiters map[string]chan result
	states  map[string]State
}

// NewController creates a Controller from cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{
		store:          cfg.Store,
		window:         cfg.Window,
		httpClient:     cfg.HTTPClient,
		now:            cfg.Clock,
		hasher:         oauth.SHA256,
		trustedDomains: cfg.TrustedDomains,
		waiters:        make(map[string]chan result),
		states:         make(map[string]State),
	}
	if c.store == nil {
		c.store = storage.NewMemoryStore()
	}
	if c.window == nil {
		c.window = &browser.System{Out: os.Stderr}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if cfg.InsecureContext {
		c.hasher = nil
	}
	return c
}

// State reports the state of the flow with stateID. Unknown flows are idle.
func (c *Controller) State(stateID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[stateID]
}

// BeginOAuth2 starts a flow. In popup mode it returns the signed-in manager
// once the callback has been completed; in redirect mode it returns nil, nil
// after navigating.
func (c *Controller) BeginOAuth2(ctx context.Context, opts BeginOptions) (*identity.Manager, error) {
	if opts.ClientID == "" {
		return nil, autherr.Missing("clientId", "beginOAuth2")
	}
	if opts.RedirectURI == "" {
		return nil, autherr.Missing("redirectUri", "beginOAuth2")
	}
	opts = opts.withDefaults()

	state, err := oauth.NewStateToken(opts.OriginalURL, opts.State)
	if err != nil {
		return nil, err
	}
	encoded, err := state.Encode()
	if err != nil {
		return nil, err
	}

	var pkce *oauth.PKCEChallenge
	responseType := oauth.ResponseTypeToken
	if *opts.PKCE {
		pkce, err = oauth.GeneratePKCEWith(c.hasher)
		if err != nil {
			return nil, err
		}
		responseType = oauth.ResponseTypeCode
	}

	authURL, err := oauth.BuildAuthorizeURL(oauth.AuthorizeRequest{
		Portal:       opts.Portal,
		ClientID:     opts.ClientID,
		RedirectURI:  opts.RedirectURI,
		ResponseType: responseType,
		Provider:     opts.Provider,
		Expiration:   opts.Expiration,
		State:        encoded,
		Locale:       opts.Locale,
		Style:        opts.Style,
		PKCE:         pkce,
	})
	if err != nil {
		return nil, err
	}

	if err := c.persist(opts.ClientID, encoded, pkce); err != nil {
		return nil, err
	}
	c.start(state.ID)
	logging.Debug("Flow", "Starting %s flow for client %s (popup=%t)", responseType, opts.ClientID, *opts.Popup)

	if !*opts.Popup {
		if err := c.window.Navigate(ctx, authURL); err != nil {
			c.abandon(opts.ClientID, state.ID, err)
			return nil, err
		}
		c.advance(state.ID, StateFlowStarted, StateAwaitingCallback)
		return nil, nil
	}
	return c.awaitPopup(ctx, opts, state.ID, authURL)
}

func (c *Controller) persist(clientID, encodedState string, pkce *oauth.PKCEChallenge) error {
	if err := c.store.Set(StateKey(clientID), encodedState); err != nil {
		return fmt.Errorf("failed to persist auth state: %w", err)
	}
	if pkce == nil {
		return c.store.Remove(VerifierKey(clientID))
	}
	if err := c.store.Set(VerifierKey(clientID), pkce.CodeVerifier); err != nil {
		return fmt.Errorf("failed to persist code verifier: %w", err)
	}
	return nil
}

func (c *Controller) awaitPopup(ctx context.Context, opts BeginOptions, id, authURL string) (*identity.Manager, error) {
	ch := make(chan result, 1)
	c.mu.Lock()
	c.waiters[id] = ch
	c.mu.Unlock()

	if err := c.window.Open(ctx, authURL); err != nil {
		c.unregister(id)
		c.abandon(opts.ClientID, id, err)
		return nil, err
	}
	c.advance(id, StateFlowStarted, StateAwaitingCallback)

	timer := time.NewTimer(opts.PopupTimeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-ch:
		return res.manager, res.err
	case <-timer.C:
		err = autherr.NewAuthError(autherr.CodePopupTimeout,
			fmt.Sprintf("no OAuth callback received within %s", opts.PopupTimeout))
	case <-ctx.Done():
		err = ctx.Err()
	}

	if !c.unregister(id) {
		// The callback won the race against the timeout.
		res := <-ch
		return res.manager, res.err
	}
	c.abandon(opts.ClientID, id, err)
	if closeErr := c.window.Close(); closeErr != nil {
		logging.Debug("Flow", "Closing popup failed: %v", closeErr)
	}
	return nil, err
}

// HandlePopupCallback hands the outcome of a popup flow to the BeginOAuth2
// call waiting on stateID. It reports whether a waiter was found.
func (c *Controller) HandlePopupCallback(stateID string, m *identity.Manager, err error) bool {
	c.mu.Lock()
	ch, ok := c.waiters[stateID]
	delete(c.waiters, stateID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result{manager: m, err: err}
	return true
}

func (c *Controller) unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[id]; !ok {
		return false
	}
	delete(c.waiters, id)
	return true
}

// start records a new flow and forgets flows that already finished.
func (c *Controller) start(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.states {
		if s.Terminal() {
			delete(c.states, k)
		}
	}
	c.states[id] = StateFlowStarted
}

// setState updates a flow registered by start. Unknown ids, such as one
// taken from a forged callback, are ignored.
func (c *Controller) setState(id string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[id]; ok {
		c.states[id] = s
	}
}

// advance moves a flow from one state to the next unless it has already
// moved on, e.g. because the callback arrived while the window was opening.
func (c *Controller) advance(id string, from, to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.states[id]; ok && cur == from {
		c.states[id] = to
	}
}

// abandon fails a flow that never reached its callback.
func (c *Controller) abandon(clientID, id string, err error) {
	c.clear(clientID)
	c.finish(id, err)
}

func (c *Controller) clear(clientID string) {
	for _, key := range []string{StateKey(clientID), VerifierKey(clientID)} {
		if err := c.store.Remove(key); err != nil {
			logging.Warn("Flow", "Failed to remove %s: %v", key, err)
		}
	}
}

// finish moves a flow to its terminal state.
func (c *Controller) finish(id string, err error) State {
	s := StateSucceeded
	switch {
	case autherr.IsAccessDenied(err):
		s = StateDenied
	case err != nil:
		s = StateError
	}
	c.setState(id, s)
	metrics.ObserveFlow(s.String())
	return s
}
