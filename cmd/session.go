package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"gisauth/internal/config"
	"gisauth/internal/identity"
	"gisauth/internal/storage"
	"gisauth/pkg/logging"
)

// sessionKey is the store key holding the serialized identity.
const sessionKey = "GISAUTH_SESSION"

var errNoSession = errors.New("not signed in; run `gisauth login` first")

// runtime bundles what every command needs: configuration, the store and
// the HTTP client.
type runtime struct {
	cfg        config.GisauthConfig
	store      storage.Store
	httpClient *http.Client
}

func newRuntime() (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return &runtime{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeouts.HTTP},
	}, nil
}

func (r *runtime) identityOptions() []identity.Option {
	opts := []identity.Option{identity.WithHTTPClient(r.httpClient)}
	if len(r.cfg.TrustedDomains) > 0 {
		opts = append(opts, identity.WithTrustedDomains(r.cfg.TrustedDomains...))
	}
	return opts
}

// loadSession restores the persisted identity. errNoSession is returned when
// nobody has signed in.
func (r *runtime) loadSession() (*identity.Manager, error) {
	data, ok, err := r.store.Get(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok || data == "" {
		return nil, errNoSession
	}
	m, err := identity.Deserialize([]byte(data), r.identityOptions()...)
	if err != nil {
		return nil, fmt.Errorf("stored session is unusable, sign in again: %w", err)
	}
	return m, nil
}

func (r *runtime) saveSession(m *identity.Manager) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	if err := r.store.Set(sessionKey, string(data)); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	logging.Debug("Session", "Saved session for %s", m.Username())
	return nil
}

// saveIfChanged persists m when its token changed since generation.
func (r *runtime) saveIfChanged(m *identity.Manager, generation uint64) {
	if m.Destroyed() || m.Generation() == generation {
		return
	}
	if err := r.saveSession(m); err != nil {
		logging.Warn("Session", "Refreshed token could not be saved: %v", err)
	}
}

func (r *runtime) clearSession() error {
	return r.store.Remove(sessionKey)
}

// watchSession keeps m's primary token in step with the stored session when
// the file backend is in use and another process rewrites it. The returned
// stop function is never nil.
func (r *runtime) watchSession(m *identity.Manager) func() {
	fs, ok := r.store.(*storage.FileStore)
	if !ok {
		return func() {}
	}
	w, err := fs.Watch(func() {
		data, ok, err := r.store.Get(sessionKey)
		if err != nil || !ok {
			return
		}
		reloaded, err := identity.Deserialize([]byte(data))
		if err != nil {
			logging.Warn("Session", "Ignoring unreadable session update: %v", err)
			return
		}
		if reloaded.Token() == m.Token() {
			return
		}
		if err := m.UpdateToken(reloaded.Token(), reloaded.TokenExpires()); err == nil {
			logging.Info("Session", "Picked up token rewritten by another process")
		}
	})
	if err != nil {
		logging.Warn("Session", "Not watching %s for changes: %v", fs.Path(), err)
		return func() {}
	}
	return func() { _ = w.Stop() }
}
