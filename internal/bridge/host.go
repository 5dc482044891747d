package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"gisauth/internal/identity"
	"gisauth/internal/metrics"
	"gisauth/pkg/logging"
)

// Request results recorded by the host.
const (
	resultServed  = "served"
	resultExpired = "expired"
	resultIgnored = "ignored"
)

// Host answers credential requests on a port with the credential of its
// manager.
type Host struct {
	manager *identity.Manager
	port    MessagePort

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHost creates a disabled host for m listening on port.
func NewHost(m *identity.Manager, port MessagePort) *Host {
	return &Host{manager: m, port: port}
}

// Enable starts answering requests whose origin exactly matches one of
// validOrigins. Enabling an enabled host replaces its origin list.
func (h *Host) Enable(validOrigins []string) {
	h.Disable()

	origins := make(map[string]struct{}, len(validOrigins))
	for _, o := range validOrigins {
		origins[o] = struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h.mu.Lock()
	h.cancel, h.done = cancel, done
	h.mu.Unlock()

	go func() {
		defer close(done)
		h.listen(ctx, origins)
	}()
}

// Disable stops answering requests and waits for the listener to exit.
func (h *Host) Disable() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Enabled reports whether the host is listening.
func (h *Host) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Host) listen(ctx context.Context, origins map[string]struct{}) {
	for {
		env, err := h.port.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				logging.Warn("Bridge", "Receive failed, host stops listening: %v", err)
			}
			return
		}
		h.handle(ctx, env, origins)
	}
}

func (h *Host) handle(ctx context.Context, env Envelope, origins map[string]struct{}) {
	if _, ok := origins[env.Origin]; !ok {
		metrics.ObserveBridgeRequest(resultIgnored)
		logging.Debug("Bridge", "Ignoring message from origin %q", env.Origin)
		return
	}
	var req Message
	if err := json.Unmarshal(env.Data, &req); err != nil || req.Type != TypeRequest {
		metrics.ObserveBridgeRequest(resultIgnored)
		return
	}

	reply, result := h.reply(req.ID)
	data, err := json.Marshal(reply)
	if err != nil {
		logging.Error("Bridge", err, "Failed to encode reply")
		return
	}
	if err := h.port.Send(ctx, data); err != nil {
		logging.Debug("Bridge", "Reply to %s failed: %v", env.Origin, err)
		return
	}
	metrics.ObserveBridgeRequest(result)
	logging.Debug("Bridge", "Answered credential request from %s: %s", env.Origin, result)
}

func (h *Host) reply(id string) (Message, string) {
	if h.manager.Destroyed() || h.manager.IsTokenExpired() {
		return Message{
			Type: TypeError,
			ID:   id,
			Error: &ErrorBody{
				Name:    ErrorNameTokenExpired,
				Message: "Token was expired, and not returned to the child application",
			},
		}, resultExpired
	}
	cred := h.manager.ToCredential()
	return Message{
		Type:         TypeCredential,
		ID:           id,
		Token:        cred.Token,
		TokenExpires: cred.Expires,
		Username:     cred.UserID,
		SSL:          cred.SSL != nil && *cred.SSL,
		Server:       cred.Server,
		HasServer:    h.manager.Server() != "",
	}, resultServed
}
