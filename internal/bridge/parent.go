package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gisauth/internal/autherr"
	"gisauth/internal/identity"
)

// DefaultTimeout bounds how long FromParent waits for the host's reply.
const DefaultTimeout = 30 * time.Second

type parentConfig struct {
	timeout  time.Duration
	identity []identity.Option
}

// Option configures FromParent.
type Option func(*parentConfig)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *parentConfig) { c.timeout = d }
}

// WithIdentityOptions passes opts to the Manager built from the reply.
func WithIdentityOptions(opts ...identity.Option) Option {
	return func(c *parentConfig) { c.identity = append(c.identity, opts...) }
}

// FromParent requests a credential from the host at the other end of port and
// returns a Manager for it. Only replies from parentOrigin carrying the
// request's id are considered.
func FromParent(ctx context.Context, port MessagePort, parentOrigin string, opts ...Option) (*identity.Manager, error) {
	cfg := parentConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := uuid.NewString()
	req, err := json.Marshal(Message{Type: TypeRequest, ID: id})
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if err := port.Send(waitCtx, req); err != nil {
		return nil, bridgeFailure(ctx, err, cfg.timeout)
	}

	for {
		env, err := port.Receive(waitCtx)
		if err != nil {
			return nil, bridgeFailure(ctx, err, cfg.timeout)
		}
		if env.Origin != parentOrigin {
			continue
		}

		var reply Message
		if err := json.Unmarshal(env.Data, &reply); err != nil {
			return nil, autherr.WrapAuthError(autherr.CodeBridgeMalformed, "host reply is not valid JSON", err)
		}
		if reply.ID != id {
			continue
		}
		return managerFromReply(reply, cfg.identity)
	}
}

func managerFromReply(reply Message, opts []identity.Option) (*identity.Manager, error) {
	switch reply.Type {
	case TypeCredential:
		if reply.Token == "" || reply.Server == "" {
			return nil, autherr.NewAuthError(autherr.CodeBridgeMalformed, "host credential lacks token or server")
		}
		ssl := reply.SSL
		return identity.FromCredential(identity.Credential{
			Expires: reply.TokenExpires,
			Server:  reply.Server,
			SSL:     &ssl,
			Token:   reply.Token,
			UserID:  reply.Username,
		}, identity.ServerInfo{
			Server:    reply.Server,
			HasPortal: !reply.HasServer,
			HasServer: reply.HasServer,
		}, opts...)
	case TypeError:
		if reply.Error == nil {
			return nil, autherr.NewAuthError(autherr.CodeBridgeMalformed, "host error reply lacks an error")
		}
		return nil, autherr.NewAuthError(autherr.CodeBridgeError,
			fmt.Sprintf("%s: %s", reply.Error.Name, reply.Error.Message))
	default:
		return nil, autherr.NewAuthError(autherr.CodeBridgeMalformed, fmt.Sprintf("unknown message type %q", reply.Type))
	}
}

func bridgeFailure(parent context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return autherr.NewAuthError(autherr.CodeBridgeTimeout,
			fmt.Sprintf("no credential received from the host within %s", timeout))
	}
	return autherr.WrapAuthError(autherr.CodeBridgeError, "bridge port failed", err)
}
