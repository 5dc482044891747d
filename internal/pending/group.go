package pending

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Purposes used by the identity manager.
const (
	PurposeFederate = "federate"
	PurposeRefresh  = "refresh"
	PurposeTrusted  = "trusted"
	PurposeUser     = "user"
)

// Observer is notified when a call settles. shared reports whether the result
// was delivered to more than one caller.
type Observer func(purpose string, shared bool, err error)

// Group ensures at most one operation is in flight per (purpose, key).
// The zero value is ready to use.
type Group struct {
	sf       singleflight.Group
	mu       sync.Mutex
	inflight map[string]struct{}
	observer Observer
}

// New creates a Group that reports settled calls to observer. observer may be nil.
func New(observer Observer) *Group {
	return &Group{observer: observer}
}

// InFlight returns the number of tickets currently held.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func ticketKey(purpose, key string) string {
	return purpose + "\x00" + key
}

func (g *Group) track(k string) {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[string]struct{})
	}
	g.inflight[k] = struct{}{}
	g.mu.Unlock()
}

func (g *Group) untrack(k string) {
	g.mu.Lock()
	delete(g.inflight, k)
	g.mu.Unlock()
}

// Acquire runs fn for (purpose, key) unless a call for the same pair is already
// in flight, in which case it waits for and returns that call's result.
//
// fn receives a context detached from the caller's cancellation so that one
// caller giving up does not fail the others. A caller whose ctx is done
// returns ctx.Err() while the shared call keeps running. The ticket is removed
// as soon as fn returns, whether it succeeded or not.
func Acquire[T any](ctx context.Context, g *Group, purpose, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	k := ticketKey(purpose, key)
	opCtx := context.WithoutCancel(ctx)

	ch := g.sf.DoChan(k, func() (interface{}, error) {
		g.track(k)
		defer g.untrack(k)
		return fn(opCtx)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if g.observer != nil {
			g.observer(purpose, res.Shared, res.Err)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return zero, fmt.Errorf("pending %s/%s: unexpected result type %T", purpose, key, res.Val)
		}
		return v, nil
	}
}
