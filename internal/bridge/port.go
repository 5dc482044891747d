package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a port whose connection has gone away.
var ErrClosed = errors.New("bridge: port closed")

// Envelope is a received message together with the origin of its sender.
type Envelope struct {
	Origin string
	Data   []byte
}

// MessagePort is a bidirectional message channel to one peer.
type MessagePort interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

const pipeBuffer = 16

type pipeEnd struct {
	origin string
	in     <-chan Envelope
	out    chan<- Envelope
	done   chan struct{}
	peer   *pipeEnd
	once   sync.Once
}

// Pipe returns two connected in-memory ports. Messages sent on a arrive at b
// stamped with originA, and the reverse.
func Pipe(originA, originB string) (a, b MessagePort) {
	ab := make(chan Envelope, pipeBuffer)
	ba := make(chan Envelope, pipeBuffer)
	endA := &pipeEnd{origin: originA, in: ba, out: ab, done: make(chan struct{})}
	endB := &pipeEnd{origin: originB, in: ab, out: ba, done: make(chan struct{})}
	endA.peer, endB.peer = endB, endA
	return endA, endB
}

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	msg := Envelope{Origin: p.origin, Data: append([]byte(nil), data...)}
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Envelope, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-p.done:
		return Envelope{}, ErrClosed
	case <-p.peer.done:
		return Envelope{}, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
