package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gisauth/internal/identity"
	"gisauth/pkg/logging"
)

const (
	maxMessageSize = 64 << 10
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// wsPort adapts a WebSocket connection to MessagePort. Incoming messages are
// attributed to peerOrigin: the Origin header on the host side, the origin of
// the dialed URL on the embedded side.
type wsPort struct {
	conn       *websocket.Conn
	peerOrigin string

	writeMu  sync.Mutex
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
}

func newWSPort(conn *websocket.Conn, peerOrigin string) *wsPort {
	p := &wsPort{
		conn:       conn,
		peerOrigin: peerOrigin,
		incoming:   make(chan []byte),
		done:       make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	go p.readLoop()
	go p.pingLoop()
	return p
}

func (p *wsPort) readLoop() {
	defer p.Close()
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Bridge", "Read from %s ended: %v", p.peerOrigin, err)
			}
			return
		}
		select {
		case p.incoming <- data:
		case <-p.done:
			return
		}
	}
}

func (p *wsPort) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				logging.Debug("Bridge", "Ping to %s failed: %v", p.peerOrigin, err)
				_ = p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *wsPort) Send(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing bridge message: %w", err)
	}
	return nil
}

func (p *wsPort) Receive(ctx context.Context) (Envelope, error) {
	select {
	case data := <-p.incoming:
		return Envelope{Origin: p.peerOrigin, Data: data}, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-p.done:
		return Envelope{}, ErrClosed
	}
}

func (p *wsPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// Handler serves the host side of the bridge over WebSocket. Every connection
// gets its own Host for m, enabled for validOrigins, for as long as the
// connection lasts. Connections from other origins are accepted but never
// answered.
func Handler(m *identity.Manager, validOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1 << 10,
		WriteBufferSize: 1 << 10,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Debug("Bridge", "Upgrade failed: %v", err)
			return
		}
		port := newWSPort(conn, r.Header.Get("Origin"))
		host := NewHost(m, port)
		host.Enable(validOrigins)
		<-port.done
		host.Disable()
	})
}

// Dial connects to a bridge host at wsURL (ws:// or wss://), presenting
// origin as the embedded application's origin.
func Dial(ctx context.Context, wsURL, origin string) (MessagePort, error) {
	hostOrigin, err := HostOrigin(wsURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge host %s: %w", wsURL, err)
	}
	return newWSPort(conn, hostOrigin), nil
}

// HostOrigin returns the web origin serving a WebSocket URL, which is the
// origin FromParent expects replies from when talking to Dial's port.
func HostOrigin(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid bridge URL %q: %w", wsURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid bridge URL %q: unsupported scheme", wsURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
