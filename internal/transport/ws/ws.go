// Package ws carries alignment sessions over gorilla/websocket. Text frames
// hold JSON commands; binary frames are raw camera images.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/banshee-data/articulate/internal/monitoring"
	"github.com/banshee-data/articulate/internal/protocol"
	"github.com/banshee-data/articulate/internal/session"
)

const (
	// WriteWait bounds a single frame write.
	WriteWait = 10 * time.Second

	// PongWait is how long the peer may stay silent.
	PongWait = 60 * time.Second

	// PingPeriod must be shorter than PongWait.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize admits a base64 camera frame of a few megabytes.
	MaxMessageSize = 8 << 20
)

// Conn adapts a websocket connection to session.Conn. One goroutine may
// call Recv while another calls Send.
type Conn struct {
	ws     *websocket.Conn
	remote string

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an established websocket and starts its keepalive pings.
func NewConn(c *websocket.Conn) *Conn {
	conn := &Conn{ws: c, remote: c.RemoteAddr().String(), done: make(chan struct{})}
	c.SetReadLimit(MaxMessageSize)
	c.SetReadDeadline(time.Now().Add(PongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(PongWait))
	})
	go conn.keepalive()
	return conn
}

// RemoteAddr implements session.Conn.
func (c *Conn) RemoteAddr() string { return c.remote }

// Recv reads the next message. A clean close or ctx cancellation yields
// io.EOF or ctx.Err(); bad payloads wrap protocol.ErrMalformed or
// protocol.ErrUnknownType.
func (c *Conn) Recv(ctx context.Context) (protocol.Inbound, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Inbound{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.Inbound{}, io.EOF
		}
		return protocol.Inbound{}, fmt.Errorf("websocket read: %w", err)
	}
	if kind == websocket.BinaryMessage {
		return protocol.FrameFromBinary(data), nil
	}
	return protocol.Decode(data)
}

// Send writes msg as one text frame.
func (c *Conn) Send(ctx context.Context, msg protocol.Outbound) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and releases the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
				return
			}
		}
	}
}

// Handler upgrades requests and hands each connection to a session.Manager.
type Handler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler builds a handler. An empty allowedOrigins accepts same-host
// requests only; "*" accepts any origin.
func NewHandler(m *session.Manager, allowedOrigins []string) *Handler {
	return &Handler{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: monitoring.Component("ws"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	conn := NewConn(c)
	defer conn.Close()

	err = h.manager.Serve(r.Context(), conn)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrTooManySessions), errors.Is(err, session.ErrClosed):
		h.log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("session refused")
	default:
		h.log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("session ended")
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
