// Package gateway terminates the client-facing duplex channel: it accepts a
// WebSocket connection per client session, mints a conversation id, forwards
// inbound audio onto the bus, and multiplexes every outbound bus topic
// relevant to that conversation back to the client as JSON or binary frames.
//
// The per-session concurrency model is grounded on the teacher's
// internal/hotctx.Assembler use of golang.org/x/sync/errgroup for
// coordinated concurrent fetches, generalized here from "fan out, wait for
// all" to "fan out, cancel all siblings the moment any one unit exits".
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/bus"
)

// Gateway accepts client WebSocket connections and runs one session per
// connection.
type Gateway struct {
	bus    *bus.Bus
	topics config.ResolvedTopics
	keys   config.ResolvedKeyPrefixes

	acceptOptions *websocket.AcceptOptions
	breaker       *resilience.CircuitBreaker
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithInsecureSkipVerify disables origin checking, for local development
// behind a reverse proxy that already enforces it.
func WithInsecureSkipVerify() Option {
	return func(g *Gateway) { g.acceptOptions.InsecureSkipVerify = true }
}

// WithSubprotocols sets the accepted WebSocket subprotocols.
func WithSubprotocols(protocols ...string) Option {
	return func(g *Gateway) { g.acceptOptions.Subprotocols = protocols }
}

// New creates a Gateway.
func New(b *bus.Bus, topics config.ResolvedTopics, keys config.ResolvedKeyPrefixes, opts ...Option) *Gateway {
	g := &Gateway{
		bus:           b,
		topics:        topics,
		keys:          keys,
		acceptOptions: &websocket.AcceptOptions{},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "gateway-bus-forwarder",
			MaxFailures: 3,
		}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeWS upgrades r to a WebSocket connection and runs the client session
// to completion. It returns once the session ends; any error is already
// logged, so callers can ignore the return value other than for tests.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, g.acceptOptions)
	if err != nil {
		slog.Warn("gateway: accept websocket connection failed", "err", err)
		return
	}

	sess := newSession(g, conn)
	sess.run(r.Context())
}

// Handler returns an http.Handler that serves WebSocket upgrades at the
// given pattern when registered on a mux, e.g. mux.Handle("/ws", g.Handler()).
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.ServeWS)
}
