// Package hub is the signaling hub's composition root. It owns the single
// coarse mutual-exclusion region (spec.md §5) covering the peer directory,
// the relay graph, and every connection's relayAuthenticated bit, and
// dispatches each decoded envelope to exactly one of the leaf components:
// directory, broker, relayauth, relay.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/BigSmart114514/p2p/internal/broker"
	"github.com/BigSmart114514/p2p/internal/connection"
	"github.com/BigSmart114514/p2p/internal/directory"
	"github.com/BigSmart114514/p2p/internal/metrics"
	"github.com/BigSmart114514/p2p/internal/ratelimit"
	"github.com/BigSmart114514/p2p/internal/relay"
	"github.com/BigSmart114514/p2p/internal/relayauth"
	"github.com/BigSmart114514/p2p/internal/relaygraph"
	"github.com/BigSmart114514/p2p/internal/wire"
)

// Hub composes the directory, relay graph, and leaf components under one
// mutex. Every inbound envelope is handled by acquiring mu, deciding what
// to do and updating state, and releasing mu before any blocking I/O is
// awaited — Connection.Send is itself non-blocking (see
// internal/connection), so the lock is only ever held across the
// lookup-decide-dispatch sequence spec.md §5 describes, never across a
// socket write to a different connection.
type Hub struct {
	mu    sync.Mutex
	dir   *directory.Directory
	graph *relaygraph.Graph

	broker    *broker.Broker
	relayAuth *relayauth.Authenticator
	relay     *relay.Forwarder

	log     *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Hub. relaySecret is the configured shared relay password; an
// empty string disables relay authentication end-to-end.
func New(relaySecret string, log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		dir:       directory.New(),
		graph:     relaygraph.New(),
		broker:    broker.New(),
		relayAuth: relayauth.New(relaySecret),
		relay:     relay.New(),
		log:       log,
		metrics:   m,
	}
}

// Accept runs a connection's read/dispatch loop to completion. It returns
// once the connection's read side ends (the socket closed or a read
// failed); cleanup runs via the Connection's onClosed callback,
// which callers must have wired to HandleClosed.
func (h *Hub) Accept(conn *connection.Connection) {
	h.acceptLimited(conn, nil)
}

// acceptLimited is Accept with an optional per-connection inbound rate
// limiter. A frame that exceeds the limit closes the connection rather than
// being queued or silently dropped: spec.md §9's hardening intent is to cap
// the damage a flooding peer can do, not to buffer around it.
func (h *Hub) acceptLimited(conn *connection.Connection, limiter *ratelimit.Limiter) {
	h.metrics.Inc(metrics.ConnectionsAccepted)
	defer conn.Close()

	for {
		env, err := conn.Recv()
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				// The outer JSON didn't parse at all; unlike an unrecognized
				// Type (folded to TagError by wire.Decode), this never
				// reaches dispatch, so account for it here and keep reading.
				h.metrics.Inc(metrics.FramesMalformed)
				h.log.Debug("discarding malformed frame", "trace_id", conn.TraceID, "err", err)
				continue
			}
			return
		}
		if limiter != nil && !limiter.Allow(1) {
			h.log.Debug("closing connection: signaling message rate exceeded", "trace_id", conn.TraceID)
			return
		}
		h.dispatch(conn, env)
	}
}

// HandleClosed runs the directory-eviction cleanup path (spec.md §4.6) for
// the connection's bound identity, if any. It is wired as the Connection's
// onClosed callback, so it runs exactly once per connection.
func (h *Hub) HandleClosed(conn *connection.Connection) {
	h.metrics.Inc(metrics.ConnectionsClosed)

	id, ok := conn.Identity()
	if !ok {
		return
	}

	h.mu.Lock()
	h.relay.EvictIdentity(h.dir, h.graph, id)
	h.dir.Unregister(id)
	h.mu.Unlock()
}

func (h *Hub) dispatch(conn *connection.Connection, env wire.Envelope) {
	h.metrics.IncDispatched(string(env.Type))

	switch env.Type {
	case wire.TagError:
		// A TagError frame reaches here in three ways: wire.Decode folds an
		// unrecognized Type to it (empty Payload, nothing to report back)
		// or a structurally valid frame missing a field its Type requires
		// (Payload carries the diagnostic, echoed to the sender), or the
		// client itself sent an explicit error frame. A non-empty Payload
		// is echoed back as an error in every case; an empty one is only
		// logged. The connection always stays open.
		h.metrics.Inc(metrics.FramesMalformed)
		if env.Payload != "" {
			h.log.Debug("rejecting frame with missing required field", "trace_id", conn.TraceID, "diagnostic", env.Payload)
			_ = conn.Send(wire.NewError(env.Payload))
		} else {
			h.log.Debug("discarding unrecognized frame", "trace_id", conn.TraceID)
		}

	case wire.TagRegister:
		h.handleRegister(conn, env)

	case wire.TagConnect:
		// Reserved connect-request marker; the reference core does not act
		// on it beyond acknowledging receipt implicitly via offer/answer.

	case wire.TagPeerList:
		h.handlePeerList(conn)

	case wire.TagOffer, wire.TagAnswer, wire.TagCandidate:
		h.handleBrokered(conn, env)

	case wire.TagChat:
		// Reserved, unused by the hub (spec.md §6).

	case wire.TagRelayAuth:
		h.handleRelayAuth(conn, env)

	case wire.TagRelayConnect:
		h.handleRelayConnect(conn, env)

	case wire.TagRelayData:
		h.handleRelayData(conn, env)

	case wire.TagRelayDisconnect:
		h.handleRelayDisconnect(conn, env)

	default:
		h.metrics.Inc(metrics.FramesMalformed)
		h.log.Debug("discarding frame of unknown type", "trace_id", conn.TraceID, "type", env.Type)
	}
}

func (h *Hub) handleRegister(conn *connection.Connection, env wire.Envelope) {
	if _, already := conn.Identity(); already {
		// Idempotency: a connection that already has an identity ignores
		// subsequent Register frames (spec.md §4.3).
		return
	}

	h.mu.Lock()
	assigned := h.dir.Register(conn, env.Payload)
	h.mu.Unlock()

	if !conn.BindIdentity(assigned) {
		// Lost a race with another Register on the same connection; the
		// directory entry for `assigned` is now orphaned from this
		// connection's perspective, but since Register is only reachable
		// from this connection's single read loop, this path is
		// unreachable in practice and left only for that invariant.
		return
	}

	_ = conn.Send(wire.Envelope{Type: wire.TagRegister, Payload: assigned})
}

func (h *Hub) handlePeerList(conn *connection.Connection) {
	id, _ := conn.Identity()

	h.mu.Lock()
	ids := h.dir.ListExcluding(id)
	h.mu.Unlock()

	payload, err := wire.MarshalPeerList(ids)
	if err != nil {
		h.log.Error("failed to marshal peer list", "trace_id", conn.TraceID, "err", err)
		return
	}
	_ = conn.Send(wire.Envelope{Type: wire.TagPeerList, Payload: payload})
}

func (h *Hub) handleBrokered(conn *connection.Connection, env wire.Envelope) {
	id, ok := conn.Identity()
	if !ok {
		_ = conn.Send(wire.NewError("Not registered"))
		return
	}

	h.mu.Lock()
	h.broker.Route(h.dir, conn, id, env)
	h.mu.Unlock()
}

func (h *Hub) handleRelayAuth(conn *connection.Connection, env wire.Envelope) {
	success, message := h.relayAuth.Attempt(env.Payload)
	if success {
		conn.MarkRelayAuthenticated()
		h.metrics.Inc(metrics.RelayAuthSuccess)
	} else {
		h.metrics.Inc(metrics.RelayAuthFailure)
	}

	payload, err := wire.MarshalPayload(wire.RelayAuthResult{Success: success, Message: message})
	if err != nil {
		h.log.Error("failed to marshal relay auth result", "trace_id", conn.TraceID, "err", err)
		return
	}
	_ = conn.Send(wire.Envelope{Type: wire.TagRelayAuthResult, Payload: payload})
}

func (h *Hub) handleRelayConnect(conn *connection.Connection, env wire.Envelope) {
	id, ok := conn.Identity()
	if !ok {
		_ = conn.Send(wire.NewError("Not registered"))
		return
	}

	h.mu.Lock()
	before := h.graph.Len()
	h.relay.Connect(h.dir, h.graph, conn, id, env.To)
	created := h.graph.Len() > before
	h.mu.Unlock()

	if created {
		h.metrics.Inc(metrics.RelayPairsCreated)
	}
}

func (h *Hub) handleRelayData(conn *connection.Connection, env wire.Envelope) {
	id, ok := conn.Identity()
	if !ok {
		_ = conn.Send(wire.NewError("Not registered"))
		return
	}

	h.mu.Lock()
	_, targetPresent := h.dir.Lookup(env.To)
	forwarded := targetPresent && h.graph.Contains(id, env.To)
	h.relay.Data(h.dir, h.graph, conn, id, env.To, env.Payload)
	h.mu.Unlock()

	if forwarded {
		h.metrics.Inc(metrics.RelayDataForwarded)
	}
}

func (h *Hub) handleRelayDisconnect(conn *connection.Connection, env wire.Envelope) {
	id, ok := conn.Identity()
	if !ok {
		return
	}

	h.mu.Lock()
	before := h.graph.Len()
	h.relay.Disconnect(h.dir, h.graph, id, env.To)
	removed := h.graph.Len() < before
	h.mu.Unlock()

	if removed {
		h.metrics.Inc(metrics.RelayPairsRemoved)
	}
}

// Snapshot is used by the administrative REPL's `list` command.
type Snapshot struct {
	Identities []string
	AuthFlags  map[string]bool
}

// ListConnections returns every registered identity and its relay
// authentication flag as reported by authed. Every registered identity is
// included.
func (h *Hub) ListConnections(authed func(id string) bool) Snapshot {
	h.mu.Lock()
	ids := h.dir.Identities()
	h.mu.Unlock()

	flags := make(map[string]bool, len(ids))
	for _, id := range ids {
		flags[id] = authed(id)
	}
	return Snapshot{Identities: ids, AuthFlags: flags}
}

// ListRelayPairs is used by the administrative REPL's `relay` command.
func (h *Hub) ListRelayPairs() []relaygraph.Pair {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Pairs()
}

// connectionAuthLookup is the glue the REPL uses to ask whether a given
// identity's connection is relay-authenticated, without leaking Connection
// pointers out of the hub's lock.
func (h *Hub) connectionAuthLookup(id string) bool {
	h.mu.Lock()
	conn, ok := h.dir.Lookup(id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	return conn.RelayAuthenticated()
}

// List is a convenience wrapper combining ListConnections with the hub's
// own auth lookup, used by the REPL.
func (h *Hub) List() Snapshot {
	return h.ListConnections(h.connectionAuthLookup)
}
