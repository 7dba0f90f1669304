package hub

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BigSmart114514/p2p/internal/config"
	"github.com/BigSmart114514/p2p/internal/connection"
	"github.com/BigSmart114514/p2p/internal/origin"
	"github.com/BigSmart114514/p2p/internal/ratelimit"
)

// Server adapts a Hub to an http.Handler for the WebSocket signaling
// endpoint: it upgrades the connection, enforces the configured frame-size
// cap and per-connection inbound rate limit, and hands the resulting
// connection.Connection to the Hub's Accept/HandleClosed lifecycle.
type Server struct {
	hub      *Hub
	cfg      config.Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds a Server bound to hub.
func NewServer(h *Hub, cfg config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub: h,
		cfg: cfg,
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, cfg.AllowedOrigins)
			},
		},
	}
}

// checkOrigin implements the hub's same-host-unless-configured-otherwise
// Origin policy for the WebSocket handshake, per internal/origin. A
// missing Origin header is allowed (most non-browser clients don't send
// one); an Origin header that fails to parse is rejected.
func checkOrigin(r *http.Request, allowed []string) bool {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		return true
	}
	o, ok := origin.Parse(raw)
	if !ok {
		return false
	}
	return origin.Policy{Allow: allowed}.Allows(o, r.Host)
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// read/dispatch loop until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	conn := connection.New(ws, s.log, s.hub.HandleClosed)

	limiter := ratelimit.New(
		nil, // real clock
		int64(s.cfg.MaxSignalingMessagesPerSecond),
		int64(s.cfg.MaxSignalingMessagesPerSecond),
	)
	s.hub.acceptLimited(conn, limiter)
}
