package clientactor

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/BigSmart114514/p2p/internal/wire"
)

// ConnState is the actor's signaling connection state (spec.md §4.7).
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RelayAuthState is the orthogonal relay authentication state.
type RelayAuthState int

const (
	RelayNotAuthenticated RelayAuthState = iota
	RelayAuthenticating
	RelayAuthenticated
	RelayAuthFailed
)

func (s RelayAuthState) String() string {
	switch s {
	case RelayNotAuthenticated:
		return "not_authenticated"
	case RelayAuthenticating:
		return "authenticating"
	case RelayAuthenticated:
		return "authenticated"
	case RelayAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// TURNServer is a single configured TURN server credential set. URL follows
// the grammar turn[s]:<host>[:<port>], with port defaulting to 3478 (UDP)
// or 5349 (TLS) when absent.
type TURNServer struct {
	URL        string
	Username   string
	Credential string
}

// Config configures one Actor. Zero-value durations take the defaults
// spec.md §5 names.
type Config struct {
	SignalingURL string
	PeerID       string // requested identity; empty lets the hub assign one

	STUNServers []string
	TURNServers []TURNServer

	// ConnectTimeout bounds dialing and registering with the signaling hub.
	// Default 10s.
	ConnectTimeout time.Duration
	// PeerConnectTimeout bounds connectToPeer's wait for an open data
	// channel. Default 30s.
	PeerConnectTimeout time.Duration
	// RelayAuthTimeout bounds authenticateRelay's wait for a result.
	// Defaults to ConnectTimeout.
	RelayAuthTimeout time.Duration

	AutoReconnect     bool
	ReconnectInterval time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PeerConnectTimeout <= 0 {
		c.PeerConnectTimeout = 30 * time.Second
	}
	if c.RelayAuthTimeout <= 0 {
		c.RelayAuthTimeout = c.ConnectTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	return c
}

// Callbacks are the application-facing hooks the actor drives. Any nil
// field is simply not invoked.
type Callbacks struct {
	OnStateChange        func(ConnState)
	OnRelayStateChange   func(RelayAuthState)
	OnPeerList           func(identities []string)
	OnDataChannelOpen    func(peerID string)
	OnDataChannelMessage func(peerID string, data []byte, isBinary bool)
	OnDataChannelClosed  func(peerID string)
	OnRelayConnected     func(peerID string)
	OnRelayData          func(peerID string, data []byte, isBinary bool)
	OnRelayDisconnected  func(peerID string)
	OnError              func(*Error)
}

// Actor is the client protocol actor: it owns the signaling socket, the
// local identity, the set of direct peer sessions, and the set of relay
// peers, and drives every transition spec.md §4.7 describes.
type Actor struct {
	cfg Config
	cb  Callbacks
	log *slog.Logger
	api *webrtc.API

	mu         sync.Mutex
	state      ConnState
	relayState RelayAuthState
	identity   string
	ws         *websocket.Conn
	sessions   map[string]*peerSession
	relayPeers map[string]struct{}

	pendingRegister  chan struct{}
	pendingRelayAuth chan bool

	closeOnce sync.Once
	stopCh    chan struct{}
	writeMu   sync.Mutex
}

// New builds an Actor. It does not dial until Connect is called.
func New(cfg Config, cb Callbacks, log *slog.Logger) *Actor {
	if log == nil {
		log = slog.Default()
	}
	return &Actor{
		cfg:        cfg.withDefaults(),
		cb:         cb,
		log:        log,
		api:        newPeerAPI(),
		sessions:   make(map[string]*peerSession),
		relayPeers: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
	}
}

func (a *Actor) setState(s ConnState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	if a.cb.OnStateChange != nil {
		a.cb.OnStateChange(s)
	}
}

func (a *Actor) setRelayState(s RelayAuthState) {
	a.mu.Lock()
	a.relayState = s
	a.mu.Unlock()
	if a.cb.OnRelayStateChange != nil {
		a.cb.OnRelayStateChange(s)
	}
}

// State returns the current signaling connection state.
func (a *Actor) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RelayState returns the current relay authentication state.
func (a *Actor) RelayState() RelayAuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relayState
}

// Identity returns the identity assigned (or confirmed) by the hub, and
// whether Connect has completed registration yet.
func (a *Actor) Identity() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity, a.identity != ""
}

// Connect dials the signaling hub, sends Register, and waits for the
// echoed Register envelope (adopting its payload as the local identity),
// per spec.md §4.7. It starts the read loop and, if AutoReconnect is set,
// the reconnect supervisor.
func (a *Actor) Connect(ctx context.Context) error {
	a.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	if err := a.dialAndRegister(ctx); err != nil {
		a.setState(StateFailed)
		return err
	}

	a.setState(StateConnected)
	go a.readLoop()
	if a.cfg.AutoReconnect {
		go a.reconnectSupervisor()
	}
	return nil
}

func (a *Actor) dialAndRegister(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.SignalingURL, nil)
	if err != nil {
		return wrapError(ErrConnectionFailed, "dial "+a.cfg.SignalingURL, err)
	}

	a.mu.Lock()
	a.ws = ws
	a.pendingRegister = make(chan struct{})
	a.mu.Unlock()

	if err := a.send(wire.Envelope{Type: wire.TagRegister, Payload: a.cfg.PeerID}); err != nil {
		_ = ws.Close()
		return wrapError(ErrConnectionFailed, "sending register", err)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return wrapError(ErrConnectionFailed, "reading register response", err)
		}
		env, err := wire.Decode(data)
		if err != nil {
			continue
		}
		if env.Type == wire.TagRegister {
			a.mu.Lock()
			a.identity = env.Payload
			a.mu.Unlock()
			return nil
		}
	}
}

// Close tears down the signaling socket, every peer session, and stops the
// reconnect supervisor.
func (a *Actor) Close() error {
	a.closeOnce.Do(func() {
		close(a.stopCh)
		a.mu.Lock()
		ws := a.ws
		for _, s := range a.sessions {
			_ = s.close()
		}
		a.sessions = make(map[string]*peerSession)
		a.relayPeers = make(map[string]struct{})
		a.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
	})
	return nil
}

func (a *Actor) send(env wire.Envelope) error {
	a.mu.Lock()
	ws := a.ws
	a.mu.Unlock()
	if ws == nil {
		return newError(ErrConnectionFailed, "not connected")
	}
	data, err := wire.Encode(env)
	if err != nil {
		return wrapError(ErrInvalidData, "encoding envelope", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return wrapError(ErrConnectionFailed, "writing to signaling socket", err)
	}
	return nil
}

// RequestPeerList asks the hub for a fresh peer_list snapshot, delivered to
// the application via OnPeerList when it arrives.
func (a *Actor) RequestPeerList() error {
	return a.send(wire.Envelope{Type: wire.TagPeerList})
}

func (a *Actor) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, s := range a.cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{s}})
	}
	for _, t := range a.cfg.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{normalizeTURNURL(t.URL)},
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return servers
}

// normalizeTURNURL applies the default port spec.md §6 specifies:
// turn[s]:<host>[:<port>] defaults to 3478 (UDP) or 5349 (TLS).
func normalizeTURNURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return raw
	}
	host, query, hasQuery := strings.Cut(rest, "?")
	if strings.Contains(host, ":") {
		if _, _, err := splitHostPort(host); err == nil {
			return raw
		}
	}
	defaultPort := "3478"
	if scheme == "turns" {
		defaultPort = "5349"
	}
	out := scheme + ":" + host + ":" + defaultPort
	if hasQuery {
		out += "?" + query
	}
	return out
}

func splitHostPort(hostport string) (string, string, error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	port := hostport[i+1:]
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", err
	}
	return hostport[:i], port, nil
}

// connectToPeer initiates a direct session to id: allocate a session,
// obtain a local description, send it as an Offer, and stream candidates
// as they gather. It blocks until the resulting data channel opens, fails,
// or ctx is done / PeerConnectTimeout elapses.
func (a *Actor) connectToPeer(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PeerConnectTimeout)
	defer cancel()

	opened := make(chan struct{}, 1)
	failed := make(chan struct{}, 1)

	session, err := newPeerSession(a.api, a.iceServers(), id,
		func(candidate, mid string) { a.sendCandidate(id, candidate, mid) },
		func() { select { case opened <- struct{}{}: default: } },
		func(data []byte, isBinary bool) {
			if a.cb.OnDataChannelMessage != nil {
				a.cb.OnDataChannelMessage(id, data, isBinary)
			}
		},
		func() {
			select { case failed <- struct{}{}: default: }
			if a.cb.OnDataChannelClosed != nil {
				a.cb.OnDataChannelClosed(id)
			}
		},
	)
	if err != nil {
		return wrapError(ErrInternal, "allocating peer session", err)
	}

	a.mu.Lock()
	a.sessions[id] = session
	a.mu.Unlock()

	offerSDP, err := session.createOffer()
	if err != nil {
		return wrapError(ErrInternal, "creating offer", err)
	}
	payload, err := wire.MarshalPayload(wire.SessionDescription{Type: "offer", SDP: offerSDP})
	if err != nil {
		return wrapError(ErrInternal, "marshaling offer", err)
	}
	if err := a.send(wire.Envelope{Type: wire.TagOffer, To: id, Payload: payload}); err != nil {
		return err
	}

	select {
	case <-opened:
		if a.cb.OnDataChannelOpen != nil {
			a.cb.OnDataChannelOpen(id)
		}
		return nil
	case <-failed:
		return newError(ErrConnectionFailed, "peer session to "+id+" failed")
	case <-ctx.Done():
		return newError(ErrTimeout, "connecting to "+id+" timed out")
	}
}

// ConnectToPeer is the exported, context-bounded entry point for
// connectToPeer.
func (a *Actor) ConnectToPeer(ctx context.Context, id string) error {
	return a.connectToPeer(ctx, id)
}

func (a *Actor) sendCandidate(peerID, candidate, mid string) {
	payload, err := wire.MarshalPayload(wire.Candidate{Candidate: candidate, Mid: mid})
	if err != nil {
		a.reportError(wrapError(ErrInternal, "marshaling candidate", err))
		return
	}
	if err := a.send(wire.Envelope{Type: wire.TagCandidate, To: peerID, Payload: payload}); err != nil {
		a.reportError(err.(*Error))
	}
}

func (a *Actor) reportError(err *Error) {
	if a.cb.OnError != nil {
		a.cb.OnError(err)
	}
}

// SendText writes text on the direct data channel to id.
func (a *Actor) SendText(id, text string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return newError(ErrPeerNotFound, "no direct session to "+id)
	}
	return s.sendText(text)
}

// SendBinary writes binary data on the direct data channel to id.
func (a *Actor) SendBinary(id string, data []byte) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return newError(ErrPeerNotFound, "no direct session to "+id)
	}
	return s.sendBinary(data)
}

// AuthenticateRelay sends RelayAuth and waits for the hub's
// RelayAuthResult, transitioning the relay state accordingly.
func (a *Actor) AuthenticateRelay(ctx context.Context, password string) error {
	a.setRelayState(RelayAuthenticating)

	a.mu.Lock()
	a.pendingRelayAuth = make(chan bool, 1)
	a.mu.Unlock()

	if err := a.send(wire.Envelope{Type: wire.TagRelayAuth, Payload: password}); err != nil {
		a.setRelayState(RelayAuthFailed)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.RelayAuthTimeout)
	defer cancel()

	a.mu.Lock()
	ch := a.pendingRelayAuth
	a.mu.Unlock()

	select {
	case success := <-ch:
		if success {
			a.setRelayState(RelayAuthenticated)
			return nil
		}
		a.setRelayState(RelayAuthFailed)
		return newError(ErrRelayAuthFailed, "relay authentication rejected")
	case <-ctx.Done():
		a.setRelayState(RelayAuthFailed)
		return newError(ErrTimeout, "relay authentication timed out")
	}
}

// ConnectToPeerViaRelay requires RelayAuthenticated. It sends RelayConnect,
// adds id to the local relay-peers set, and fires OnRelayConnected locally
// without waiting for acknowledgement, per spec.md §4.7/§9.
func (a *Actor) ConnectToPeerViaRelay(id string) error {
	if a.RelayState() != RelayAuthenticated {
		return newError(ErrRelayNotAuthenticated, "not relay-authenticated")
	}
	if err := a.send(wire.Envelope{Type: wire.TagRelayConnect, To: id}); err != nil {
		return err
	}
	a.mu.Lock()
	a.relayPeers[id] = struct{}{}
	a.mu.Unlock()
	if a.cb.OnRelayConnected != nil {
		a.cb.OnRelayConnected(id)
	}
	return nil
}

// DisconnectPeerViaRelay sends RelayDisconnect and removes id from the
// local relay-peers set.
func (a *Actor) DisconnectPeerViaRelay(id string) error {
	a.mu.Lock()
	delete(a.relayPeers, id)
	a.mu.Unlock()
	return a.send(wire.Envelope{Type: wire.TagRelayDisconnect, To: id})
}

// SendTextViaRelay wraps text into a Relay Data Record and sends it as
// RelayData to id.
func (a *Actor) SendTextViaRelay(id, text string) error {
	return a.sendRelayData(id, wire.RelayDataRecord{IsBinary: false, Data: text})
}

// SendBinaryViaRelay base64-encodes data and sends it as RelayData to id.
func (a *Actor) SendBinaryViaRelay(id string, data []byte) error {
	return a.sendRelayData(id, wire.RelayDataRecord{IsBinary: true, Data: base64.StdEncoding.EncodeToString(data)})
}

func (a *Actor) sendRelayData(id string, rec wire.RelayDataRecord) error {
	payload, err := wire.MarshalPayload(rec)
	if err != nil {
		return wrapError(ErrInvalidData, "marshaling relay data", err)
	}
	return a.send(wire.Envelope{Type: wire.TagRelayData, To: id, Payload: payload})
}

// BroadcastTextViaRelay sends text to every peer in the local relay-peers
// set. It returns the first error encountered, if any, but attempts every
// peer regardless.
func (a *Actor) BroadcastTextViaRelay(text string) error {
	return a.broadcastRelay(func(id string) error { return a.SendTextViaRelay(id, text) })
}

// BroadcastBinaryViaRelay sends data to every peer in the local
// relay-peers set.
func (a *Actor) BroadcastBinaryViaRelay(data []byte) error {
	return a.broadcastRelay(func(id string) error { return a.SendBinaryViaRelay(id, data) })
}

func (a *Actor) broadcastRelay(send func(id string) error) error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.relayPeers))
	for id := range a.relayPeers {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := send(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readLoop dispatches inbound envelopes until the socket closes or Close
// is called. Socket loss clears the local directory view (peer sessions,
// relay-peers set) and transitions both state machines, per spec.md §4.7's
// failure semantics.
func (a *Actor) readLoop() {
	for {
		a.mu.Lock()
		ws := a.ws
		a.mu.Unlock()
		if ws == nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			a.handleSocketLoss()
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			continue
		}
		a.dispatch(env)
	}
}

func (a *Actor) handleSocketLoss() {
	a.mu.Lock()
	a.sessions = make(map[string]*peerSession)
	a.relayPeers = make(map[string]struct{})
	a.mu.Unlock()
	a.setState(StateFailed)
	a.setRelayState(RelayNotAuthenticated)
	a.reportError(newError(ErrConnectionFailed, "signaling socket lost"))
}

func (a *Actor) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TagPeerList:
		ids, err := wire.UnmarshalPeerList(env.Payload)
		if err != nil {
			a.reportError(wrapError(ErrInvalidData, "decoding peer_list", err))
			return
		}
		if a.cb.OnPeerList != nil {
			a.cb.OnPeerList(ids)
		}

	case wire.TagOffer:
		a.handleOffer(env)

	case wire.TagAnswer:
		a.handleAnswer(env)

	case wire.TagCandidate:
		a.handleCandidate(env)

	case wire.TagRelayAuthResult:
		var result wire.RelayAuthResult
		if err := wire.UnmarshalPayload(env.Payload, &result); err != nil {
			a.reportError(wrapError(ErrInvalidData, "decoding relay_auth_result", err))
			return
		}
		a.mu.Lock()
		ch := a.pendingRelayAuth
		a.mu.Unlock()
		if ch != nil {
			select {
			case ch <- result.Success:
			default:
			}
		}

	case wire.TagRelayConnect:
		a.mu.Lock()
		a.relayPeers[env.From] = struct{}{}
		a.mu.Unlock()
		if a.cb.OnRelayConnected != nil {
			a.cb.OnRelayConnected(env.From)
		}

	case wire.TagRelayData:
		var rec wire.RelayDataRecord
		if err := wire.UnmarshalPayload(env.Payload, &rec); err != nil {
			a.reportError(wrapError(ErrInvalidData, "decoding relay_data", err))
			return
		}
		data := []byte(rec.Data)
		if rec.IsBinary {
			decoded, err := base64.StdEncoding.DecodeString(rec.Data)
			if err != nil {
				a.reportError(wrapError(ErrInvalidData, "decoding relay_data base64", err))
				return
			}
			data = decoded
		}
		if a.cb.OnRelayData != nil {
			a.cb.OnRelayData(env.From, data, rec.IsBinary)
		}

	case wire.TagRelayDisconnect:
		a.mu.Lock()
		delete(a.relayPeers, env.From)
		a.mu.Unlock()
		if a.cb.OnRelayDisconnected != nil {
			a.cb.OnRelayDisconnected(env.From)
		}

	case wire.TagError:
		if env.Payload != "" {
			a.reportError(newError(ErrSignaling, env.Payload))
		}
	}
}

func (a *Actor) handleOffer(env wire.Envelope) {
	var sd wire.SessionDescription
	if err := wire.UnmarshalPayload(env.Payload, &sd); err != nil {
		a.reportError(wrapError(ErrInvalidData, "decoding offer", err))
		return
	}

	session, err := newPeerSession(a.api, a.iceServers(), env.From,
		func(candidate, mid string) { a.sendCandidate(env.From, candidate, mid) },
		func() {
			if a.cb.OnDataChannelOpen != nil {
				a.cb.OnDataChannelOpen(env.From)
			}
		},
		func(data []byte, isBinary bool) {
			if a.cb.OnDataChannelMessage != nil {
				a.cb.OnDataChannelMessage(env.From, data, isBinary)
			}
		},
		func() {
			if a.cb.OnDataChannelClosed != nil {
				a.cb.OnDataChannelClosed(env.From)
			}
		},
	)
	if err != nil {
		a.reportError(wrapError(ErrInternal, "allocating peer session", err))
		return
	}

	answerSDP, err := session.createAnswer(sd.SDP)
	if err != nil {
		a.reportError(wrapError(ErrInternal, "creating answer", err))
		return
	}

	a.mu.Lock()
	a.sessions[env.From] = session
	a.mu.Unlock()

	payload, err := wire.MarshalPayload(wire.SessionDescription{Type: "answer", SDP: answerSDP})
	if err != nil {
		a.reportError(wrapError(ErrInternal, "marshaling answer", err))
		return
	}
	if err := a.send(wire.Envelope{Type: wire.TagAnswer, To: env.From, Payload: payload}); err != nil {
		a.reportError(err.(*Error))
	}
}

func (a *Actor) handleAnswer(env wire.Envelope) {
	a.mu.Lock()
	session, ok := a.sessions[env.From]
	a.mu.Unlock()
	if !ok {
		a.reportError(newError(ErrPeerNotFound, "answer from unknown session "+env.From))
		return
	}
	var sd wire.SessionDescription
	if err := wire.UnmarshalPayload(env.Payload, &sd); err != nil {
		a.reportError(wrapError(ErrInvalidData, "decoding answer", err))
		return
	}
	if err := session.setAnswer(sd.SDP); err != nil {
		a.reportError(wrapError(ErrInternal, "applying answer", err))
	}
}

func (a *Actor) handleCandidate(env wire.Envelope) {
	a.mu.Lock()
	session, ok := a.sessions[env.From]
	a.mu.Unlock()
	if !ok {
		return
	}
	var c wire.Candidate
	if err := wire.UnmarshalPayload(env.Payload, &c); err != nil {
		a.reportError(wrapError(ErrInvalidData, "decoding candidate", err))
		return
	}
	if err := session.addICECandidate(c.Candidate, c.Mid); err != nil {
		a.reportError(wrapError(ErrInternal, "applying candidate", err))
	}
}

// reconnectSupervisor redials the signaling hub on a fixed interval after
// the connection fails, as spec.md's autoReconnect/reconnectIntervalMs
// client option requires.
func (a *Actor) reconnectSupervisor() {
	ticker := time.NewTicker(a.cfg.ReconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if a.State() != StateFailed {
				continue
			}
			a.setState(StateConnecting)
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ConnectTimeout)
			err := a.dialAndRegister(ctx)
			cancel()
			if err != nil {
				a.setState(StateFailed)
				a.reportError(err.(*Error))
				continue
			}
			a.setState(StateConnected)
			go a.readLoop()
		}
	}
}

