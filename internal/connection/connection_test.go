package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BigSmart114514/p2p/internal/wire"
)

func newTestPair(t *testing.T) (*Connection, *websocket.Conn, func()) {
	t.Helper()

	var serverConn *Connection
	done := make(chan struct{})

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConn = New(ws, nil, func(*Connection) { close(done) })
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// Give the server goroutine a moment to finish the upgrade and construct
	// the Connection before the test uses it.
	deadline := time.Now().Add(time.Second)
	for serverConn == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if serverConn == nil {
		t.Fatal("server connection never established")
	}

	cleanup := func() {
		_ = clientConn.Close()
		srv.Close()
	}
	return serverConn, clientConn, cleanup
}

func TestConnection_SendDeliversEnvelope(t *testing.T) {
	serverConn, clientConn, cleanup := newTestPair(t)
	defer cleanup()

	if err := serverConn.Send(wire.Envelope{Type: wire.TagRegister, Payload: "peer_1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, data, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != wire.TagRegister || env.Payload != "peer_1" {
		t.Fatalf("got %+v", env)
	}
}

func TestConnection_BindIdentityOnce(t *testing.T) {
	serverConn, _, cleanup := newTestPair(t)
	defer cleanup()

	if !serverConn.BindIdentity("peer_1") {
		t.Fatal("first BindIdentity should succeed")
	}
	if serverConn.BindIdentity("peer_2") {
		t.Fatal("second BindIdentity should be rejected")
	}
	id, ok := serverConn.Identity()
	if !ok || id != "peer_1" {
		t.Fatalf("Identity() = %q, %v", id, ok)
	}
}

func TestConnection_RelayAuthenticatedNeverResets(t *testing.T) {
	serverConn, _, cleanup := newTestPair(t)
	defer cleanup()

	if serverConn.RelayAuthenticated() {
		t.Fatal("expected false before marking")
	}
	serverConn.MarkRelayAuthenticated()
	if !serverConn.RelayAuthenticated() {
		t.Fatal("expected true after marking")
	}
	serverConn.MarkRelayAuthenticated()
	if !serverConn.RelayAuthenticated() {
		t.Fatal("expected true to stick")
	}
}

func TestConnection_CloseRunsOnClosedOnce(t *testing.T) {
	serverConn, _, cleanup := newTestPair(t)
	defer cleanup()

	serverConn.Close()
	serverConn.Close()

	if err := serverConn.Send(wire.Envelope{Type: wire.TagError}); err == nil {
		t.Fatal("expected Send to fail after Close")
	}
}
