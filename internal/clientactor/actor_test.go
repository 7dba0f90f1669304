package clientactor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BigSmart114514/p2p/internal/wire"
)

func TestNormalizeTURNURL_AddsDefaultPorts(t *testing.T) {
	cases := map[string]string{
		"turn:turn.example.com":       "turn:turn.example.com:3478",
		"turns:turn.example.com":      "turns:turn.example.com:5349",
		"turn:turn.example.com:3478":  "turn:turn.example.com:3478",
		"turns:turn.example.com:5350": "turns:turn.example.com:5350",
	}
	for in, want := range cases {
		if got := normalizeTURNURL(in); got != want {
			t.Errorf("normalizeTURNURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTURNURL_WithQueryKeepsDefaultPortAndQuery(t *testing.T) {
	got := normalizeTURNURL("turn:turn.example.com?transport=tcp")
	want := "turn:turn.example.com:3478?transport=tcp"
	if got != want {
		t.Errorf("normalizeTURNURL with query = %q, want %q", got, want)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v", c.ConnectTimeout)
	}
	if c.PeerConnectTimeout != 30*time.Second {
		t.Errorf("PeerConnectTimeout = %v", c.PeerConnectTimeout)
	}
	if c.RelayAuthTimeout != c.ConnectTimeout {
		t.Errorf("RelayAuthTimeout = %v, want %v", c.RelayAuthTimeout, c.ConnectTimeout)
	}
	if c.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v", c.ReconnectInterval)
	}
}

func TestConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	c := Config{ConnectTimeout: 2 * time.Second, RelayAuthTimeout: 3 * time.Second}.withDefaults()
	if c.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout overridden: %v", c.ConnectTimeout)
	}
	if c.RelayAuthTimeout != 3*time.Second {
		t.Errorf("RelayAuthTimeout overridden: %v", c.RelayAuthTimeout)
	}
}

// fakeHub answers Register with an assigned identity and echoes peer_list
// requests with a canned snapshot, just enough for Connect/RequestPeerList
// to exercise the Actor's dial, register and dispatch paths without
// depending on the real hub package.
func fakeHub(t *testing.T, assignedID string, peers []string) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Decode(data)
			if err != nil {
				continue
			}
			switch env.Type {
			case wire.TagRegister:
				out, _ := wire.Encode(wire.Envelope{Type: wire.TagRegister, Payload: assignedID})
				_ = conn.WriteMessage(websocket.TextMessage, out)
			case wire.TagPeerList:
				payload, _ := wire.MarshalPeerList(peers)
				out, _ := wire.Encode(wire.Envelope{Type: wire.TagPeerList, Payload: payload})
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}
		}
	})
	return httptest.NewServer(mux)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestActor_ConnectAssignsIdentity(t *testing.T) {
	srv := fakeHub(t, "peer_42", nil)
	defer srv.Close()

	a := New(Config{SignalingURL: wsURL(srv)}, Callbacks{}, nil)
	defer a.Close()

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	id, ok := a.Identity()
	if !ok || id != "peer_42" {
		t.Fatalf("Identity() = (%q, %v), want (%q, true)", id, ok, "peer_42")
	}
	if a.State() != StateConnected {
		t.Fatalf("State() = %v, want %v", a.State(), StateConnected)
	}
}

func TestActor_RequestPeerList(t *testing.T) {
	srv := fakeHub(t, "peer_1", []string{"peer_2", "peer_3"})
	defer srv.Close()

	got := make(chan []string, 1)
	a := New(Config{SignalingURL: wsURL(srv)}, Callbacks{
		OnPeerList: func(ids []string) { got <- ids },
	}, nil)
	defer a.Close()

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := a.RequestPeerList(); err != nil {
		t.Fatalf("RequestPeerList: %v", err)
	}

	select {
	case ids := <-got:
		if len(ids) != 2 || ids[0] != "peer_2" || ids[1] != "peer_3" {
			t.Fatalf("got %v", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer_list")
	}
}

func TestActor_ConnectFailsOnBadURL(t *testing.T) {
	a := New(Config{SignalingURL: "ws://127.0.0.1:1/ws", ConnectTimeout: 200 * time.Millisecond}, Callbacks{}, nil)
	defer a.Close()

	err := a.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}
	if a.State() != StateFailed {
		t.Fatalf("State() = %v, want %v", a.State(), StateFailed)
	}
}

func TestActor_SendTextToUnknownPeer(t *testing.T) {
	a := New(Config{}, Callbacks{}, nil)
	defer a.Close()

	err := a.SendText("nobody", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if ce, ok := err.(*Error); !ok || ce.Kind != ErrPeerNotFound {
		t.Fatalf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestActor_ConnectToPeerViaRelay_RequiresAuthentication(t *testing.T) {
	a := New(Config{}, Callbacks{}, nil)
	defer a.Close()

	err := a.ConnectToPeerViaRelay("bob")
	if err == nil {
		t.Fatal("expected error")
	}
	if ce, ok := err.(*Error); !ok || ce.Kind != ErrRelayNotAuthenticated {
		t.Fatalf("err = %v, want ErrRelayNotAuthenticated", err)
	}
}
