package clientactor

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

// TestPeerSession_TrickleICEOverVirtualNetwork negotiates a real data channel
// between two peerSessions over an in-memory network, exercising the same
// offer/answer/candidate flow the hub relays between two actors, but without
// a real NIC or STUN server.
func TestPeerSession_TrickleICEOverVirtualNetwork(t *testing.T) {
	const cidr = "10.1.0.0/24"
	const ipA = "10.1.0.1"
	const ipB = "10.1.0.2"

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	apiA, err := vnetAPI(netA)
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err := vnetAPI(netB)
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}

	bOpened := make(chan struct{})
	bMessages := make(chan string, 1)
	var sessB *peerSession

	sessA, err := newPeerSession(apiA, nil, "peer_b",
		func(candidate, mid string) {
			// Deliver trickled candidates directly to B, mirroring what
			// sendCandidate does through the signaling socket in Actor.
			if sessB != nil {
				_ = sessB.addICECandidate(candidate, mid)
			}
		},
		nil, nil, nil,
	)
	if err != nil {
		t.Fatalf("new session A: %v", err)
	}
	t.Cleanup(func() { _ = sessA.close() })

	sessB, err = newPeerSession(apiB, nil, "peer_a",
		func(candidate, mid string) { _ = sessA.addICECandidate(candidate, mid) },
		func() { close(bOpened) },
		func(data []byte, isBinary bool) {
			if !isBinary {
				bMessages <- string(data)
			}
		},
		nil,
	)
	if err != nil {
		t.Fatalf("new session B: %v", err)
	}
	t.Cleanup(func() { _ = sessB.close() })

	offerSDP, err := sessA.createOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	answerSDP, err := sessB.createAnswer(offerSDP)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := sessA.setAnswer(answerSDP); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	select {
	case <-bOpened:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for remote data channel to open")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := sessA.sendText("hello over vnet"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for local data channel to open")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-bMessages:
		if got != "hello over vnet" {
			t.Fatalf("got %q, want %q", got, "hello over vnet")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
}

func vnetAPI(n *vnet.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}
