package clientactor

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// peerSession wraps one pion PeerConnection and its single ordered,
// reliable data channel — the "peer transport" spec.md treats as an opaque
// collaborator. Candidates are streamed as they're gathered (trickle ICE),
// not batched behind a GatheringCompletePromise: spec.md §4.7 requires the
// actor to "stream its locally-gathered candidates as Candidate envelopes"
// as an offer/answer is built, not after.
type peerSession struct {
	peerID string
	pc     *webrtc.PeerConnection

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	opened bool

	onLocalCandidate func(candidate, mid string)
	onOpen           func()
	onMessage        func(data []byte, isBinary bool)
	onClose          func()
}

// newPeerAPI builds a pion API instance configured the way the teacher's
// webrtcpeer.NewAPI does: a bare SettingEngine, network tuning left to
// defaults for the client side (the hub never dials out, so there is no
// listen-IP/NAT1:1 configuration to thread through here).
func newPeerAPI() *webrtc.API {
	se := webrtc.SettingEngine{}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func newPeerSession(api *webrtc.API, iceServers []webrtc.ICEServer, peerID string, onLocalCandidate func(string, string), onOpen func(), onMessage func([]byte, bool), onClose func()) (*peerSession, error) {
	if api == nil {
		api = newPeerAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}

	s := &peerSession{
		peerID:           peerID,
		pc:               pc,
		onLocalCandidate: onLocalCandidate,
		onOpen:           onOpen,
		onMessage:        onMessage,
		onClose:          onClose,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// nil marks the end of gathering; the hub has no use for an
			// explicit end-of-candidates marker, so there's nothing to send.
			return
		}
		init := c.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		if s.onLocalCandidate != nil {
			s.onLocalCandidate(init.Candidate, mid)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.bindDataChannel(dc)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			if s.onClose != nil {
				s.onClose()
			}
		}
	})

	return s, nil
}

func (s *peerSession) bindDataChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.mu.Lock()
		s.opened = true
		s.mu.Unlock()
		if s.onOpen != nil {
			s.onOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if s.onMessage != nil {
			s.onMessage(msg.Data, !msg.IsString)
		}
	})
	dc.OnClose(func() {
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// createOffer creates the single data channel, an SDP offer, and sets it as
// the local description. Candidates begin streaming via onLocalCandidate
// once SetLocalDescription returns.
func (s *peerSession) createOffer() (string, error) {
	dc, err := s.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return "", fmt.Errorf("creating data channel: %w", err)
	}
	s.bindDataChannel(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return s.pc.LocalDescription().SDP, nil
}

// createAnswer sets remoteSDP as the remote offer and returns a local
// answer SDP. The remote side's data channel arrives via OnDataChannel,
// already wired by newPeerSession.
func (s *peerSession) createAnswer(remoteSDP string) (string, error) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteSDP}); err != nil {
		return "", fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return s.pc.LocalDescription().SDP, nil
}

// setAnswer feeds a remote answer to the session this actor originated an
// offer for.
func (s *peerSession) setAnswer(remoteSDP string) error {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteSDP}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (s *peerSession) addICECandidate(candidate, mid string) error {
	init := webrtc.ICECandidateInit{Candidate: candidate}
	if mid != "" {
		init.SDPMid = &mid
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ice candidate: %w", err)
	}
	return nil
}

func (s *peerSession) sendText(text string) error {
	s.mu.Lock()
	dc, opened := s.dc, s.opened
	s.mu.Unlock()
	if dc == nil || !opened {
		return newError(ErrChannelNotOpen, "data channel to "+s.peerID+" is not open")
	}
	if err := dc.SendText(text); err != nil {
		return wrapError(ErrChannelNotOpen, "write to "+s.peerID+" failed", err)
	}
	return nil
}

func (s *peerSession) sendBinary(data []byte) error {
	s.mu.Lock()
	dc, opened := s.dc, s.opened
	s.mu.Unlock()
	if dc == nil || !opened {
		return newError(ErrChannelNotOpen, "data channel to "+s.peerID+" is not open")
	}
	if err := dc.Send(data); err != nil {
		return wrapError(ErrChannelNotOpen, "write to "+s.peerID+" failed", err)
	}
	return nil
}

func (s *peerSession) close() error {
	return s.pc.Close()
}

const dataChannelLabel = "data"
