package wire

import "encoding/json"

// SessionDescription is the inner payload of offer/answer envelopes. The
// hub never inspects sdp; it only routes the envelope verbatim.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the inner payload of candidate envelopes.
type Candidate struct {
	Candidate string `json:"candidate"`
	Mid       string `json:"mid"`
}

// RelayAuthResult is the inner payload of relay_auth_result envelopes.
type RelayAuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RelayDataRecord is the inner payload of relay_data envelopes.
//
// When IsBinary is true, Data is the base64 encoding (standard alphabet,
// '=' padding) of an arbitrary byte sequence. When false, Data is the
// literal text payload.
type RelayDataRecord struct {
	IsBinary bool   `json:"is_binary"`
	Data     string `json:"data"`
}

// MarshalPayload double-encodes v into the opaque payload string carried by
// an Envelope.
func MarshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalPayload decodes an envelope's payload string into v.
func UnmarshalPayload(payload string, v any) error {
	return json.Unmarshal([]byte(payload), v)
}

// MarshalPeerList encodes a list of identities as the JSON array carried in
// a peer_list envelope's payload.
func MarshalPeerList(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	return MarshalPayload(ids)
}

// UnmarshalPeerList decodes a peer_list payload into a slice of identities.
func UnmarshalPeerList(payload string) ([]string, error) {
	var ids []string
	if err := UnmarshalPayload(payload, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
