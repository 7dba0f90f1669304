// Package relay implements the relay forwarder: the operations that create,
// use, and tear down entries in the relay graph, and forward relay_data
// frames between the two ends of an authorized pair.
package relay

import (
	"fmt"

	"github.com/BigSmart114514/p2p/internal/connection"
	"github.com/BigSmart114514/p2p/internal/directory"
	"github.com/BigSmart114514/p2p/internal/relaygraph"
	"github.com/BigSmart114514/p2p/internal/wire"
)

// Forwarder glues the relay graph to the directory to implement
// RelayConnect/RelayData/RelayDisconnect and directory-eviction cleanup.
//
// Forwarder holds no state of its own; like Broker, every call receives the
// directory and graph it should operate against, both already protected by
// the hub's single mutual-exclusion region.
type Forwarder struct{}

// New creates a Forwarder.
func New() *Forwarder {
	return &Forwarder{}
}

// Connect implements RelayConnect.
//
// The originator must be relay-authenticated; the receiving side is not
// required to be (see SPEC_FULL.md / DESIGN.md for the chosen resolution
// of the reference's open question on this point).
func (f *Forwarder) Connect(dir *directory.Directory, graph *relaygraph.Graph, senderConn *connection.Connection, senderID, toID string) {
	if !senderConn.RelayAuthenticated() {
		_ = senderConn.Send(wire.NewError("Not authenticated for relay"))
		return
	}

	toConn, ok := dir.Lookup(toID)
	if !ok {
		_ = senderConn.Send(wire.NewError(fmt.Sprintf("Peer not found: %s", toID)))
		return
	}

	graph.Insert(senderID, toID)
	_ = toConn.Send(wire.Envelope{Type: wire.TagRelayConnect, From: senderID, To: toID})
}

// Data implements RelayData.
func (f *Forwarder) Data(dir *directory.Directory, graph *relaygraph.Graph, senderConn *connection.Connection, senderID, toID string, payload string) {
	if !graph.Contains(senderID, toID) {
		_ = senderConn.Send(wire.NewError(fmt.Sprintf("No relay connection with %s", toID)))
		return
	}

	toConn, ok := dir.Lookup(toID)
	if !ok {
		_ = senderConn.Send(wire.NewError(fmt.Sprintf("Peer not found: %s", toID)))
		return
	}

	_ = toConn.Send(wire.Envelope{Type: wire.TagRelayData, From: senderID, To: toID, Payload: payload})
}

// Disconnect implements RelayDisconnect.
func (f *Forwarder) Disconnect(dir *directory.Directory, graph *relaygraph.Graph, senderID, toID string) {
	graph.Remove(senderID, toID)

	toConn, ok := dir.Lookup(toID)
	if !ok {
		return
	}
	_ = toConn.Send(wire.Envelope{Type: wire.TagRelayDisconnect, From: senderID, To: toID})
}

// EvictIdentity implements the directory-eviction cleanup triggered when the
// connection bound to id closes: every pair containing id is removed, and
// each surviving partner still in the directory receives exactly one
// relay_disconnect with from=id.
func (f *Forwarder) EvictIdentity(dir *directory.Directory, graph *relaygraph.Graph, id string) {
	for _, partner := range graph.RemoveAll(id) {
		if partnerConn, ok := dir.Lookup(partner); ok {
			_ = partnerConn.Send(wire.Envelope{Type: wire.TagRelayDisconnect, From: id, To: partner})
		}
	}
}
