// Package broker implements the session broker: stateless routing of
// offer/answer/candidate envelopes between named peers.
package broker

import (
	"fmt"

	"github.com/BigSmart114514/p2p/internal/connection"
	"github.com/BigSmart114514/p2p/internal/directory"
	"github.com/BigSmart114514/p2p/internal/wire"
)

// Broker routes offer/answer/candidate envelopes by looking up their `to`
// identity in the directory. It holds no state of its own beyond the
// directory lookup its caller supplies.
type Broker struct{}

// New creates a Broker.
func New() *Broker {
	return &Broker{}
}

// Route forwards env to the identity named by env.To, stamping env.From
// with senderID (overwriting whatever the sender supplied) before
// delivery.
//
// If the target is not registered, Route sends an Error envelope back to
// senderConn instead and does not otherwise fail: the broker recovers
// addressing errors locally, per the hub's error-handling design.
func (b *Broker) Route(dir *directory.Directory, senderConn *connection.Connection, senderID string, env wire.Envelope) {
	env.From = senderID

	target, ok := dir.Lookup(env.To)
	if !ok {
		_ = senderConn.Send(wire.NewError(fmt.Sprintf("Peer not found: %s", env.To)))
		return
	}
	_ = target.Send(env)
}
