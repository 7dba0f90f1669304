// Package directory implements the peer directory: the live mapping from
// Identity to Connection, identity assignment, and the peer-list snapshot
// used to answer peer_list requests.
package directory

import (
	"fmt"
	"sort"

	"github.com/BigSmart114514/p2p/internal/connection"
)

// Directory is the registry mapping Identity to Connection.
//
// Directory is not safe for unsynchronized concurrent use on its own: the
// hub composes it with the relay graph under one mutual-exclusion region
// (see internal/hub), so callers must serialize access externally. This is
// the single coarse region the concurrency model requires.
type Directory struct {
	byIdentity map[string]*connection.Connection
	counter    uint64
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{byIdentity: make(map[string]*connection.Connection)}
}

// Register binds conn to an identity.
//
// If requestedID is empty or already taken, a fresh "peer_<N>" identity is
// synthesized, where N strictly increases for the process lifetime.
func (d *Directory) Register(conn *connection.Connection, requestedID string) string {
	id := requestedID
	if id == "" || d.taken(id) {
		id = d.nextSynthesizedID()
	}
	d.byIdentity[id] = conn
	return id
}

func (d *Directory) taken(id string) bool {
	_, ok := d.byIdentity[id]
	return ok
}

func (d *Directory) nextSynthesizedID() string {
	for {
		d.counter++
		candidate := fmt.Sprintf("peer_%d", d.counter)
		if !d.taken(candidate) {
			return candidate
		}
	}
}

// Lookup returns the connection bound to id, if any.
func (d *Directory) Lookup(id string) (*connection.Connection, bool) {
	conn, ok := d.byIdentity[id]
	return conn, ok
}

// Unregister removes id from the directory. It is a no-op if id is not
// present.
func (d *Directory) Unregister(id string) {
	delete(d.byIdentity, id)
}

// ListExcluding returns a stable snapshot of all currently-registered
// identities other than excluding.
func (d *Directory) ListExcluding(excluding string) []string {
	ids := make([]string, 0, len(d.byIdentity))
	for id := range d.byIdentity {
		if id == excluding {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of registered identities.
func (d *Directory) Len() int {
	return len(d.byIdentity)
}

// Identities returns every registered identity, in stable order. Used by
// the hub's admin REPL `list` command.
func (d *Directory) Identities() []string {
	return d.ListExcluding("")
}
