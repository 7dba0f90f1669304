// Package relayauth implements the relay authenticator: comparison of a
// connection-presented secret against the hub's configured relay password.
package relayauth

import "crypto/subtle"

// notConfiguredMessage is returned when the hub has no relay secret loaded.
const notConfiguredMessage = "Relay is not configured on this server"

const successMessage = "Authentication successful"
const failureMessage = "Invalid relay password"

// Authenticator holds the single shared secret loaded at hub startup. An
// empty secret means relay is disabled end-to-end: every attempt fails.
type Authenticator struct {
	secret string
}

// New builds an Authenticator for the given secret. An empty secret disables
// relay authentication entirely.
func New(secret string) *Authenticator {
	return &Authenticator{secret: secret}
}

// Configured reports whether a non-empty secret was loaded.
func (a *Authenticator) Configured() bool {
	return a.secret != ""
}

// Attempt checks presented against the configured secret using a
// constant-time comparison (the secret is never logged or echoed). It
// returns whether authentication succeeded and the message to report to
// the connection.
func (a *Authenticator) Attempt(presented string) (success bool, message string) {
	if !a.Configured() {
		return false, notConfiguredMessage
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.secret)) == 1 {
		return true, successMessage
	}
	return false, failureMessage
}
