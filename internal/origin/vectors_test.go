package origin

import "testing"

// scenario exercises Parse+Policy.Allows together the way
// internal/hub.checkOrigin and internal/httpserver.withOriginPolicy do at
// the WebSocket upgrade and on CORS preflights, using origins a signalhub
// deployment would actually see: same-host dev servers, a configured
// browser front end, a reverse-proxied production hub, and a couple of
// deliberately hostile headers.
type scenario struct {
	name        string
	rawOrigin   string
	requestHost string
	allow       []string
	wantAllowed bool
}

var signalingScenarios = []scenario{
	{
		name:        "same-host dev client, default policy",
		rawOrigin:   "http://localhost:5173",
		requestHost: "localhost:5173",
		wantAllowed: true,
	},
	{
		name:        "same-host client behind a TLS-terminating proxy",
		rawOrigin:   "https://hub.example.com",
		requestHost: "hub.example.com", // proxy strips TLS before the hub sees Host
		wantAllowed: true,
	},
	{
		name:        "different browser tab pointed at another origin",
		rawOrigin:   "https://unrelated.example.net",
		requestHost: "hub.example.com",
		wantAllowed: false,
	},
	{
		name:        "configured front end origin, non-default port",
		rawOrigin:   "https://console.example.com:8443",
		requestHost: "hub.example.com",
		allow:       []string{"https://console.example.com:8443"},
		wantAllowed: true,
	},
	{
		name:        "origin absent from an explicit allow-list",
		rawOrigin:   "https://staging.example.com",
		requestHost: "hub.example.com",
		allow:       []string{"https://console.example.com"},
		wantAllowed: false,
	},
	{
		name:        "wildcard allow-list for a public relay",
		rawOrigin:   "https://anything.example.org",
		requestHost: "hub.example.com",
		allow:       []string{"*"},
		wantAllowed: true,
	},
	{
		name:        "sandboxed null origin without an explicit entry",
		rawOrigin:   "null",
		requestHost: "hub.example.com",
		wantAllowed: false,
	},
	{
		name:        "sandboxed null origin explicitly allow-listed",
		rawOrigin:   "null",
		requestHost: "hub.example.com",
		allow:       []string{"null"},
		wantAllowed: true,
	},
	{
		name:        "spoofed scheme other than http/https",
		rawOrigin:   "ws://hub.example.com",
		requestHost: "hub.example.com",
		wantAllowed: false,
	},
	{
		name:        "header carrying a path, rejected outright",
		rawOrigin:   "https://hub.example.com/ws",
		requestHost: "hub.example.com",
		wantAllowed: false,
	},
}

func TestOriginAllowScenarios(t *testing.T) {
	for _, sc := range signalingScenarios {
		t.Run(sc.name, func(t *testing.T) {
			o, ok := Parse(sc.rawOrigin)
			allowed := ok && (Policy{Allow: sc.allow}).Allows(o, sc.requestHost)
			if allowed != sc.wantAllowed {
				t.Fatalf("Allows(%q, %q, allow=%v) = %v, want %v", sc.rawOrigin, sc.requestHost, sc.allow, allowed, sc.wantAllowed)
			}
		})
	}
}
