// Package origin implements the hub's Origin-header policy: parsing and
// normalizing the header a browser sends on the WebSocket upgrade and on
// CORS preflights, then deciding whether it may reach this hub.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Origin is a parsed, normalized browser Origin header. Two headers that
// name the same scheme and host (modulo case and an explicit default port)
// normalize to an equal Origin.
type Origin struct {
	// Scheme is "http" or "https". The zero value (empty string) marks the
	// sandboxed "null" origin browsers send from data: URLs, sandboxed
	// iframes, and some cross-scheme redirects.
	Scheme string
	// Host is hostname[:port], lowercased, with IPv6 literals bracketed
	// and the scheme's default port (80/443) omitted.
	Host string
}

// Null is the sandboxed "null" origin.
func (o Origin) Null() bool { return o.Scheme == "" }

// String renders the canonical wire form: scheme://host[:port], or "null".
func (o Origin) String() string {
	if o.Null() {
		return "null"
	}
	return o.Scheme + "://" + o.Host
}

// Parse validates and normalizes a raw Origin header value.
//
// A well-formed browser Origin never carries a userinfo, path (beyond an
// empty or bare "/"), query, or fragment component, and its scheme is
// always http or https (or the literal string "null"); anything else is
// treated as forged or malformed and rejected.
func Parse(raw string) (Origin, bool) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return Origin{}, false
	case trimmed == "null":
		return Origin{}, true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Origin{}, false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return Origin{}, false
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, false
	}

	host, ok := canonicalAuthority(u.Host, scheme)
	if !ok {
		return Origin{}, false
	}
	return Origin{Scheme: scheme, Host: host}, true
}

// Policy is the hub's Origin allow-list, matching config.Config.AllowedOrigins.
//
// A non-empty policy is an exhaustive list of permitted origins (or the
// literal "*" for any origin). An empty policy falls back to a same-host
// default: the Origin's host[:port] must equal the request's own Host
// header. Scheme is deliberately not part of that comparison — the hub
// commonly sits behind a TLS-terminating proxy, so the request it sees may
// be plain HTTP while the browser's Origin is https.
type Policy struct {
	Allow []string
}

// Allows reports whether o may open a connection or CORS request addressed
// to requestHost (a raw incoming Host header, not yet normalized).
func (p Policy) Allows(o Origin, requestHost string) bool {
	if len(p.Allow) > 0 {
		want := o.String()
		for _, entry := range p.Allow {
			if entry == "*" || entry == want {
				return true
			}
		}
		return false
	}

	if o.Null() {
		// The sandboxed origin can never equal a concrete request host
		// under the default policy; it only clears the bar via an
		// explicit allow-list entry above.
		return false
	}

	reqHost, ok := canonicalAuthority(requestHost, o.Scheme)
	if !ok {
		return false
	}
	return o.Host == reqHost
}

// canonicalAuthority normalizes a URL authority component (host[:port]):
// lowercases the hostname, preserves IPv6 brackets, and drops the port
// when it matches scheme's default so "https://x" and "https://x:443"
// compare equal.
func canonicalAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitAuthority(authority)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 || n > 65535 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitAuthority splits a URL authority into hostname and port, tolerating
// a bracketed IPv6 literal. The port is returned unvalidated and empty
// when absent; an unbracketed authority with more than one colon (an
// unbracketed IPv6 literal, which is not valid there) is rejected.
func splitAuthority(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if len(rest) < 2 || rest[0] != ':' {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		host, p, _ := strings.Cut(authority, ":")
		if host == "" || p == "" {
			return "", "", false
		}
		return host, p, true
	default:
		return "", "", false
	}
}
