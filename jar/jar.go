// Package jar implements a per-session RFC 6265 cookie store.
//
// The stdlib net/http/cookiejar is not used because the engine needs three
// things it does not offer: ingestion of raw Set-Cookie lines exactly as they
// appeared on the wire, a flat name→value snapshot with path-specificity
// collision rules for the session-cookies endpoint, and deterministic
// read-time pruning of expired entries.  The matching rules follow the stdlib
// jar's interpretation of RFC 6265, with the public-suffix list guarding the
// Domain attribute.
//
// Thread-safety: a single mutex guards the entry map.  The lock is held only
// around map reads and writes, never across I/O; the per-session token in the
// session layer already serialises request traffic, the jar mutex only
// protects the snapshot endpoint racing an in-flight request.
package jar

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// entry is one stored cookie.  (Domain, Path, Name) identifies it uniquely
// within the jar.
type entry struct {
	name     string
	value    string
	domain   string
	path     string
	secure   bool
	httpOnly bool
	sameSite http.SameSite

	// hostOnly is set when the Set-Cookie line carried no Domain attribute:
	// the cookie then matches the exact request host only.
	hostOnly bool

	// persistent is false for session cookies, which live until the jar is
	// discarded.
	persistent bool
	expires    time.Time

	// seq orders ingestion, breaking snapshot ties between equal-length
	// paths in favour of the most recent write.
	seq uint64
}

func (e *entry) key() string {
	return e.domain + ";" + e.path + ";" + e.name
}

func (e *entry) expired(now time.Time) bool {
	return e.persistent && !e.expires.After(now)
}

// Jar stores cookies for one session.
type Jar struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
}

// New creates an empty jar.
func New() *Jar {
	return &Jar{entries: make(map[string]*entry)}
}

// Ingest parses each raw Set-Cookie line in the context of the request URL
// and upserts the resulting cookies.  A cookie whose effective expiry is in
// the past deletes any matching entry instead of inserting.  Lines that fail
// RFC 6265 parsing or domain validation are dropped silently, as a browser
// would drop them.
func (j *Jar) Ingest(u *url.URL, setCookieLines []string) {
	now := time.Now()
	host := canonicalHost(u)

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, line := range setCookieLines {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}

		domain, hostOnly, ok := resolveDomain(c.Domain, host)
		if !ok {
			continue
		}

		e := &entry{
			name:     c.Name,
			value:    c.Value,
			domain:   domain,
			path:     resolvePath(c.Path, u),
			secure:   c.Secure,
			httpOnly: c.HttpOnly,
			sameSite: c.SameSite,
			hostOnly: hostOnly,
		}

		// Max-Age takes precedence over Expires.  MaxAge < 0 encodes a
		// literal "Max-Age=0", an immediate deletion.
		switch {
		case c.MaxAge > 0:
			e.persistent = true
			e.expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case c.MaxAge < 0:
			e.persistent = true
			e.expires = now.Add(-time.Second)
		case !c.Expires.IsZero():
			e.persistent = true
			e.expires = c.Expires
		}

		if e.expired(now) {
			delete(j.entries, e.key())
			continue
		}

		j.nextSeq++
		e.seq = j.nextSeq
		j.entries[e.key()] = e
	}
}

// Select returns the cookies to attach to a request for u, pruning expired
// entries as it goes.  Matching follows RFC 6265: domain-match (host-only
// exact or suffix match), path-match, and the secure flag honoured against
// the URL scheme.  Results are ordered longest-path first, then by earliest
// ingestion, which is the order browsers emit the Cookie header in.
func (j *Jar) Select(u *url.URL) []*http.Cookie {
	now := time.Now()
	host := canonicalHost(u)
	path := requestPath(u)
	https := u.Scheme == "https"

	j.mu.Lock()
	defer j.mu.Unlock()

	var selected []*entry
	for key, e := range j.entries {
		if e.expired(now) {
			delete(j.entries, key)
			continue
		}
		if e.secure && !https {
			continue
		}
		if !domainMatch(e, host) || !pathMatch(e.path, path) {
			continue
		}
		selected = append(selected, e)
	}

	sort.Slice(selected, func(i, k int) bool {
		if len(selected[i].path) != len(selected[k].path) {
			return len(selected[i].path) > len(selected[k].path)
		}
		return selected[i].seq < selected[k].seq
	})

	cookies := make([]*http.Cookie, len(selected))
	for i, e := range selected {
		cookies[i] = &http.Cookie{Name: e.name, Value: e.value}
	}
	return cookies
}

// Snapshot returns a flat name→value projection of the jar for the
// session-cookies endpoint.  On name collisions across (domain, path) the
// entry with the longest path wins, ties broken by most recent ingestion.
func (j *Jar) Snapshot() map[string]string {
	now := time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()

	winners := make(map[string]*entry)
	for key, e := range j.entries {
		if e.expired(now) {
			delete(j.entries, key)
			continue
		}
		w, ok := winners[e.name]
		if !ok || len(e.path) > len(w.path) || (len(e.path) == len(w.path) && e.seq > w.seq) {
			winners[e.name] = e
		}
	}

	out := make(map[string]string, len(winners))
	for name, e := range winners {
		out[name] = e.value
	}
	return out
}

// Len reports the number of stored entries, expired or not.  Used by tests
// and the session registry's debug logging.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// resolveDomain validates a Set-Cookie Domain attribute against the request
// host and returns the effective domain plus the host-only flag.
//
// Rules: an absent attribute yields a host-only cookie for the request host.
// A present attribute (leading dot stripped, lowercased) must domain-match
// the request host, must not be a bare public suffix such as "com" or
// "co.uk" (unless the host IS that suffix, the stdlib carve-out for
// intranet-style names), and can never be set from an IP host unless it
// matches exactly.
func resolveDomain(attr, host string) (domain string, hostOnly bool, ok bool) {
	if attr == "" {
		return host, true, true
	}

	domain = strings.ToLower(strings.TrimPrefix(attr, "."))
	if domain == "" || strings.HasSuffix(domain, ".") {
		return "", false, false
	}

	if net.ParseIP(host) != nil {
		// IP hosts accept only an exact Domain attribute.
		if domain == host {
			return host, true, true
		}
		return "", false, false
	}

	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain && domain != host {
		return "", false, false
	}

	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", false, false
	}
	return domain, false, true
}

// domainMatch implements RFC 6265 §5.1.3 for a stored entry.
func domainMatch(e *entry, host string) bool {
	if e.hostOnly {
		return host == e.domain
	}
	return host == e.domain || strings.HasSuffix(host, "."+e.domain)
}

// pathMatch implements RFC 6265 §5.1.4.
func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == reqPath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// resolvePath returns the cookie's effective path: the Path attribute when
// present and absolute, otherwise the default path derived from the request
// URL per RFC 6265 §5.1.4.
func resolvePath(attr string, u *url.URL) string {
	if attr != "" && strings.HasPrefix(attr, "/") {
		return attr
	}
	p := u.EscapedPath()
	if p == "" || !strings.HasPrefix(p, "/") {
		return "/"
	}
	idx := strings.LastIndex(p, "/")
	if idx == 0 {
		return "/"
	}
	return p[:idx]
}

// requestPath normalises the URL path for matching.
func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	return p
}

// canonicalHost lowercases the URL host and strips any port.
func canonicalHost(u *url.URL) string {
	return strings.ToLower(u.Hostname())
}
