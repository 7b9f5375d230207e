// Package redirect drives the transport through HTTP redirect chains.
//
// The resolver is a small state machine over frames (URL, method, body,
// header overrides, hop index).  It never delegates redirect handling to the
// HTTP layer: every hop is an explicit transport call so the engine can
// report provenance (the chain of URLs traversed), enforce the hop limit,
// detect loops, and apply the per-status method rewriting rules itself.
package redirect

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firasghr/GoTLSProxy/client"
	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
)

// Transport is the single-exchange contract the resolver drives.  Satisfied
// by *client.Transport; tests substitute a scripted fake.
type Transport interface {
	Execute(ctx context.Context, req *client.Request) (*client.Exchange, error)
}

// CookieJar is the cookie store consulted on every hop.
type CookieJar interface {
	Select(u *url.URL) []*http.Cookie
	Ingest(u *url.URL, setCookieLines []string)
}

// Result is the terminal state of a resolved chain.
type Result struct {
	// Exchange is the final non-redirect response.
	Exchange *client.Exchange

	// FinalURL is the URL that produced the final response.
	FinalURL *url.URL

	// Chain lists the URLs traversed before the final one; empty when no
	// redirect occurred.
	Chain []string

	// Hops is the number of redirects followed; always len(Chain).
	Hops int
}

// Request is the initial frame handed to the resolver.
type Request struct {
	Method string
	URL    *url.URL

	// Overrides are the caller's header overrides, merged over the profile
	// defaults each hop.  The resolver owns the map and mutates it across
	// hops (303 body-header drops, cross-origin credential drops); callers
	// must pass a private copy.
	Overrides map[string]string

	// Body is the encoded request body, dropped on a 303 hop.
	Body []byte

	// Proxy is the upstream proxy for every hop, or nil.
	Proxy *url.URL
}

// Resolver follows redirects per the modern-browser rules: 303 rewrites to
// GET and drops the body, 301/302/307/308 preserve method and body.
type Resolver struct {
	Transport Transport
	Jar       CookieJar
	Profile   *fingerprint.Profile

	// MaxHops is the redirect hop limit.
	MaxHops int

	// HopTimeout bounds each hop independently; a chain of N redirects may
	// take N times this duration.  Zero disables the per-hop deadline.
	HopTimeout time.Duration
}

// redirectStatus reports whether the status code transfers control to a
// Location target.
func redirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Do resolves req to its terminal response.
func (r *Resolver) Do(ctx context.Context, req *Request) (*Result, error) {
	currentURL := req.URL
	currentMethod := req.Method
	currentBody := req.Body
	overrides := req.Overrides

	var chain []string
	var chainNorm []string
	hops := 0

	for {
		headers := client.Compose(r.Profile, currentURL, overrides)
		attachCookies(headers, r.Jar.Select(currentURL))

		ex, err := r.execute(ctx, &client.Request{
			Method: currentMethod,
			URL:    currentURL,
			Header: headers,
			Body:   currentBody,
			Proxy:  req.Proxy,
		})
		if err != nil {
			return nil, err
		}

		// Cookies accrued before a failing or terminal hop stay in the
		// jar, matching browser behaviour.
		r.Jar.Ingest(currentURL, ex.SetCookies)

		if !redirectStatus(ex.StatusCode) {
			return &Result{Exchange: ex, FinalURL: currentURL, Chain: chain, Hops: hops}, nil
		}

		location := ex.Header.Get("Location")
		if location == "" {
			return nil, errs.Newf(errs.KindMalformedRedirect, "%d response from %s has no Location header", ex.StatusCode, currentURL)
		}
		next, err := currentURL.Parse(location)
		if err != nil {
			return nil, errs.Wrap(errs.KindMalformedRedirect, "unparsable Location "+location, err)
		}
		if next.Scheme != "http" && next.Scheme != "https" {
			return nil, errs.Newf(errs.KindMalformedRedirect, "redirect to unsupported scheme %q", next.Scheme)
		}

		norm := normalizeURL(next)
		for _, seen := range chainNorm {
			if seen == norm {
				return nil, errs.Newf(errs.KindRedirectLoop, "redirect loop: %s already visited", next)
			}
		}

		chain = append(chain, currentURL.String())
		chainNorm = append(chainNorm, normalizeURL(currentURL))
		hops++
		if hops > r.MaxHops {
			return nil, errs.Newf(errs.KindTooManyRedirects, "more than %d redirects", r.MaxHops)
		}

		if ex.StatusCode == http.StatusSeeOther {
			currentMethod = http.MethodGet
			currentBody = nil
			deleteHeader(overrides, "Content-Type")
			deleteHeader(overrides, "Content-Length")
			deleteHeader(overrides, "Transfer-Encoding")
		}

		if !sameOrigin(currentURL, next) {
			// Credentials never cross origins; the jar still applies and
			// may re-attach cookies scoped to the new origin.
			deleteHeader(overrides, "Authorization")
			deleteHeader(overrides, "Cookie")
		}

		currentURL = next
	}
}

// execute runs one hop under its own deadline.
func (r *Resolver) execute(ctx context.Context, req *client.Request) (*client.Exchange, error) {
	if r.HopTimeout > 0 {
		hopCtx, cancel := context.WithTimeout(ctx, r.HopTimeout)
		defer cancel()
		ctx = hopCtx
	}
	return r.Transport.Execute(ctx, req)
}

// attachCookies folds jar cookies into the Cookie header, after any
// caller-supplied value.
func attachCookies(h *client.OrderedHeader, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	pairs := make([]string, len(cookies))
	for i, c := range cookies {
		pairs[i] = c.Name + "=" + c.Value
	}
	value := strings.Join(pairs, "; ")
	if existing := h.Get("Cookie"); existing != "" {
		value = existing + "; " + value
	}
	h.Set("Cookie", value)
}

// deleteHeader removes name from overrides case-insensitively.
func deleteHeader(overrides map[string]string, name string) {
	for k := range overrides {
		if strings.EqualFold(k, name) {
			delete(overrides, k)
		}
	}
}

// normalizeURL is the loop-detection identity: case-normalized scheme and
// host, raw path and query.
func normalizeURL(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath() + "?" + u.RawQuery
}

// sameOrigin compares scheme and host:port case-insensitively.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
