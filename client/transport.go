// Package client implements the fingerprinted transport: one TLS+HTTP
// exchange per call, optionally through an upstream proxy, presenting the
// impersonated browser profile on the wire.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/firasghr/GoTLSProxy/errs"
	"github.com/firasghr/GoTLSProxy/fingerprint"
	"github.com/firasghr/GoTLSProxy/proxy"
)

// Request describes a single upstream exchange.  Redirects are never followed
// here; the resolver drives the transport one hop at a time.
type Request struct {
	Method string
	URL    *url.URL

	// Header is the fully composed outbound header set, including the
	// Cookie header the resolver attaches from the jar.
	Header *OrderedHeader

	// Body is the encoded request body, or nil.
	Body []byte

	// Proxy is the upstream proxy for this exchange, or nil for a direct
	// connection.  Already validated by the orchestrator.
	Proxy *url.URL
}

// Exchange is the outcome of one request/response round trip.
type Exchange struct {
	StatusCode int
	Header     http.Header

	// Body holds the raw decoded bytes after reversing the response's
	// transfer and content encodings.  Parsing is the orchestrator's job.
	Body []byte

	// SetCookies carries the unparsed Set-Cookie lines observed on the
	// response, so the jar can apply RFC 6265 parsing consistently.
	SetCookies []string
}

// Transport issues fingerprinted exchanges and caches connections.
//
// Design decisions:
//
//  1. One Transport per session.  The connection cache is keyed by
//     (origin, upstream proxy); because every session owns its own
//     Transport, connections are never shared across sessions, which rules
//     out cookie leakage at the transport layer.
//
//  2. ALPN decides the HTTP version per connection.  When the impersonated
//     ClientHello negotiates h2, the conn is promoted to an
//     http2.ClientConn configured with the profile's SETTINGS values;
//     otherwise the conn is driven as persistent HTTP/1.1 with
//     Request.Write / http.ReadResponse.
//
//  3. The per-session token in the session layer serialises calls, so the
//     cache never sees concurrent use of one connection; the mutex only
//     guards the map itself.
//
// Note on wire fidelity: golang.org/x/net/http2 does not expose the
// stream/connection window sizes or pseudo-header reordering, so
// Profile.H2.InitialWindowSize, Profile.H2.ConnWindowSize and
// Profile.PseudoHeaderOrder document the target values rather than being
// enforced byte-for-byte.  Header casing is preserved on both HTTP versions.
type Transport struct {
	profile *fingerprint.Profile
	h2      *http2.Transport

	mu     sync.Mutex
	conns  map[string]*persistConn
	closed bool
}

// NewTransport creates a Transport presenting the given profile.
func NewTransport(p *fingerprint.Profile) *Transport {
	return &Transport{
		profile: p,
		h2: &http2.Transport{
			MaxDecoderHeaderTableSize: p.H2.HeaderTableSize,
			MaxEncoderHeaderTableSize: p.H2.HeaderTableSize,
			MaxHeaderListSize:         p.H2.MaxHeaderListSize,
			// The composer already sets Accept-Encoding; the transport
			// must not inject its own and must not transparently
			// decompress, because decoding errors need to surface as a
			// distinct failure kind.
			DisableCompression: true,
		},
		conns: make(map[string]*persistConn),
	}
}

// persistConn is one cached connection: either an h2 client conn or a
// buffered http/1.1 stream.
type persistConn struct {
	conn net.Conn
	br   *bufio.Reader     // http/1.1 read side; nil when h2 is set
	h2   *http2.ClientConn // set when ALPN negotiated h2

	// absoluteForm marks a plaintext-target stream to an HTTP(S) proxy,
	// where requests are written in absolute-form instead of origin-form.
	absoluteForm bool
}

func (pc *persistConn) close() {
	if pc.h2 != nil {
		pc.h2.Close() //nolint:errcheck
	}
	pc.conn.Close() //nolint:errcheck
}

// alive reports whether the connection is worth attempting a request on.
// For http/1.1 this is optimistic: a connection silently closed by the peer
// surfaces as a write/read error and the caller does not retry, matching the
// no-automatic-retry policy.
func (pc *persistConn) alive() bool {
	if pc.h2 != nil {
		return pc.h2.CanTakeNewRequest()
	}
	return true
}

// Execute performs one exchange.  The context deadline bounds the whole hop:
// connection setup, TLS handshake, request write, and reading the full
// response body.
func (t *Transport) Execute(ctx context.Context, req *Request) (*Exchange, error) {
	key := connKey(req.URL, req.Proxy)
	pc, err := t.takeConn(ctx, req, key)
	if err != nil {
		return nil, classify(ctx, err, errs.KindUpstreamDial)
	}

	resp, err := t.roundTrip(ctx, pc, req)
	if err != nil {
		pc.close()
		return nil, classify(ctx, err, errs.KindUpstreamDial)
	}

	rawBody, err := io.ReadAll(resp.Body)
	resp.Body.Close() //nolint:errcheck
	if err != nil {
		pc.close()
		return nil, classify(ctx, err, errs.KindUpstreamDial)
	}

	if t.reusable(pc, resp) {
		t.putConn(key, pc)
	} else {
		pc.close()
	}

	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), rawBody)
	if err != nil {
		return nil, errs.Wrap(errs.KindDecode, "decompress response body", err)
	}

	return &Exchange{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       decoded,
		SetCookies: resp.Header.Values("Set-Cookie"),
	}, nil
}

// Close tears down every cached connection.  The Transport must not be used
// afterwards.
func (t *Transport) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*persistConn)
	t.closed = true
	t.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}
}

// takeConn pops a cached connection for key or dials a new one.  The cache
// holds at most one connection per key; it is removed from the map while in
// use.
func (t *Transport) takeConn(ctx context.Context, req *Request, key string) (*persistConn, error) {
	t.mu.Lock()
	pc := t.conns[key]
	delete(t.conns, key)
	t.mu.Unlock()

	if pc != nil {
		if pc.alive() {
			return pc, nil
		}
		pc.close()
	}
	return t.dial(ctx, req)
}

func (t *Transport) putConn(key string, pc *persistConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		pc.close()
		return
	}
	if prev, ok := t.conns[key]; ok {
		prev.close()
	}
	t.conns[key] = pc
}

func (t *Transport) reusable(pc *persistConn, resp *http.Response) bool {
	if pc.h2 != nil {
		return pc.h2.CanTakeNewRequest()
	}
	return !resp.Close
}

// dial establishes a new connection for req, through the upstream proxy when
// one is given, and performs the fingerprinted TLS handshake for https
// targets.
func (t *Transport) dial(ctx context.Context, req *Request) (*persistConn, error) {
	d := &proxy.Dialer{URL: req.Proxy}
	addr := targetAddr(req.URL)

	if req.URL.Scheme == "https" {
		// TLS targets always need a tunnel through HTTP(S) proxies.
		raw, err := d.DialContext(ctx, addr, true)
		if err != nil {
			return nil, err
		}
		uconn, err := handshakeTLS(ctx, raw, req.URL.Hostname(), t.profile)
		if err != nil {
			return nil, classify(ctx, err, errs.KindUpstreamTLS)
		}
		if uconn.ConnectionState().NegotiatedProtocol == "h2" {
			cc, err := t.h2.NewClientConn(uconn)
			if err != nil {
				uconn.Close() //nolint:errcheck
				return nil, errs.Wrap(errs.KindUpstreamTLS, fmt.Sprintf("establish h2 connection to %s", addr), err)
			}
			return &persistConn{conn: uconn, h2: cc}, nil
		}
		return &persistConn{conn: uconn, br: bufio.NewReader(uconn)}, nil
	}

	// Plaintext target.  Through an HTTP(S) proxy the request travels in
	// absolute-form on the proxy stream; SOCKS5 and direct connections give
	// a stream to the origin itself.
	absolute := req.Proxy != nil && req.Proxy.Scheme != "socks5"
	raw, err := d.DialContext(ctx, addr, false)
	if err != nil {
		return nil, err
	}
	return &persistConn{conn: raw, br: bufio.NewReader(raw), absoluteForm: absolute}, nil
}

// roundTrip writes the request on pc and reads the response headers.  The
// response body is left unread for the caller.
func (t *Transport) roundTrip(ctx context.Context, pc *persistConn, req *Request) (*http.Response, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		req.Header.ApplyToRequest(hreq)
	}

	if pc.h2 != nil {
		return pc.h2.RoundTrip(hreq)
	}

	// http/1.1: the context deadline is enforced through the conn deadline,
	// which also covers the body read that follows in Execute.
	if deadline, ok := ctx.Deadline(); ok {
		pc.conn.SetDeadline(deadline) //nolint:errcheck
	} else {
		pc.conn.SetDeadline(time.Time{}) //nolint:errcheck
	}

	if pc.absoluteForm {
		if req.Proxy != nil && req.Proxy.User != nil {
			hreq.Header.Set("Proxy-Authorization", proxy.BasicAuth(req.Proxy.User))
		}
		err = hreq.WriteProxy(pc.conn)
	} else {
		err = hreq.Write(pc.conn)
	}
	if err != nil {
		return nil, err
	}
	return http.ReadResponse(pc.br, hreq)
}

// connKey identifies a cached connection: scheme, host:port, and the upstream
// proxy it runs through.
func connKey(u *url.URL, proxyURL *url.URL) string {
	key := u.Scheme + "|" + targetAddr(u)
	if proxyURL != nil {
		key += "|" + proxyURL.String()
	}
	return key
}

// targetAddr returns host:port for u, applying the scheme default port.
func targetAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// classify maps transport-layer failures onto the error taxonomy.  Errors
// already classified by a lower layer pass through unchanged; deadline and
// cancellation failures become timeouts; everything else takes fallback.
func classify(ctx context.Context, err error, fallback errs.Kind) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return errs.Wrap(errs.KindTimeout, "hop deadline exceeded", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errs.Wrap(errs.KindTimeout, "hop deadline exceeded", err)
	}
	return errs.Wrap(fallback, "upstream exchange failed", err)
}
