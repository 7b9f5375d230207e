// Package proxy handles upstream proxy dispatch for the transport layer.
//
// Three proxy schemes are supported, matching what callers may supply per
// request:
//
//   - http://   – plain HTTP proxy: CONNECT tunnel for TLS targets,
//     absolute-form requests for plaintext targets.
//   - https://  – TLS is negotiated with the proxy itself first, then the
//     same CONNECT / absolute-form split applies inside that stream.
//   - socks5:// – SOCKS5 handshake with optional username/password
//     authentication; the returned conn is always a stream to the target.
//
// The TLS handshake with the proxy deliberately uses crypto/tls rather than
// the impersonation stack: the browser fingerprint matters to the target
// origin, not to an operator-chosen relay.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/firasghr/GoTLSProxy/errs"
)

// Validate parses a caller-supplied proxy URL and checks that its scheme is
// one the transport can dispatch through.  An empty string returns a nil URL,
// meaning a direct connection.
func Validate(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindBadRequest, fmt.Sprintf("invalid proxy URL %q", raw), err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, errs.Newf(errs.KindBadRequest, "unsupported proxy scheme %q (want http, https or socks5)", u.Scheme)
	}
	if u.Host == "" {
		return nil, errs.Newf(errs.KindBadRequest, "proxy URL %q has no host", raw)
	}
	return u, nil
}

// Dialer opens TCP streams to target addresses, optionally through an
// upstream proxy.  A zero-value Dialer (nil URL) dials directly.
//
// Dialer is stateless and safe for concurrent use; connection caching is the
// transport's concern.
type Dialer struct {
	// URL is the upstream proxy, or nil for direct connections.
	URL *url.URL
}

// DialContext returns a stream to addr.
//
// tunnel selects the HTTP-proxy behaviour for http/https proxies: true
// establishes a CONNECT tunnel (required before a TLS handshake with the
// target), false returns the raw proxy stream so the caller can speak
// absolute-form HTTP/1.1 on it.  SOCKS5 ignores tunnel because the handshake
// always yields a stream to the target.
func (d *Dialer) DialContext(ctx context.Context, addr string, tunnel bool) (net.Conn, error) {
	if d.URL == nil {
		var nd net.Dialer
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstreamDial, fmt.Sprintf("dial %s", addr), err)
		}
		return conn, nil
	}

	switch d.URL.Scheme {
	case "socks5":
		return d.dialSOCKS5(ctx, addr)
	case "http", "https":
		return d.dialHTTP(ctx, addr, tunnel)
	default:
		return nil, errs.Newf(errs.KindBadRequest, "unsupported proxy scheme %q", d.URL.Scheme)
	}
}

// dialSOCKS5 performs the SOCKS5 handshake, forwarding userinfo from the
// proxy URL as username/password authentication when present.
func (d *Dialer) dialSOCKS5(ctx context.Context, addr string) (net.Conn, error) {
	var auth *xproxy.Auth
	if user := d.URL.User; user != nil {
		pass, _ := user.Password()
		auth = &xproxy.Auth{User: user.Username(), Password: pass}
	}

	sd, err := xproxy.SOCKS5("tcp", hostPort(d.URL, "1080"), auth, xproxy.Direct)
	if err != nil {
		return nil, errs.Wrap(errs.KindProxyProtocol, "configure SOCKS5 proxy", err)
	}
	// The dialer returned by xproxy.SOCKS5 always implements ContextDialer.
	cd := sd.(xproxy.ContextDialer)
	conn, err := cd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.KindProxyProtocol, fmt.Sprintf("SOCKS5 dial %s via %s", addr, d.URL.Host), err)
	}
	return conn, nil
}

// dialHTTP connects to an http:// or https:// proxy and, when tunnel is set,
// issues a CONNECT request for addr.
func (d *Dialer) dialHTTP(ctx context.Context, addr string, tunnel bool) (net.Conn, error) {
	defaultPort := "80"
	if d.URL.Scheme == "https" {
		defaultPort = "443"
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", hostPort(d.URL, defaultPort))
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstreamDial, fmt.Sprintf("dial proxy %s", d.URL.Host), err)
	}

	if d.URL.Scheme == "https" {
		host, _, splitErr := net.SplitHostPort(hostPort(d.URL, defaultPort))
		if splitErr != nil {
			host = d.URL.Hostname()
		}
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, errs.Wrap(errs.KindProxyProtocol, fmt.Sprintf("TLS handshake with proxy %s", d.URL.Host), err)
		}
		conn = tlsConn
	}

	if !tunnel {
		return conn, nil
	}

	if err := d.connect(ctx, conn, addr); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// connect issues an HTTP CONNECT for addr on conn and consumes the proxy's
// response.  Any bytes the bufio reader buffered beyond the response headers
// are replayed ahead of subsequent reads.
func (d *Dialer) connect(ctx context.Context, conn net.Conn, addr string) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck
		defer conn.SetDeadline(time.Time{}) //nolint:errcheck
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if user := d.URL.User; user != nil {
		req.Header.Set("Proxy-Authorization", BasicAuth(user))
	}

	if err := req.Write(conn); err != nil {
		return errs.Wrap(errs.KindProxyProtocol, fmt.Sprintf("write CONNECT %s", addr), err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return errs.Wrap(errs.KindProxyProtocol, fmt.Sprintf("read CONNECT response from %s", d.URL.Host), err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Newf(errs.KindProxyProtocol, "proxy %s refused CONNECT %s: %s", d.URL.Host, addr, resp.Status)
	}

	// A conforming proxy sends nothing after the CONNECT response, but if
	// bytes were buffered they belong to the tunnelled stream.
	if br.Buffered() > 0 {
		return errs.Newf(errs.KindProxyProtocol, "proxy %s sent %d unexpected bytes after CONNECT", d.URL.Host, br.Buffered())
	}
	return nil
}

// BasicAuth encodes proxy URL userinfo as a Proxy-Authorization value.
func BasicAuth(user *url.Userinfo) string {
	pass, _ := user.Password()
	cred := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + pass))
	return "Basic " + cred
}

// hostPort returns u.Host with the default port appended when missing.
func hostPort(u *url.URL, defaultPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}
