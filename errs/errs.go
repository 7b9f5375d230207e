// Package errs defines the stable error taxonomy shared by the proxy engine
// and the HTTP surface.
//
// Every failure that crosses a package boundary is classified under a Kind so
// that the API layer can map it to an HTTP status and a short machine-readable
// code without string-matching error messages.  The kinds and their status
// mapping are fixed; new kinds may be appended but existing codes must never
// change, because callers key retry logic on them.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a short, stable error code exposed to API callers in the error
// envelope's "error" field.
type Kind string

const (
	// KindBadRequest covers invalid request descriptors: unknown method,
	// non-http(s) URL scheme, or an unsupported upstream proxy scheme.
	KindBadRequest Kind = "bad_request"

	// KindCapacityExhausted is returned when the session registry is full
	// even after an eviction sweep.
	KindCapacityExhausted Kind = "capacity_exhausted"

	// KindSessionNotFound is returned by delete/cookies operations on an
	// unknown session handle.
	KindSessionNotFound Kind = "session_not_found"

	// KindRedirectLoop indicates a redirect Location repeated a URL already
	// visited within the same call.
	KindRedirectLoop Kind = "redirect_loop"

	// KindTooManyRedirects indicates the hop limit was exceeded.
	KindTooManyRedirects Kind = "too_many_redirects"

	// KindMalformedRedirect indicates a redirect response with a missing or
	// unparsable Location header, or one resolving to a non-http(s) scheme.
	KindMalformedRedirect Kind = "malformed_redirect"

	// KindUpstreamDial indicates a TCP-level connection failure to the
	// target or the upstream proxy.
	KindUpstreamDial Kind = "upstream_dial"

	// KindUpstreamTLS indicates a TLS handshake failure with the target.
	KindUpstreamTLS Kind = "upstream_tls"

	// KindProxyProtocol indicates the upstream proxy rejected or broke the
	// tunnel protocol (CONNECT non-2xx, SOCKS5 handshake failure).
	KindProxyProtocol Kind = "proxy_protocol"

	// KindTimeout indicates the per-hop request deadline was reached.
	KindTimeout Kind = "timeout"

	// KindDecode indicates a response body could not be decompressed or
	// decoded.
	KindDecode Kind = "decode"

	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = "internal"
)

// Error carries a Kind alongside a human-readable detail and an optional
// wrapped cause.  It is the only error type the API layer inspects.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// New creates an Error with the given kind and detail message.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf creates an Error with a formatted detail message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and detail to an underlying cause.  The cause remains
// reachable through errors.Unwrap / errors.Is.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err.  Unclassified errors report
// KindInternal; a nil error reports the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the detail message of a classified error, or err.Error()
// for unclassified ones.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}

// HTTPStatus maps an error kind to the HTTP status the API surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindCapacityExhausted:
		return http.StatusBadRequest
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindRedirectLoop, KindTooManyRedirects, KindMalformedRedirect,
		KindUpstreamDial, KindUpstreamTLS, KindProxyProtocol, KindDecode:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
