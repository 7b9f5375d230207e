// Package fingerprint defines the browser impersonation profile used by the
// proxy transport.
//
// Remote fingerprinting systems correlate three signals: the TLS ClientHello
// (JA3/JA4), the HTTP/2 SETTINGS frame, and the request header set.  A
// mismatch between any of them – a Chrome-like hello combined with a Go
// User-Agent, say – is a reliable automation indicator.  Profile bundles all
// three so every connection the engine opens presents one coherent identity.
//
// The profile is a versioned, swappable parameter set: call sites receive a
// *Profile and never hardcode cipher lists, header values, or SETTINGS
// numbers.  Upgrading to a newer Chrome release means adding a new
// constructor here and changing one line in main.go.
package fingerprint

import (
	utls "github.com/refraction-networking/utls"
)

// Header is an ordered name/value pair.  Default headers are a slice, not a
// map, because the wire order of headers is itself part of the fingerprint.
type Header struct {
	Name  string
	Value string
}

// H2Settings captures the HTTP/2 SETTINGS values and the connection-level
// window increment a real browser announces after the client preface.
type H2Settings struct {
	// HeaderTableSize is sent as SETTINGS_HEADER_TABLE_SIZE.
	HeaderTableSize uint32

	// InitialWindowSize is sent as SETTINGS_INITIAL_WINDOW_SIZE
	// (stream-level flow-control window).
	InitialWindowSize int32

	// ConnWindowSize is the connection-level WINDOW_UPDATE increment sent
	// immediately after the preface.
	ConnWindowSize int32

	// MaxHeaderListSize is sent as SETTINGS_MAX_HEADER_LIST_SIZE.
	MaxHeaderListSize uint32
}

// Profile bundles the correlated fingerprint signals for one browser version.
type Profile struct {
	// Name identifies the profile in logs, e.g. "chrome_133".
	Name string

	// HelloID selects the uTLS parrot used for the TLS handshake.  The
	// associated ClientHelloSpec carries the cipher-suite order, GREASE
	// placeholders, supported groups, signature algorithms, the ALPN list
	// (h2 before http/1.1), and the per-connection extension shuffle that
	// recent Chrome releases perform.
	HelloID utls.ClientHelloID

	// UserAgent is the User-Agent header value matching HelloID.
	UserAgent string

	// Headers are the default request headers in browser emission order.
	// The composer layers derived headers (Origin, Referer) and caller
	// overrides on top of these.
	Headers []Header

	// H2 holds the HTTP/2 SETTINGS values for this browser version.
	H2 H2Settings

	// PseudoHeaderOrder lists the HTTP/2 pseudo-headers in browser emission
	// order.
	PseudoHeaderOrder []string
}

// chrome133UserAgent is the desktop macOS Chrome 133 User-Agent string.
const chrome133UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// Chrome133Profile returns the profile for Google Chrome 133 on macOS.
//
// The uTLS HelloChrome_133 parrot shuffles the reorderable extension subset
// (GREASE plus the extensions Chrome itself randomises) on every connection,
// so two handshakes from the same profile do not produce bit-identical
// ClientHellos – matching the real browser's behaviour.
//
// The HTTP/2 SETTINGS values are unchanged from Chrome 120 (verified against
// Wireshark traces: 65536 / 6291456 / 15663105 / 262144).
func Chrome133Profile() *Profile {
	return &Profile{
		Name:      "chrome_133",
		HelloID:   utls.HelloChrome_133,
		UserAgent: chrome133UserAgent,
		Headers: []Header{
			{Name: "Accept", Value: "application/json, text/plain, */*"},
			{Name: "Accept-Language", Value: "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7"},
			{Name: "Accept-Encoding", Value: "gzip, deflate, br, zstd"},
			{Name: "Cache-Control", Value: "no-cache"},
			{Name: "Pragma", Value: "no-cache"},
			{Name: "User-Agent", Value: chrome133UserAgent},
			{Name: "Sec-Ch-Ua", Value: `"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`},
			{Name: "Sec-Ch-Ua-Mobile", Value: "?0"},
			{Name: "Sec-Ch-Ua-Platform", Value: `"macOS"`},
			{Name: "Sec-Fetch-Dest", Value: "empty"},
			{Name: "Sec-Fetch-Mode", Value: "cors"},
			{Name: "Sec-Fetch-Site", Value: "same-site"},
		},
		H2: H2Settings{
			HeaderTableSize:   65536,
			InitialWindowSize: 6291456,
			ConnWindowSize:    15663105,
			MaxHeaderListSize: 262144,
		},
		PseudoHeaderOrder: []string{":method", ":authority", ":scheme", ":path"},
	}
}

// ClientHelloSpec returns the full uTLS spec for the profile's HelloID.
//
// utls.UTLSIdToSpec returns the parrot table entry – GREASE extensions, the
// exact cipher-suite list, and the shuffled extension ordering – so the spec
// never needs to be assembled by hand.  On an unrecognised ID the zero spec
// is returned and uTLS fills in its own defaults during the handshake.
func (p *Profile) ClientHelloSpec() utls.ClientHelloSpec {
	spec, err := utls.UTLSIdToSpec(p.HelloID)
	if err != nil {
		return utls.ClientHelloSpec{}
	}
	return spec
}
