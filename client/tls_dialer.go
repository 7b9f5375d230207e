package client

import (
	"context"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"

	"github.com/firasghr/GoTLSProxy/fingerprint"
)

// handshakeTLS wraps an established raw stream (direct TCP, a CONNECT tunnel,
// or a SOCKS5 stream) in a uTLS client and performs the handshake with the
// impersonated ClientHello.
//
// The spec comes from the profile's parrot table: cipher-suite order, GREASE
// placeholders, supported groups, signature algorithms, and the ALPN list
// (h2 before http/1.1).  Profiles that shuffle their reorderable extensions
// do so per call, so repeated handshakes are not bit-identical – matching the
// real browser.
//
// The negotiated ALPN protocol is available from the returned conn's
// ConnectionState once the handshake completes.
func handshakeTLS(ctx context.Context, rawConn net.Conn, serverName string, profile *fingerprint.Profile) (*utls.UConn, error) {
	uCfg := &utls.Config{
		ServerName: serverName,
	}

	// HelloCustom defers the hello shape entirely to the applied preset,
	// which is regenerated (and reshuffled) from the profile for every
	// connection.
	uConn := utls.UClient(rawConn, uCfg, utls.HelloCustom)

	spec := profile.ClientHelloSpec()
	if err := uConn.ApplyPreset(&spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("apply %s ClientHello spec: %w", profile.Name, err)
	}

	if err := uConn.HandshakeContext(ctx); err != nil {
		uConn.Close()
		return nil, fmt.Errorf("TLS handshake with %s: %w", serverName, err)
	}
	return uConn, nil
}
