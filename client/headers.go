package client

import (
	"net/url"

	"github.com/firasghr/GoTLSProxy/fingerprint"
)

// Compose produces the outbound header set for a request to u.
//
// Three layers are merged, later layers winning on case-insensitive name
// match:
//
//  1. The profile's default browser headers, in browser emission order.
//  2. Headers derived from the target URL: Origin (scheme://host[:port]) and
//     Referer (Origin + "/").  Host is set implicitly by the transport.
//  3. Caller overrides.  An override with an empty value suppresses the
//     header entirely rather than sending it blank.
//
// Overrides replace defaults in place, so a caller overriding e.g.
// User-Agent keeps the header at its browser-typical position in the order.
func Compose(p *fingerprint.Profile, u *url.URL, overrides map[string]string) *OrderedHeader {
	h := &OrderedHeader{}
	for _, d := range p.Headers {
		h.Add(d.Name, d.Value)
	}

	origin := u.Scheme + "://" + u.Host
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/")

	for name, value := range overrides {
		if value == "" {
			h.Del(name)
			continue
		}
		h.Set(name, value)
	}
	return h
}
