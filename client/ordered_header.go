package client

import (
	"net/http"
)

// headerEntry stores a single header key/value pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader is a companion to http.Header that preserves the exact
// capitalisation and insertion order of HTTP headers.
//
// Unlike http.Header (a map[string][]string, therefore unordered),
// OrderedHeader stores entries in a slice so iteration always returns them in
// the order they were added.  Servers that profile client fingerprints
// inspect both the capitalisation (e.g. "sec-ch-ua-platform" vs
// "Sec-Ch-Ua-Platform") and the relative ordering of headers, so the composer
// builds the outbound set in this container and only converts to the map form
// at the transport boundary.
//
// OrderedHeader is NOT safe for concurrent use without external
// synchronisation.  The engine builds one per hop inside the per-session
// critical section, so no additional locking is required.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value, preserving the exact casing of key.  Multiple calls
// with the same key produce multiple entries (equivalent to http.Header.Add).
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first entry whose key matches key (case-insensitively)
// with the new value and removes any subsequent duplicates, keeping the
// original position in the order.  If no entry matches, Set behaves like Add.
//
// The canonical casing of the surviving entry is updated to key, so callers
// can use Set to change capitalisation as well as value.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
			// Skip duplicates.
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Del removes all entries whose key matches key (case-insensitively).
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the value of the first entry whose key matches key
// (case-insensitively), or an empty string if no such entry exists.
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Has reports whether any entry matches key (case-insensitively).
func (h *OrderedHeader) Has(key string) bool {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return true
		}
	}
	return false
}

// Len returns the number of header entries (including duplicates).
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Keys returns the header names in insertion order, with original casing.
func (h *OrderedHeader) Keys() []string {
	keys := make([]string, len(h.entries))
	for i, e := range h.entries {
		keys[i] = e.key
	}
	return keys
}

// Clone returns a copy of the receiver that can be mutated independently.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ApplyToRequest writes every entry into req.Header, preserving the exact key
// casing.
//
// Because http.Header is keyed by CanonicalHeaderKey, the raw key is written
// directly into the underlying map so the original capitalisation reaches the
// wire.  Insertion order survives for HTTP/2 only to the extent the http2
// encoder permits; the casing always survives.
//
// Any headers already present in req.Header are discarded: the composer is
// the single authority on the outbound header set.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}
