// Package payload converts between the JSON wire representation of request
// and response bodies and the raw bytes the transport exchanges with
// upstreams.
//
// Callers submit bodies as arbitrary JSON: a structured value (object, array,
// number, …) or a plain string.  Upstreams return opaque bytes that may be
// JSON, text, or binary.  This package owns both classification decisions so
// the policy is applied identically everywhere – in particular on the final
// hop of a redirect chain, the only hop whose body survives.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"
)

// Content types the encoder attaches when the caller did not override
// Content-Type.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// EncodeRequest turns the caller-supplied body into outbound bytes and the
// Content-Type to send when the caller has not set one.
//
// A JSON string is sent verbatim (its unescaped value, not the quoted JSON
// token) as text/plain; any other JSON value is re-serialised compactly and
// sent as application/json.  A nil or empty body produces no bytes and no
// Content-Type.
func EncodeRequest(body json.RawMessage) (data []byte, contentType string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, "", nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, "", fmt.Errorf("payload: decode string body: %w", err)
		}
		return []byte(s), ContentTypeText, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, "", fmt.Errorf("payload: invalid JSON body: %w", err)
	}
	return buf.Bytes(), ContentTypeJSON, nil
}

// DecodeResponse interprets decoded upstream body bytes for the caller:
//
//   - Content-Type application/json (parameters ignored) parses the bytes
//     and embeds them as structured data; unparsable JSON falls through to
//     the text rules rather than failing the whole request.
//   - Valid UTF-8 is returned as a string.
//   - Anything else is returned as {"_binary": true, "data": <base64>}.
func DecodeResponse(contentType string, body []byte) interface{} {
	if len(body) == 0 {
		return ""
	}

	if isJSONContentType(contentType) {
		var v interface{}
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}

	if utf8.Valid(body) {
		return string(body)
	}

	return map[string]interface{}{
		"_binary": true,
		"data":    base64.StdEncoding.EncodeToString(body),
	}
}

// isJSONContentType reports whether the media type is application/json,
// tolerating parameters (charset, boundary) and falling back to a prefix
// check when the header does not parse.
func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.EqualFold(mediaType, ContentTypeJSON)
}
