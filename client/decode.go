package client

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody reverses the Content-Encoding transformations applied to a
// response body and returns the raw decoded bytes.
//
// contentEncoding is the literal header value; a comma-separated list is
// decoded right-to-left because encodings are listed in application order.
// Supported codings: gzip, deflate, br, zstd, identity.  An unknown coding
// is an error so the caller never hands compressed bytes to the parser
// thinking they are plaintext.
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	if contentEncoding == "" || len(body) == 0 {
		return body, nil
	}

	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		decoded, err := decodeSingle(coding, body)
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", coding, err)
		}
		body = decoded
	}
	return body, nil
}

func decodeSingle(coding string, body []byte) ([]byte, error) {
	switch coding {
	case "", "identity":
		return body, nil

	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	case "deflate":
		// RFC 9110 deflate is zlib-wrapped, but some servers send raw
		// DEFLATE streams.  Try zlib first and fall back.
		if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer r.Close()
			return io.ReadAll(r)
		}
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return io.ReadAll(r)

	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))

	case "zstd":
		r, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)

	default:
		return nil, fmt.Errorf("unsupported content coding %q", coding)
	}
}
