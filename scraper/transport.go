package scraper

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport advertises brotli and gzip and decodes either on the way
// back, so the collector always sees plain bodies.
type decodingTransport struct {
	base http.RoundTripper
}

func newDecodingTransport(base http.RoundTripper) *decodingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decodingTransport{base: base}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		resp.Body = &decodedBody{Reader: brotli.NewReader(resp.Body), raw: resp.Body}
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		switch {
		case errors.Is(err, io.EOF):
			resp.Body = &decodedBody{Reader: strings.NewReader(""), raw: resp.Body}
		case err != nil:
			resp.Body.Close()
			return nil, fmt.Errorf("gzip body: %w", err)
		default:
			resp.Body = &decodedBody{Reader: gz, raw: resp.Body, decoder: gz}
		}
	default:
		return resp, nil
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type decodedBody struct {
	io.Reader
	raw     io.Closer
	decoder io.Closer
}

func (b *decodedBody) Close() error {
	if b.decoder != nil {
		b.decoder.Close()
	}
	return b.raw.Close()
}
