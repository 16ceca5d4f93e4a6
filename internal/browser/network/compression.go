// browser/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on requests that do not set their own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipPool   = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() any { return brotli.NewReader(nil) }}

	emptyReader = strings.NewReader("")
)

func acquireGzip(r io.Reader) (*gzip.Reader, error) {
	zr := gzipPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func releaseGzip(zr *gzip.Reader) {
	// Reset(nil) reads a header; an empty reader just returns io.EOF.
	_ = zr.Reset(emptyReader)
	gzipPool.Put(zr)
}

func acquireBrotli(r io.Reader) (*brotli.Reader, error) {
	br := brotliPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliPool.Put(br)
		return nil, err
	}
	return br, nil
}

func releaseBrotli(br *brotli.Reader) {
	_ = br.Reset(emptyReader)
	brotliPool.Put(br)
}

// CompressionMiddleware negotiates compressed responses and hands callers a
// decoded body. Fonts, stylesheets and images fetched for embedding are often
// served brotli-encoded by CDNs, which net/http does not decode on its own.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, or http.DefaultTransport when nil.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// RoundTrippers must not mutate the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode response from %s: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

// decodedBody closes the decoder, returns pooled readers and closes the
// underlying body exactly once.
type decodedBody struct {
	io.ReadCloser
	underlying io.ReadCloser
	release    func()
}

func (b *decodedBody) Close() error {
	if b.underlying == nil {
		return nil
	}
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
	}
	err = errors.Join(err, b.underlying.Close())
	b.underlying, b.release = nil, nil
	return err
}

// DecompressResponse replaces resp.Body with a decoding reader for every
// Content-Encoding layer, undoing them in reverse order of application. On
// success the encoding and length headers are dropped and resp.Uncompressed
// is set. On error the body may be partially consumed and must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	var layers []string
	for _, v := range resp.Header.Values("Content-Encoding") {
		for _, part := range strings.Split(v, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(part)))
		}
	}
	if len(layers) == 0 {
		return nil
	}

	for i := len(layers) - 1; i >= 0; i-- {
		var (
			decoder io.ReadCloser
			release func()
		)
		switch layers[i] {
		case "gzip", "x-gzip":
			zr, err := acquireGzip(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			decoder, release = zr, func() { releaseGzip(zr) }
		case "br":
			br, err := acquireBrotli(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli: %w", err)
			}
			decoder, release = io.NopCloser(br), func() { releaseBrotli(br) }
		case "deflate":
			decoder = openDeflate(resp.Body)
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported content encoding %q", layers[i])
		}
		resp.Body = &decodedBody{ReadCloser: decoder, underlying: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// rewindReader records what it reads so the stream can be replayed once.
type rewindReader struct {
	r      io.Reader
	buf    bytes.Buffer
	source io.Reader
}

func newRewindReader(src io.Reader) *rewindReader {
	rr := &rewindReader{source: src}
	rr.r = io.TeeReader(src, &rr.buf)
	return rr
}

func (rr *rewindReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

func (rr *rewindReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// commit stops recording; bytes already read stay with the consumer.
func (rr *rewindReader) commit() {
	rr.r = rr.source
	rr.buf = bytes.Buffer{}
}

// openDeflate accepts both zlib-wrapped (RFC 1950) and raw (RFC 1951)
// deflate, since servers disagree on what "deflate" means.
func openDeflate(r io.Reader) io.ReadCloser {
	rr := newRewindReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		rr.commit()
		return zr
	}
	rr.rewind()
	return flate.NewReader(rr)
}
