package middleware

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/titan-gateway/titan/internal/domain"
	"github.com/titan-gateway/titan/internal/pipeline"
	pkgpool "github.com/titan-gateway/titan/pkg/pool"
)

// Codec writer state is reused across responses rather than allocated per
// request: spec §5 calls compression contexts a thread-local concern, and
// sync.Pool (pkgpool.LitePool's backing store) is the idiomatic Go analogue
// — per-P caches mean a goroutine almost always reuses a writer another
// goroutine on the same core just returned, without any cross-worker lock.
type gzipWriter struct{ w *gzip.Writer }

func (g *gzipWriter) Reset() { g.w.Reset(io.Discard) }

type brotliWriter struct{ w *brotli.Writer }

func (b *brotliWriter) Reset() { b.w.Reset(io.Discard) }

type zstdWriter struct{ w *zstd.Encoder }

func (z *zstdWriter) Reset() { _ = z.w.Reset(io.Discard) }

var (
	gzipPool = pkgpool.NewLitePool(func() *gzipWriter {
		return &gzipWriter{w: gzip.NewWriter(io.Discard)}
	})
	brotliPool = pkgpool.NewLitePool(func() *brotliWriter {
		return &brotliWriter{w: brotli.NewWriter(io.Discard)}
	})
	zstdPool = pkgpool.NewLitePool(func() *zstdWriter {
		enc, _ := zstd.NewWriter(io.Discard)
		return &zstdWriter{w: enc}
	})
)

// CompressionConfig is the per-route negotiation policy (spec §4.8).
type CompressionConfig struct {
	MinSize          int
	ExcludedTypes    []string
	BreachSensitive  map[string]bool // path -> sensitive
}

// Compression negotiates an encoding (gzip/zstd/brotli) from Accept-Encoding
// with q-values on the response phase, skipping when the body is below
// min-size, the content-type is excluded, Content-Encoding is already set,
// the path is BREACH-sensitive or Set-Cookie is present, or the client
// doesn't support any offered encoding (spec §4.8).
type Compression struct {
	pipeline.Base
	cfg CompressionConfig
}

func NewCompression(id string, cfg CompressionConfig) *Compression {
	return &Compression{Base: pipeline.NewBase(id, pipeline.TypeCompression), cfg: cfg}
}

func (c *Compression) ProcessResponse(ctx *pipeline.ResponseContext) pipeline.Outcome {
	resp := ctx.Response

	if len(resp.Body) < c.cfg.MinSize {
		return pipeline.Continue
	}
	if _, already := resp.Headers.Get("Content-Encoding"); already {
		return pipeline.Continue
	}
	if _, hasCookie := resp.Headers.Get("Set-Cookie"); hasCookie {
		return pipeline.Continue
	}
	if c.cfg.BreachSensitive[ctx.Request.Request.Path] {
		return pipeline.Continue
	}
	if ct, ok := resp.Headers.Get("Content-Type"); ok && c.isExcludedType(ct) {
		return pipeline.Continue
	}

	accept, _ := ctx.Request.Request.Headers.Get("Accept-Encoding")
	enc := negotiateEncoding(accept)
	if enc == "" {
		return pipeline.Continue
	}

	encoded, err := encode(enc, resp.Body)
	if err != nil {
		return pipeline.Continue
	}

	resp.Body = encoded
	resp.Headers.Set("Content-Encoding", enc)
	resp.Headers.Add("Vary", "Accept-Encoding")
	if etag, ok := resp.Headers.Get("ETag"); ok && !strings.HasPrefix(etag, "W/") {
		resp.Headers.Set("ETag", "W/"+etag)
	}
	return pipeline.Continue
}

func (c *Compression) isExcludedType(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	base = strings.TrimSpace(base)
	for _, excluded := range c.cfg.ExcludedTypes {
		if domain.EqualFold(base, excluded) {
			return true
		}
	}
	return false
}

type qEncoding struct {
	name string
	q    float64
}

var supportedEncodings = map[string]bool{"gzip": true, "zstd": true, "br": true}

// negotiateEncoding parses an Accept-Encoding header with q-values and
// returns the highest-priority encoding this gateway supports.
func negotiateEncoding(accept string) string {
	if accept == "" {
		return ""
	}
	var candidates []qEncoding
	for _, part := range strings.Split(accept, ",") {
		name, qStr, hasQ := strings.Cut(strings.TrimSpace(part), ";q=")
		name = strings.TrimSpace(name)
		if name == "" || !supportedEncodings[name] {
			continue
		}
		q := 1.0
		if hasQ {
			if parsed, err := strconv.ParseFloat(qStr, 64); err == nil {
				q = parsed
			}
		}
		if q <= 0 {
			continue
		}
		candidates = append(candidates, qEncoding{name: name, q: q})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].q > candidates[j].q })
	return candidates[0].name
}

func encode(enc string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch enc {
	case "gzip":
		gw := gzipPool.Get()
		defer gzipPool.Put(gw)
		gw.w.Reset(&buf)
		if _, err := gw.w.Write(body); err != nil {
			return nil, err
		}
		if err := gw.w.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		zw := zstdPool.Get()
		defer zstdPool.Put(zw)
		if err := zw.w.Reset(&buf); err != nil {
			return nil, err
		}
		if _, err := zw.w.Write(body); err != nil {
			return nil, err
		}
		if err := zw.w.Close(); err != nil {
			return nil, err
		}
	case "br":
		bw := brotliPool.Get()
		defer brotliPool.Put(bw)
		bw.w.Reset(&buf)
		if _, err := bw.w.Write(body); err != nil {
			return nil, err
		}
		if err := bw.w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
