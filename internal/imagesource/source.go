// Package imagesource resolves finding image references into embeddable
// pixel data for the report.
//
// A reference may be an http(s) URL, a data URI, a file: URL or a relative
// path under a configured local root. The bytes may hold any common raster
// format (JPEG, PNG, GIF, WebP, BMP, TIFF) or a DICOM object, in which case
// the first frame of the pixel data is used. Every image is normalized to an
// opaque JPEG no larger than the configured dimension so that the report
// renderer only ever embeds one format.
//
// Resolved images are cached by reference, and concurrent requests for the
// same reference share a single fetch.
package imagesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registered decoders.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/angioreview/internal/observe"
)

const (
	defaultMaxDimension = 1024
	defaultJPEGQuality  = 85
	defaultCacheTTL     = 10 * time.Minute
	defaultTimeout      = 15 * time.Second
	defaultMaxBytes     = 32 << 20
	defaultMaxPixels    = 40_000_000
)

var (
	// ErrEmptyReference is returned for a blank image reference.
	ErrEmptyReference = errors.New("imagesource: empty image reference")

	// ErrUnsupportedScheme is returned for reference schemes the source
	// cannot load.
	ErrUnsupportedScheme = errors.New("imagesource: unsupported reference scheme")

	// ErrNoLocalRoot is returned for file references when no local root is
	// configured.
	ErrNoLocalRoot = errors.New("imagesource: local files are disabled")

	// ErrTooLarge is returned when the image exceeds the byte limit.
	ErrTooLarge = errors.New("imagesource: image too large")

	// ErrDecode is returned when the bytes are not a supported image.
	ErrDecode = errors.New("imagesource: cannot decode image")
)

// Image is a normalized, embeddable image.
type Image struct {
	// Data is JPEG-encoded.
	Data   []byte
	Width  int
	Height int
}

// Resolver resolves an image reference. The report compositor depends on
// this interface only.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Image, error)
}

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithHTTPClient sets the client used for http(s) references.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) {
		s.client = c
	}
}

// WithLocalRoot allows file references below dir.
func WithLocalRoot(dir string) Option {
	return func(s *Source) {
		s.localRoot = dir
	}
}

// WithMaxDimension caps the longer image side in pixels. Default: 1024.
func WithMaxDimension(px int) Option {
	return func(s *Source) {
		s.maxDim = px
	}
}

// WithJPEGQuality sets the output JPEG quality (1–100). Default: 85.
func WithJPEGQuality(q int) Option {
	return func(s *Source) {
		s.quality = q
	}
}

// WithCacheTTL sets how long resolved images are kept. Zero disables the
// cache. Default: 10m.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Source) {
		s.cacheTTL = d
	}
}

// WithTimeout bounds one resolution. Default: 15s.
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		s.timeout = d
	}
}

// WithMaxBytes limits the size of a loaded image. Default: 32 MiB.
func WithMaxBytes(n int64) Option {
	return func(s *Source) {
		s.maxBytes = n
	}
}

// WithMaxPixels rejects images whose decoded area exceeds n pixels. The
// header is checked before any pixel data is decoded. Zero disables the
// check. Default: 40 million.
func WithMaxPixels(n int64) Option {
	return func(s *Source) {
		s.maxPixels = n
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Source) {
		s.metrics = m
	}
}

// Source is the default [Resolver]. It is safe for concurrent use.
type Source struct {
	client    *http.Client
	localRoot string
	maxDim    int
	quality   int
	cacheTTL  time.Duration
	timeout   time.Duration
	maxBytes  int64
	maxPixels int64
	metrics   *observe.Metrics

	cache *cache.Cache
	group singleflight.Group
}

var _ Resolver = (*Source)(nil)

// New returns a Source configured by opts.
func New(opts ...Option) *Source {
	s := &Source{
		maxDim:    defaultMaxDimension,
		quality:   defaultJPEGQuality,
		cacheTTL:  defaultCacheTTL,
		timeout:   defaultTimeout,
		maxBytes:  defaultMaxBytes,
		maxPixels: defaultMaxPixels,
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.cacheTTL > 0 {
		s.cache = cache.New(s.cacheTTL, 2*s.cacheTTL)
	}
	return s
}

// Resolve loads, decodes and normalizes the image behind ref.
func (s *Source) Resolve(ctx context.Context, ref string) (Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Image{}, ErrEmptyReference
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(ref); ok {
			return cached.(Image), nil
		}
	}

	scheme := schemeOf(ref)
	ctx, span := observe.StartSpan(ctx, "imagesource.resolve",
		trace.WithAttributes(attribute.String("scheme", scheme)))
	start := time.Now()

	v, err, shared := s.group.Do(ref, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		img, err := s.resolve(rctx, ref)
		if err == nil && s.cache != nil {
			s.cache.Set(ref, img, cache.DefaultExpiration)
		}
		return img, err
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ImageResolveDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("scheme", scheme),
			attribute.String("status", status),
		))
	span.SetAttributes(attribute.Bool("shared", shared))
	observe.EndSpan(span, err)
	if err != nil {
		return Image{}, err
	}
	return v.(Image), nil
}

// Purge drops every cached image.
func (s *Source) Purge() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func (s *Source) resolve(ctx context.Context, ref string) (Image, error) {
	raw, err := s.load(ctx, ref)
	if err != nil {
		return Image{}, err
	}
	img, err := s.decode(raw)
	if err != nil {
		return Image{}, err
	}
	return s.normalize(img)
}

// load returns the raw bytes behind ref.
func (s *Source) load(ctx context.Context, ref string) ([]byte, error) {
	switch scheme := schemeOf(ref); scheme {
	case "http", "https":
		return s.fetch(ctx, ref)
	case "data":
		b, err := decodeDataURI(ref)
		if err == nil && int64(len(b)) > s.maxBytes {
			return nil, ErrTooLarge
		}
		return b, err
	case "file", "":
		return s.readLocal(ref)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

func (s *Source) fetch(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("imagesource: build request: %w", err)
	}
	req.Header.Set("Accept", "image/*, application/dicom")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagesource: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagesource: fetch: unexpected status %s", resp.Status)
	}
	return s.readLimited(resp.Body)
}

func (s *Source) readLocal(ref string) ([]byte, error) {
	if s.localRoot == "" {
		return nil, ErrNoLocalRoot
	}
	name := ref
	if u, err := url.Parse(ref); err == nil && u.Scheme == "file" {
		name = u.Path
	}
	name = strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+name)), "/")

	f, err := os.OpenInRoot(s.localRoot, name)
	if err != nil {
		return nil, fmt.Errorf("imagesource: open local image: %w", err)
	}
	defer f.Close()
	return s.readLimited(f)
}

func (s *Source) readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("imagesource: read: %w", err)
	}
	if int64(len(b)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

// decode turns raw bytes into an image, dispatching DICOM objects to the
// DICOM decoder. Images over the pixel cap fail with ErrTooLarge before their
// pixel data is touched.
func (s *Source) decode(b []byte) (image.Image, error) {
	w, h, err := dimensions(b)
	if err != nil {
		return nil, err
	}
	if s.maxPixels > 0 && int64(w)*int64(h) > s.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, w, h)
	}
	if isDICOM(b) {
		return decodeDICOM(b)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// dimensions reads the pixel size from the image header.
func dimensions(b []byte) (w, h int, err error) {
	if isDICOM(b) {
		return dicomDimensions(b)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return cfg.Width, cfg.Height, nil
}

// normalize flattens img onto white, downsizes it to the maximum dimension
// and encodes it as JPEG.
func (s *Source) normalize(img image.Image) (Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if s.maxDim > 0 && max(w, h) > s.maxDim {
		if w >= h {
			w, h = s.maxDim, max(1, h*s.maxDim/w)
		} else {
			w, h = max(1, w*s.maxDim/h), s.maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: s.quality}); err != nil {
		return Image{}, fmt.Errorf("imagesource: encode jpeg: %w", err)
	}
	return Image{Data: buf.Bytes(), Width: w, Height: h}, nil
}

func schemeOf(ref string) string {
	if strings.HasPrefix(ref, "data:") {
		return "data"
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
