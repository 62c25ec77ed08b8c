// Package voice implements the dictation capture pipeline of a correction
// session.
//
// A [Capture] wraps one streaming speech-to-text session. While it runs, a
// consumer goroutine discards interim partials and accumulates final segments
// in recognition order. [Capture.Stop] closes the stream, waits until every
// final has been delivered, joins the segments with single spaces, and hands
// the result to a [transcript.Refiner]. A backend failure mid-session aborts
// the capture: accumulated segments are discarded and no refinement is made.
//
// At most one capture per correction session is allowed; the review state
// machine enforces that. The pipeline never queues or merges captures.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/transcript"
	"github.com/MrWong99/angioreview/pkg/provider/stt"
)

var (
	// ErrCaptureUnavailable is returned by Start when no speech-to-text
	// backend is configured or the backend refuses to open a stream.
	ErrCaptureUnavailable = errors.New("voice: speech capture unavailable")

	// ErrAborted is returned by Stop and SendAudio after the capture was
	// aborted by a backend failure or an explicit Abort.
	ErrAborted = errors.New("voice: capture aborted")

	// ErrStopped is returned by Stop and SendAudio after a successful Stop.
	ErrStopped = errors.New("voice: capture already stopped")
)

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithStreamConfig sets the audio format and vocabulary hints passed to the
// speech-to-text backend.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline starts dictation captures. It holds no per-capture state and is
// safe for concurrent use.
type Pipeline struct {
	stt     stt.Provider
	refiner transcript.Refiner
	cfg     stt.StreamConfig
	metrics *observe.Metrics
}

// New returns a Pipeline. provider may be nil, in which case every Start
// fails with [ErrCaptureUnavailable]. refiner may be nil, in which case the
// joined transcript is used verbatim.
func New(provider stt.Provider, refiner transcript.Refiner, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:     provider,
		refiner: refiner,
		cfg:     stt.StreamConfig{SampleRate: 16000, Channels: 1},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Available reports whether a speech-to-text backend is configured.
func (p *Pipeline) Available() bool { return p.stt != nil }

// StreamConfig returns the audio format captures are opened with.
func (p *Pipeline) StreamConfig() stt.StreamConfig { return p.cfg }

// Start opens a new capture. onError, if non-nil, is called once on its own
// goroutine when the backend fails mid-session.
func (p *Pipeline) Start(ctx context.Context, onError func(error)) (*Capture, error) {
	if p.stt == nil {
		return nil, ErrCaptureUnavailable
	}
	handle, err := p.stt.StartStream(ctx, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	c := &Capture{
		handle:  handle,
		refiner: p.refiner,
		metrics: p.metrics,
		onError: onError,
		drained: make(chan struct{}),
	}
	p.metrics.ActiveCaptures.Add(ctx, 1)
	go c.consume(context.WithoutCancel(ctx))
	return c, nil
}

// Capture is one running dictation capture. All methods are safe for
// concurrent use.
type Capture struct {
	handle  stt.SessionHandle
	refiner transcript.Refiner
	metrics *observe.Metrics
	onError func(error)

	mu       sync.Mutex
	segments []string
	aborted  bool
	stopped  bool
	failure  error

	drained    chan struct{}
	finishOnce sync.Once
}

// SendAudio forwards one PCM chunk to the backend.
func (c *Capture) SendAudio(chunk []byte) error {
	c.mu.Lock()
	aborted, stopped := c.aborted, c.stopped
	c.mu.Unlock()
	switch {
	case aborted:
		return ErrAborted
	case stopped:
		return ErrStopped
	}
	return c.handle.SendAudio(chunk)
}

// Segments returns a copy of the finals accumulated so far.
func (c *Capture) Segments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.segments))
	copy(out, c.segments)
	return out
}

// Err returns the backend failure that aborted the capture, if any.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Stop ends the capture and returns the refined transcript of everything
// dictated. An empty transcript is returned as "" without calling the
// refiner. A refiner failure yields the joined raw transcript.
func (c *Capture) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch {
	case c.aborted:
		c.mu.Unlock()
		return "", ErrAborted
	case c.stopped:
		c.mu.Unlock()
		return "", ErrStopped
	}
	c.stopped = true
	c.mu.Unlock()

	if err := c.handle.Close(); err != nil {
		observe.Logger(ctx).Warn("voice: closing stt session", "err", err)
	}

	select {
	case <-c.drained:
	case <-ctx.Done():
		c.mu.Lock()
		c.aborted = true
		c.segments = nil
		c.mu.Unlock()
		c.finish(ctx)
		return "", ctx.Err()
	}
	c.finish(ctx)

	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return "", ErrAborted
	}
	joined := JoinSegments(c.segments)
	c.segments = nil
	c.mu.Unlock()

	if joined == "" || c.refiner == nil {
		return joined, nil
	}
	cleaned, err := c.refiner.Refine(ctx, joined)
	if err != nil {
		observe.Logger(ctx).Warn("voice: refinement failed, using raw transcript", "err", err)
		return joined, nil
	}
	return cleaned, nil
}

// Abort ends the capture and discards everything accumulated. It is a no-op
// after Stop or a previous Abort. onError is not called.
func (c *Capture) Abort() {
	c.mu.Lock()
	if c.aborted || c.stopped {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.segments = nil
	c.mu.Unlock()

	_ = c.handle.Close()
	c.finish(context.Background())
}

// consume drains the session channels until both transcript channels close.
// A backend failure aborts the capture; draining continues so the backend
// can shut down without blocking on an unread channel.
func (c *Capture) consume(ctx context.Context) {
	defer close(c.drained)

	partials, finals, errs := c.handle.Partials(), c.handle.Finals(), c.handle.Err()
	for partials != nil || finals != nil {
		select {
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.mu.Lock()
			if !c.aborted {
				c.segments = append(c.segments, t.Text)
			}
			c.mu.Unlock()
		case err := <-errs:
			errs = nil
			c.fail(ctx, err)
		}
	}

	// Backends report a failure before closing their channels.
	if errs != nil {
		select {
		case err := <-errs:
			c.fail(ctx, err)
		default:
		}
	}
}

// fail aborts the capture on a backend error.
func (c *Capture) fail(ctx context.Context, err error) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.failure = err
	c.segments = nil
	c.mu.Unlock()

	observe.Logger(ctx).Warn("voice: capture aborted by backend failure", "err", err)
	c.metrics.RecordProviderError(ctx, "stt", "capture")
	go func() { _ = c.handle.Close() }()
	c.finish(ctx)
	if c.onError != nil {
		go c.onError(err)
	}
}

func (c *Capture) finish(ctx context.Context) {
	c.finishOnce.Do(func() { c.metrics.ActiveCaptures.Add(ctx, -1) })
}

// JoinSegments joins final segments with single spaces and trims the result.
func JoinSegments(segments []string) string {
	return strings.TrimSpace(strings.Join(segments, " "))
}

// AppendTranscript appends cleaned to existing note text, inserting exactly
// one space when existing does not already end in whitespace.
func AppendTranscript(existing, cleaned string) string {
	if cleaned == "" {
		return existing
	}
	if existing == "" {
		return cleaned
	}
	if last, _ := utf8.DecodeLastRuneInString(existing); unicode.IsSpace(last) {
		return existing + cleaned
	}
	return existing + " " + cleaned
}
