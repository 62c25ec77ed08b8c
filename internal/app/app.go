// Package app wires the review service together and owns its lifecycle.
//
// New builds every subsystem from the configuration and the providers that
// main instantiated through the config registry: the patient registry (seeded
// from fixture files), the correction adapter with LLM failover, transcript
// refinement, voice capture, image resolution, the report compositor and the
// HTTP surface. Run serves until the context is cancelled and Shutdown tears
// everything down in order.
//
// Tests inject a registry, metrics or a listener through options; anything not
// injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/angioreview/internal/api"
	"github.com/MrWong99/angioreview/internal/config"
	"github.com/MrWong99/angioreview/internal/correction"
	"github.com/MrWong99/angioreview/internal/health"
	"github.com/MrWong99/angioreview/internal/imagesource"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/patient"
	"github.com/MrWong99/angioreview/internal/report"
	"github.com/MrWong99/angioreview/internal/resilience"
	"github.com/MrWong99/angioreview/internal/transcript"
	"github.com/MrWong99/angioreview/internal/transcript/llmrefine"
	"github.com/MrWong99/angioreview/internal/transcript/phonetic"
	"github.com/MrWong99/angioreview/internal/voice"
	"github.com/MrWong99/angioreview/pkg/provider/llm"
	"github.com/MrWong99/angioreview/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// NamedLLM is an LLM provider together with the config name it was built
// from.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the instantiated model backends. A nil field means the slot
// is not configured. Populated by main via the config registry.
type Providers struct {
	// LLM is the primary correction model.
	LLM NamedLLM

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []NamedLLM

	// RefineLLM tidies dictated transcripts. May share LLM's backend.
	RefineLLM llm.Provider

	// STT transcribes dictation audio.
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics   *observe.Metrics
	patients  *patient.Registry
	images    *imagesource.Source
	reports   *report.Compositor
	llm       *resilience.LLMFallback
	adapter   correction.Adapter
	refiner   *transcript.CleanupPipeline
	voice     *voice.Pipeline
	health    *health.Handler
	api       *api.Server
	server    *http.Server
	listener  net.Listener
	telemetry *observe.Telemetry

	// closers run in order during Shutdown.
	closers  []func(context.Context) error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry uses reg instead of an empty registry. Fixture files are still
// imported into it.
func WithRegistry(reg *patient.Registry) Option {
	return func(a *App) { a.patients = reg }
}

// WithMetrics uses m and skips OpenTelemetry SDK setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initPatients(ctx); err != nil {
		return nil, fmt.Errorf("app: init patients: %w", err)
	}
	a.initReports()
	a.initCorrection(ctx)
	a.initVoice(ctx)
	a.initHealth()
	a.initServer()

	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	t, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	a.telemetry = t
	a.metrics = t.Metrics
	return nil
}

func (a *App) initPatients(ctx context.Context) error {
	if a.patients == nil {
		a.patients = patient.NewRegistry()
	}
	for _, path := range a.cfg.Patients.FixtureFiles {
		ff, err := patient.LoadFixtureFile(path)
		if err != nil {
			return err
		}
		n, err := patient.Import(a.patients, ff)
		if err != nil {
			return fmt.Errorf("import %q: %w", path, err)
		}
		observe.Logger(ctx).Info("patient fixtures loaded", "file", path, "records", n)
	}
	return nil
}

func (a *App) initReports() {
	ic := a.cfg.Images
	opts := []imagesource.Option{imagesource.WithMetrics(a.metrics)}
	if ic.Timeout > 0 {
		opts = append(opts, imagesource.WithTimeout(ic.Timeout))
	}
	if ic.MaxDimension > 0 {
		opts = append(opts, imagesource.WithMaxDimension(ic.MaxDimension))
	}
	if ic.JPEGQuality > 0 {
		opts = append(opts, imagesource.WithJPEGQuality(ic.JPEGQuality))
	}
	if ic.CacheTTL > 0 {
		opts = append(opts, imagesource.WithCacheTTL(ic.CacheTTL))
	}
	if ic.MaxBytes > 0 {
		opts = append(opts, imagesource.WithMaxBytes(ic.MaxBytes))
	}
	if ic.LocalRoot != "" {
		opts = append(opts, imagesource.WithLocalRoot(ic.LocalRoot))
	}
	a.images = imagesource.New(opts...)
	a.closers = append(a.closers, func(context.Context) error {
		a.images.Purge()
		return nil
	})

	rc := a.cfg.Report
	a.reports = report.New(a.images,
		report.WithConfig(report.Config{
			Facility:        rc.Facility,
			Title:           rc.Title,
			ReportedBy:      rc.ReportedBy,
			ReviewedBy:      rc.ReviewedBy,
			DefaultOperator: rc.DefaultOperator,
			ContrastAgent:   rc.ContrastAgent,
			DateFormat:      rc.DateFormat,
		}),
		report.WithMetrics(a.metrics),
	)
}

// initCorrection picks the model-backed adapter when an LLM is configured and
// the service is not forced offline, and the rules adapter otherwise.
func (a *App) initCorrection(ctx context.Context) {
	log := observe.Logger(ctx)
	primary := a.providers.LLM
	if a.cfg.Correction.Offline || primary.Provider == nil {
		a.adapter = correction.RulesAdapter{}
		log.Info("correction adapter ready", "mode", "rules", "offline", a.cfg.Correction.Offline)
		return
	}

	a.llm = resilience.NewLLMFallback(primary.Provider, primary.Name, resilience.FallbackConfig{})
	for _, fb := range a.providers.LLMFallbacks {
		a.llm.AddFallback(fb.Name, fb.Provider)
	}
	opts := []correction.LLMOption{correction.WithMetrics(a.metrics)}
	if t := a.cfg.Correction.Temperature; t != nil {
		opts = append(opts, correction.WithTemperature(*t))
	}
	a.adapter = correction.NewLLM(a.llm, opts...)
	log.Info("correction adapter ready",
		"mode", "llm",
		"model", a.llm.Model(),
		"fallbacks", len(a.providers.LLMFallbacks))
}

func (a *App) initVoice(ctx context.Context) {
	opts := []transcript.PipelineOption{
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithMetrics(a.metrics),
	}
	if len(a.cfg.Voice.Vocabulary) > 0 {
		opts = append(opts, transcript.WithVocabulary(a.cfg.Voice.Vocabulary))
	}
	if p := a.providers.RefineLLM; p != nil && !a.cfg.Correction.Offline {
		opts = append(opts, transcript.WithLLMRefiner(llmrefine.New(p)))
	}
	a.refiner = transcript.NewPipeline(opts...)

	if a.providers.STT == nil {
		observe.Logger(ctx).Info("voice dictation disabled, no stt provider configured")
		return
	}
	a.voice = voice.New(a.providers.STT, a.refiner,
		voice.WithStreamConfig(stt.StreamConfig{
			SampleRate: a.cfg.Voice.SampleRate,
			Channels:   a.cfg.Voice.Channels,
			Language:   a.cfg.Voice.Language,
			Keywords:   a.refiner.Vocabulary(),
		}),
		voice.WithMetrics(a.metrics),
	)
}

func (a *App) initHealth() {
	a.health = health.New()
	if root := a.cfg.Images.LocalRoot; root != "" {
		a.health.Add(health.Checker{
			Name: "images",
			Check: func(context.Context) error {
				fi, err := os.Stat(root)
				if err != nil {
					return err
				}
				if !fi.IsDir() {
					return fmt.Errorf("%s is not a directory", root)
				}
				return nil
			},
		})
	}
	if a.llm != nil {
		a.health.Add(health.Checker{Name: "llm", Check: a.llm.Check, Optional: true})
	}
}

func (a *App) initServer() {
	opts := []api.Option{
		api.WithHealth(a.health),
		api.WithMetrics(a.metrics),
		api.WithSubmitTimeout(a.cfg.Correction.Timeout),
	}
	if a.telemetry != nil {
		opts = append(opts, api.WithMetricsHandler(a.telemetry.Handler))
	}
	if a.voice != nil {
		opts = append(opts, api.WithVoice(a.voice))
	}
	a.api = api.New(a.patients, a.adapter, a.reports, opts...)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Patients returns the patient registry.
func (a *App) Patients() *patient.Registry { return a.patients }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP until ctx is cancelled or the server fails. It returns
// ctx.Err() after a cancellation-triggered stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	slog.Info("app running",
		"addr", ln.Addr().String(),
		"patients", a.patients.Len(),
		"voice", a.voice != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops the HTTP server, aborts open dictations and runs every
// closer in order. Subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		a.api.Close()

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
