// Package api exposes the review workflow over HTTP.
//
// Every patient record gets one [review.Machine], created on first use. JSON
// bodies use the same field names as the domain types; errors are returned as
// {"error": "..."} with a status derived from the sentinel that caused them.
// Dictation runs over a WebSocket: the client streams binary PCM frames and
// ends the capture with a {"type":"stop"} text frame.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/angioreview/internal/correction"
	"github.com/MrWong99/angioreview/internal/findings"
	"github.com/MrWong99/angioreview/internal/health"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/patient"
	"github.com/MrWong99/angioreview/internal/report"
	"github.com/MrWong99/angioreview/internal/review"
	"github.com/MrWong99/angioreview/internal/voice"
)

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithVoice enables dictation through p.
func WithVoice(p *voice.Pipeline) Option {
	return func(s *Server) {
		s.voice = p
	}
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSubmitTimeout bounds one correction adapter call.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.submitTimeout = d
	}
}

// Server serves the review API. It is safe for concurrent use.
type Server struct {
	patients *patient.Registry
	adapter  correction.Adapter
	reports  *report.Compositor

	voice          *voice.Pipeline
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	submitTimeout  time.Duration

	mu       sync.Mutex
	machines map[string]*review.Machine
}

// New returns a Server over the records in patients.
func New(patients *patient.Registry, adapter correction.Adapter, reports *report.Compositor, opts ...Option) *Server {
	s := &Server{
		patients: patients,
		adapter:  adapter,
		reports:  reports,
		machines: make(map[string]*review.Machine),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	mux.HandleFunc("GET /v1/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /v1/patients", s.handleListPatients)
	mux.HandleFunc("POST /v1/patients", s.handleCreatePatient)
	mux.HandleFunc("GET /v1/patients/{id}", s.handleGetPatient)
	mux.HandleFunc("PATCH /v1/patients/{id}", s.handleUpdatePatient)

	mux.HandleFunc("POST /v1/patients/{id}/findings/next", s.handleNext)
	mux.HandleFunc("POST /v1/patients/{id}/findings/prev", s.handlePrev)
	mux.HandleFunc("POST /v1/patients/{id}/findings/{index}/select", s.handleSelect)
	mux.HandleFunc("PATCH /v1/patients/{id}/findings/{index}", s.handleUpdateFinding)
	mux.HandleFunc("DELETE /v1/patients/{id}/findings/{index}", s.handleDeleteFinding)

	mux.HandleFunc("GET /v1/patients/{id}/correction", s.handleCorrectionState)
	mux.HandleFunc("POST /v1/patients/{id}/correction", s.handleBegin)
	mux.HandleFunc("DELETE /v1/patients/{id}/correction", s.handleCancel)
	mux.HandleFunc("PUT /v1/patients/{id}/correction/note", s.handleSetNote)
	mux.HandleFunc("POST /v1/patients/{id}/correction/submit", s.handleSubmit)
	mux.HandleFunc("GET /v1/patients/{id}/correction/voice", s.handleVoice)

	mux.HandleFunc("GET /v1/patients/{id}/report", s.handleReport)
	mux.HandleFunc("POST /v1/patients/{id}/finalize", s.handleFinalize)
	mux.HandleFunc("POST /v1/patients/{id}/report/regenerate", s.handleRegenerate)

	return observe.Middleware(s.metrics)(mux)
}

// record returns the store and the correction machine of a patient.
func (s *Server) record(id string) (*findings.Store, *review.Machine, error) {
	store, err := s.patients.Store(id)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		opts := []review.Option{review.WithMetrics(s.metrics)}
		if s.voice != nil {
			opts = append(opts, review.WithVoice(s.voice))
		}
		if s.submitTimeout > 0 {
			opts = append(opts, review.WithSubmitTimeout(s.submitTimeout))
		}
		m = review.New(store, s.adapter, opts...)
		s.machines[id] = m
	}
	return store, m, nil
}

// Close aborts every running dictation.
func (s *Server) Close() {
	s.mu.Lock()
	machines := make([]*review.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.Unlock()
	for _, m := range machines {
		m.Close()
	}
}
