// Package review implements the correction state machine that drives one
// clinician's review of a patient record.
//
// A [Machine] moves between three phases:
//
//	Idle ──Begin──▶ Rejecting ──Submit──▶ Submitting ──▶ Idle
//	                    │
//	                    └──Cancel──▶ Idle
//
// While Rejecting, a nested voice sub-state (Idle, Recording, Refining) tracks
// an optional dictation capture. Typing into the note is never blocked by
// dictation; refined dictation is appended to whatever the note holds when
// refinement completes. Submit is refused while dictation is in progress, so
// a submission can never race its own capture.
//
// Submission always runs to completion. The adapter call is detached from
// the caller's cancellation and bounded by its own timeout; an adapter
// failure is resolved to [correction.Fallback] and the machine returns to
// Idle either way. The update is merged by finding ID, so a finding deleted
// while the call was in flight is simply not updated.
package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/angioreview/internal/correction"
	"github.com/MrWong99/angioreview/internal/findings"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/voice"
	"github.com/MrWong99/angioreview/pkg/types"
)

const defaultSubmitTimeout = 30 * time.Second

var (
	// ErrNotRejecting is returned by operations that need an open correction.
	ErrNotRejecting = errors.New("review: no correction in progress")

	// ErrEmptyNote is returned by Submit when the note is blank.
	ErrEmptyNote = errors.New("review: note is empty")

	// ErrVoiceActive is returned when dictation is already running, or by
	// Submit while dictation has not finished.
	ErrVoiceActive = errors.New("review: dictation in progress")

	// ErrNoCapture is returned by StopVoice and SendAudio when no dictation
	// is recording.
	ErrNoCapture = errors.New("review: no dictation recording")

	// ErrBusy is returned while a correction is already open or submitting.
	ErrBusy = errors.New("review: correction already in progress")

	// ErrNoFinding is returned by Begin when the record has no active finding.
	ErrNoFinding = errors.New("review: no active finding")
)

// Phase is the top-level state of a [Machine].
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRejecting
	PhaseSubmitting
)

var phaseNames = [...]string{"idle", "rejecting", "submitting"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// VoicePhase is the dictation sub-state of an open correction.
type VoicePhase int

const (
	VoiceIdle VoicePhase = iota
	VoiceRecording
	VoiceRefining
)

var voicePhaseNames = [...]string{"idle", "recording", "refining"}

func (v VoicePhase) String() string {
	if int(v) < len(voicePhaseNames) {
		return voicePhaseNames[v]
	}
	return "unknown"
}

// MarshalText encodes the voice phase by name.
func (v VoicePhase) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// State is a snapshot of a [Machine].
type State struct {
	Phase     Phase      `json:"phase"`
	SessionID string     `json:"sessionId,omitempty"`
	FindingID string     `json:"findingId,omitempty"`
	Note      string     `json:"note"`
	Voice     VoicePhase `json:"voice"`

	// VoiceError is the last dictation failure of this session, if any.
	VoiceError string `json:"voiceError,omitempty"`
}

// Outcome reports how a submission was resolved.
type Outcome struct {
	// Finding is the finding after the merge. Zero when not Applied.
	Finding types.Finding

	// Applied is false when the finding was deleted before the merge.
	Applied bool

	// Fallback is true when the adapter failed and only the note was stored.
	Fallback bool
}

// session is the payload of the Rejecting and Submitting phases.
type session struct {
	id        string
	findingID string
	note      string
	voice     VoicePhase
	capture   *voice.Capture
	voiceErr  error
}

// draft is a note kept after Cancel for re-entry on the same finding.
type draft struct {
	findingID string
	note      string
}

// Option is a functional option for configuring a [Machine].
type Option func(*Machine)

// WithVoice enables dictation through p.
func WithVoice(p *voice.Pipeline) Option {
	return func(m *Machine) {
		m.voice = p
	}
}

// WithSubmitTimeout bounds the adapter call of a submission.
// Default: 30s.
func WithSubmitTimeout(d time.Duration) Option {
	return func(m *Machine) {
		m.timeout = d
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// Machine is the correction state machine of one patient record. All
// methods are safe for concurrent use.
type Machine struct {
	store   *findings.Store
	adapter correction.Adapter
	voice   *voice.Pipeline
	timeout time.Duration
	metrics *observe.Metrics

	mu    sync.Mutex
	phase Phase
	sess  *session // nil iff phase == PhaseIdle
	draft draft
}

// New returns a Machine in the Idle phase.
func New(store *findings.Store, adapter correction.Adapter, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		adapter: adapter,
		timeout: defaultSubmitTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	st := State{Phase: m.phase}
	if s := m.sess; s != nil {
		st.SessionID = s.id
		st.FindingID = s.findingID
		st.Note = s.note
		st.Voice = s.voice
		if s.voiceErr != nil {
			st.VoiceError = s.voiceErr.Error()
		}
	}
	return st
}

// Begin opens a correction for the active finding. A note left by Cancel on
// the same finding is restored; any other draft is discarded.
func (m *Machine) Begin(ctx context.Context) (State, error) {
	f, ok := m.store.Active()
	if !ok {
		return m.State(), ErrNoFinding
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseIdle {
		return m.stateLocked(), ErrBusy
	}

	note := ""
	if m.draft.findingID == f.ID {
		note = m.draft.note
	}
	m.draft = draft{}
	m.sess = &session{id: uuid.NewString(), findingID: f.ID, note: note}
	m.phase = PhaseRejecting
	m.metrics.ActiveCorrections.Add(ctx, 1)

	observe.Logger(ctx).Debug("review: correction started",
		"patient_id", m.store.PatientID(), "finding_id", f.ID, "session_id", m.sess.id)
	return m.stateLocked(), nil
}

// SetNote replaces the note text. It is allowed while dictation runs.
func (m *Machine) SetNote(note string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireRejecting(); err != nil {
		return m.stateLocked(), err
	}
	m.sess.note = note
	return m.stateLocked(), nil
}

// Cancel closes the open correction without changing the finding. Running
// dictation is aborted and its text discarded. The typed note is kept as a
// draft for the next Begin on the same finding.
func (m *Machine) Cancel(ctx context.Context) (State, error) {
	m.mu.Lock()
	if err := m.requireRejecting(); err != nil {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, err
	}
	s := m.sess
	m.sess = nil
	m.phase = PhaseIdle
	if strings.TrimSpace(s.note) != "" {
		m.draft = draft{findingID: s.findingID, note: s.note}
	}
	st := m.stateLocked()
	m.mu.Unlock()

	if s.capture != nil {
		s.capture.Abort()
	}
	m.metrics.ActiveCorrections.Add(ctx, -1)
	observe.Logger(ctx).Debug("review: correction cancelled", "finding_id", s.findingID, "session_id", s.id)
	return st, nil
}

// Submit sends the note to the correction adapter and merges the result into
// the store. It returns to Idle whatever the adapter does; errors are only
// returned for calls made in the wrong state.
func (m *Machine) Submit(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	if err := m.requireRejecting(); err != nil {
		m.mu.Unlock()
		return Outcome{}, err
	}
	s := m.sess
	switch {
	case s.voice != VoiceIdle:
		m.mu.Unlock()
		return Outcome{}, ErrVoiceActive
	case strings.TrimSpace(s.note) == "":
		m.mu.Unlock()
		return Outcome{}, ErrEmptyNote
	}
	m.phase = PhaseSubmitting
	m.mu.Unlock()

	// The submission outlives a caller that goes away.
	ctx, span := observe.StartSpan(context.WithoutCancel(ctx), "review.submit",
		trace.WithAttributes(
			attribute.String("finding_id", s.findingID),
			attribute.String("session_id", s.id),
		))
	start := time.Now()

	out := m.correct(ctx, s.findingID, s.note)

	outcome := "applied"
	switch {
	case !out.Applied:
		outcome = "discarded"
	case out.Fallback:
		outcome = "fallback"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	observe.EndSpan(span, nil)
	m.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))

	m.mu.Lock()
	m.phase = PhaseIdle
	m.sess = nil
	m.draft = draft{}
	m.mu.Unlock()
	m.metrics.ActiveCorrections.Add(ctx, -1)
	return out, nil
}

// correct runs the adapter and merges its update.
func (m *Machine) correct(ctx context.Context, findingID, note string) Outcome {
	log := observe.Logger(ctx).With("patient_id", m.store.PatientID(), "finding_id", findingID)

	f, _, ok := m.store.FindingByID(findingID)
	if !ok {
		log.Info("review: finding deleted before submission, nothing to update")
		return Outcome{}
	}

	actx, cancel := context.WithTimeout(ctx, m.timeout)
	upd, err := m.adapter.Correct(actx, f, note)
	cancel()

	var out Outcome
	if err != nil {
		reason := fallbackReason(err)
		log.Warn("review: correction adapter failed, storing note only", "reason", reason, "err", err)
		m.metrics.RecordCorrectionFallback(ctx, reason)
		upd = correction.Fallback(note)
		out.Fallback = true
	}

	updated, ok := m.store.UpdateByID(findingID, upd)
	if !ok {
		log.Info("review: finding deleted during submission, update dropped")
		return Outcome{Fallback: out.Fallback}
	}
	out.Finding = updated
	out.Applied = true
	log.Info("review: finding corrected",
		"blockage", updated.BlockagePercentage, "risk", updated.Risk(), "fallback", out.Fallback)
	return out
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, correction.ErrUnparseable):
		return "unparseable"
	case errors.Is(err, correction.ErrNoAssessment):
		return "no_assessment"
	}
	return "adapter_error"
}

// StartVoice begins dictation into the open correction. onError, if non-nil,
// is called on its own goroutine when the speech backend fails mid-capture,
// after the machine has returned to the voice Idle sub-state.
func (m *Machine) StartVoice(ctx context.Context, onError func(error)) (State, error) {
	m.mu.Lock()
	if err := m.requireRejecting(); err != nil {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, err
	}
	s := m.sess
	if s.voice != VoiceIdle {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, ErrVoiceActive
	}
	if m.voice == nil || !m.voice.Available() {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, voice.ErrCaptureUnavailable
	}
	// Reserve the sub-state while the stream opens without the lock held.
	s.voice = VoiceRecording
	s.voiceErr = nil
	m.mu.Unlock()

	c, err := m.voice.Start(ctx, func(err error) {
		m.captureFailed(s, err)
		if onError != nil {
			onError(err)
		}
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.sess == s {
			s.voice = VoiceIdle
			s.voiceErr = err
		}
		return m.stateLocked(), err
	}
	if m.sess != s {
		c.Abort()
		return m.stateLocked(), ErrNotRejecting
	}
	if s.voice != VoiceRecording {
		// The backend failed before Start returned.
		c.Abort()
		return m.stateLocked(), voice.ErrAborted
	}
	s.capture = c
	return m.stateLocked(), nil
}

// SendAudio forwards one PCM chunk to the running capture.
func (m *Machine) SendAudio(chunk []byte) error {
	m.mu.Lock()
	var c *voice.Capture
	if m.phase == PhaseRejecting && m.sess.voice == VoiceRecording {
		c = m.sess.capture
	}
	m.mu.Unlock()
	if c == nil {
		return ErrNoCapture
	}
	return c.SendAudio(chunk)
}

// StopVoice ends dictation, waits for refinement and appends the refined
// text to the note. The result is discarded when the correction was
// cancelled in the meantime.
func (m *Machine) StopVoice(ctx context.Context) (State, error) {
	m.mu.Lock()
	if err := m.requireRejecting(); err != nil {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, err
	}
	s := m.sess
	if s.voice != VoiceRecording || s.capture == nil {
		st := m.stateLocked()
		m.mu.Unlock()
		return st, ErrNoCapture
	}
	c := s.capture
	s.voice = VoiceRefining
	m.mu.Unlock()

	text, err := c.Stop(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		return m.stateLocked(), ErrNotRejecting
	}
	s.voice = VoiceIdle
	s.capture = nil
	if err != nil {
		s.voiceErr = err
		return m.stateLocked(), err
	}
	s.note = voice.AppendTranscript(s.note, text)
	return m.stateLocked(), nil
}

// captureFailed resets the voice sub-state after a backend failure in s.
func (m *Machine) captureFailed(s *session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s || s.voice != VoiceRecording {
		return
	}
	s.voice = VoiceIdle
	s.capture = nil
	s.voiceErr = err
}

// AbortVoice discards a running dictation and returns the voice sub-state to
// Idle. The typed note is kept. It is a no-op when nothing is recording.
func (m *Machine) AbortVoice() State {
	m.mu.Lock()
	var c *voice.Capture
	if m.sess != nil && m.sess.voice == VoiceRecording {
		c = m.sess.capture
		m.sess.voice = VoiceIdle
		m.sess.capture = nil
	}
	st := m.stateLocked()
	m.mu.Unlock()
	if c != nil {
		c.Abort()
	}
	return st
}

// Close aborts any running dictation. The machine stays usable.
func (m *Machine) Close() { m.AbortVoice() }

// requireRejecting must be called with mu held.
func (m *Machine) requireRejecting() error {
	switch m.phase {
	case PhaseIdle:
		return ErrNotRejecting
	case PhaseSubmitting:
		return ErrBusy
	}
	return nil
}
