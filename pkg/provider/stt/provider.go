// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a streaming transcription service (Deepgram or a
// whisper.cpp server) and exposes a uniform interface to the voice capture
// pipeline. Once opened, a session accepts raw PCM audio and emits interim
// partials and authoritative finals. Only finals are ever appended to a
// clinician's correction note.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/angioreview/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Browsers typically deliver
	// 48000; 16000 is the STT-optimised rate.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Keywords are vocabulary hints (artery names, lesion terms) that raise the
	// recognition probability of clinical words.
	Keywords []string
}

// SessionHandle represents an open STT streaming session.
//
// The caller that opened the session owns it exclusively and must call Close
// when done. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM. Calling
	// SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts in recognition order. Closed when the
	// session ends.
	Finals() <-chan types.Transcript

	// Err receives at most one value when the backend fails mid-session. It is
	// never closed; callers select on it alongside Finals.
	Err() <-chan error

	// Close flushes pending audio, delivers any remaining finals, and releases
	// all resources. After Close returns, Partials and Finals are closed.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
