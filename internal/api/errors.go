package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/angioreview/internal/findings"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/patient"
	"github.com/MrWong99/angioreview/internal/review"
	"github.com/MrWong99/angioreview/internal/voice"
)

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, patient.ErrNotFound),
		errors.Is(err, findings.ErrIndexOutOfRange),
		errors.Is(err, review.ErrNoFinding):
		return http.StatusNotFound
	case errors.Is(err, findings.ErrLastFinding),
		errors.Is(err, patient.ErrDuplicateID),
		errors.Is(err, review.ErrNotRejecting),
		errors.Is(err, review.ErrEmptyNote),
		errors.Is(err, review.ErrVoiceActive),
		errors.Is(err, review.ErrNoCapture),
		errors.Is(err, review.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, voice.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	observe.Logger(r.Context()).Log(r.Context(), level, "api: request rejected",
		"route", r.Pattern, "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
