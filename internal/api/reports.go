package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/angioreview/pkg/types"
)

// handleReport renders the current record without changing it.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	store, _, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReport(w, r, store.Snapshot())
}

// handleFinalize marks the study completed and returns its report.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	store, _, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeReport(w, r, store.Finalize())
}

type regenerateRequest struct {
	Note string `json:"note"`
}

// handleRegenerate appends an optional revision note to the advice and
// returns the re-derived report. The body may be empty.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	store, _, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req regenerateRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, err)
		return
	}
	s.writeReport(w, r, store.Revise(req.Note))
}

// writeReport renders rec into memory first so a failure can still be
// reported as JSON.
func (s *Server) writeReport(w http.ResponseWriter, r *http.Request, rec types.Patient) {
	var buf bytes.Buffer
	doc, err := s.reports.Generate(r.Context(), rec, &buf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("X-Report-Pages", strconv.Itoa(len(doc.Pages)))
	h.Set("X-Report-Images-Skipped", strconv.Itoa(len(doc.SkippedImages)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
