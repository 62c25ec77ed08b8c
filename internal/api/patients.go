package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MrWong99/angioreview/internal/findings"
	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/patient"
	"github.com/MrWong99/angioreview/internal/review"
	"github.com/MrWong99/angioreview/pkg/types"
)

// recordView is a patient record together with its review position.
type recordView struct {
	Patient    types.Patient   `json:"patient"`
	Risk       types.RiskLevel `json:"risk"`
	Cursor     int             `json:"cursor"`
	Correction review.State    `json:"correction"`
}

func viewOf(store *findings.Store, m *review.Machine) recordView {
	rec := store.Snapshot()
	return recordView{
		Patient:    rec,
		Risk:       rec.RiskLevel(),
		Cursor:     store.Cursor(),
		Correction: m.State(),
	}
}

// findingIndex parses the {index} path segment.
func findingIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%w: finding index %q", errBadRequest, r.PathValue("index"))
	}
	return i, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.patients.Summary())
}

func (s *Server) handleListPatients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.patients.List())
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var p types.Patient
	if err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	if len(p.Findings) == 0 {
		writeError(w, r, fmt.Errorf("%w: a record needs at least one finding", errBadRequest))
		return
	}
	added, err := s.patients.Add(p)
	if err != nil {
		if !errors.Is(err, patient.ErrDuplicateID) {
			err = fmt.Errorf("%w: %w", errBadRequest, err)
		}
		writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("api: patient record added",
		"patient_id", added.ID, "findings", len(added.Findings))
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(store, m))
}

func (s *Server) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var upd findings.RecordUpdate
	if err := decode(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	if upd.Status != nil && !upd.Status.Valid() {
		writeError(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, *upd.Status))
		return
	}
	store.UpdateRecord(upd)
	writeJSON(w, http.StatusOK, viewOf(store, m))
}

// handleSelect moves the cursor. An index past the end leaves the cursor
// where it is.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	i, err := findingIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	store.Select(i)
	writeJSON(w, http.StatusOK, viewOf(store, m))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	store.Next()
	writeJSON(w, http.StatusOK, viewOf(store, m))
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	store.Prev()
	writeJSON(w, http.StatusOK, viewOf(store, m))
}

func (s *Server) handleUpdateFinding(w http.ResponseWriter, r *http.Request) {
	store, _, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	i, err := findingIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var upd types.FindingUpdate
	if err := decode(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := store.Update(i, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFinding(w http.ResponseWriter, r *http.Request) {
	store, m, err := s.record(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	i, err := findingIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := store.Delete(i); err != nil {
		if errors.Is(err, findings.ErrLastFinding) {
			s.metrics.DeletionsRejected.Add(r.Context(), 1)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(store, m))
}
