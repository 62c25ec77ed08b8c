// Package findings holds the per-record Finding Store: the ordered findings of
// one patient's study, the reviewer's cursor into them, and every mutation the
// review workflow performs on the record.
//
// A Store is the single serialization point for its record. All methods are
// safe for concurrent use; readers always receive copies.
package findings

import (
	"errors"
	"sync"

	"github.com/MrWong99/angioreview/pkg/types"
)

var (
	// ErrIndexOutOfRange is returned when an index does not address a finding.
	ErrIndexOutOfRange = errors.New("findings: index out of range")

	// ErrLastFinding is returned when a delete would leave the record without
	// findings.
	ErrLastFinding = errors.New("findings: at least one finding must remain")
)

// RevisionPrefix introduces a revision note appended to the advice section.
const RevisionPrefix = "\n[REVISION NOTE]: "

// Store owns one patient record and its finding cursor.
type Store struct {
	mu     sync.RWMutex
	rec    types.Patient
	cursor int
}

// New returns a Store for rec. The store keeps its own copy; later changes to
// rec by the caller are not observed.
func New(rec types.Patient) *Store {
	return &Store{rec: rec.Clone()}
}

// PatientID returns the record's identifier.
func (s *Store) PatientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.ID
}

// Len returns the number of findings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rec.Findings)
}

// Cursor returns the index of the active finding. It is 0 for an empty record.
func (s *Store) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// Active returns the finding under the cursor.
func (s *Store) Active() (types.Finding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rec.Findings) == 0 {
		return types.Finding{}, false
	}
	return s.rec.Findings[s.cursor], true
}

// Finding returns the finding at index i.
func (s *Store) Finding(i int) (types.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.rec.Findings) {
		return types.Finding{}, ErrIndexOutOfRange
	}
	return s.rec.Findings[i], nil
}

// FindingByID returns the finding with the given id and its current index.
func (s *Store) FindingByID(id string) (types.Finding, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return types.Finding{}, -1, false
	}
	return s.rec.Findings[i], i, true
}

// Select moves the cursor to i. Out-of-range indices are ignored and Select
// reports false.
func (s *Store) Select(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.rec.Findings) {
		return false
	}
	s.cursor = i
	return true
}

// Next advances the cursor by one, stopping at the last finding. It returns
// the new cursor.
func (s *Store) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.rec.Findings)-1 {
		s.cursor++
	}
	return s.cursor
}

// Prev moves the cursor back by one, stopping at the first finding. It
// returns the new cursor.
func (s *Store) Prev() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor > 0 {
		s.cursor--
	}
	return s.cursor
}

// Update merges upd into the finding at index i and returns the result.
// The cursor is unchanged.
func (s *Store) Update(i int, upd types.FindingUpdate) (types.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.rec.Findings) {
		return types.Finding{}, ErrIndexOutOfRange
	}
	s.rec.Findings[i] = upd.Apply(s.rec.Findings[i])
	return s.rec.Findings[i], nil
}

// UpdateByID merges upd into the finding with the given id, wherever it sits
// now. It reports false, changing nothing, when the finding no longer exists.
func (s *Store) UpdateByID(id string, upd types.FindingUpdate) (types.Finding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return types.Finding{}, false
	}
	s.rec.Findings[i] = upd.Apply(s.rec.Findings[i])
	return s.rec.Findings[i], true
}

// Delete removes the finding at index i and returns it.
//
// A record always keeps at least one finding: deleting from a record with one
// (or zero) findings fails with ErrLastFinding. The cursor follows the
// deletion so it keeps pointing at a valid finding: deleting the active
// finding selects its predecessor (or the new first finding), deleting one
// before the cursor shifts the cursor down, anything after leaves it alone.
func (s *Store) Delete(i int) (types.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rec.Findings)
	if n <= 1 {
		return types.Finding{}, ErrLastFinding
	}
	if i < 0 || i >= n {
		return types.Finding{}, ErrIndexOutOfRange
	}

	removed := s.rec.Findings[i]
	s.rec.Findings = append(s.rec.Findings[:i:i], s.rec.Findings[i+1:]...)

	switch {
	case i == s.cursor:
		s.cursor = max(0, i-1)
	case i < s.cursor:
		s.cursor--
	}
	return removed, nil
}

// Snapshot returns a deep copy of the record.
func (s *Store) Snapshot() types.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Clone()
}

// RecordUpdate is a partial update to the record's study metadata. Nil fields
// are left unchanged. Findings are never touched.
type RecordUpdate struct {
	Status          *types.StudyStatus `json:"status,omitempty"`
	AccessSite      *string            `json:"accessSite,omitempty"`
	ContrastVolume  *string            `json:"contrastVolume,omitempty"`
	Indication      *string            `json:"indication,omitempty"`
	Diagnosis       *string            `json:"diagnosis,omitempty"`
	HemodynamicData *string            `json:"hemodynamicData,omitempty"`
	Operator        *string            `json:"operator,omitempty"`
	Impression      *string            `json:"impression,omitempty"`
	Advice          *string            `json:"advice,omitempty"`
}

// UpdateRecord applies upd to the study metadata and returns a snapshot.
func (s *Store) UpdateRecord(upd RecordUpdate) types.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	if upd.Status != nil {
		s.rec.Status = *upd.Status
	}
	set(&s.rec.AccessSite, upd.AccessSite)
	set(&s.rec.ContrastVolume, upd.ContrastVolume)
	set(&s.rec.Indication, upd.Indication)
	set(&s.rec.Diagnosis, upd.Diagnosis)
	set(&s.rec.HemodynamicData, upd.HemodynamicData)
	set(&s.rec.Operator, upd.Operator)
	set(&s.rec.Impression, upd.Impression)
	set(&s.rec.Advice, upd.Advice)
	return s.rec.Clone()
}

// Finalize marks the study completed with its report generated and returns
// the snapshot the report is built from.
func (s *Store) Finalize() types.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.ReportGenerated = true
	s.rec.Status = types.StatusCompleted
	return s.rec.Clone()
}

// Revise records a report regeneration. A non-empty note is appended to the
// advice section after RevisionPrefix.
func (s *Store) Revise(note string) types.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note != "" {
		s.rec.Advice += RevisionPrefix + note
	}
	s.rec.ReportGenerated = true
	return s.rec.Clone()
}

func (s *Store) indexOf(id string) int {
	for i, f := range s.rec.Findings {
		if f.ID == id {
			return i
		}
	}
	return -1
}
