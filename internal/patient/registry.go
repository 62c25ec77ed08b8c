// Package patient keeps the in-memory set of patient records under review.
// Each record is owned by its own findings.Store; the registry only maps IDs
// to stores and aggregates dashboard figures.
package patient

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/angioreview/internal/findings"
	"github.com/MrWong99/angioreview/pkg/types"
)

var (
	// ErrNotFound is returned when no record with the requested ID exists.
	ErrNotFound = errors.New("patient: not found")

	// ErrDuplicateID is returned by Add when the ID is already registered.
	ErrDuplicateID = errors.New("patient: duplicate id")
)

// Registry is a thread-safe set of patient records in insertion order.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	stores map[string]*findings.Store
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*findings.Store)}
}

// Add validates p, fills in missing identifiers and defaults, and registers
// it. The stored record is returned.
func (r *Registry) Add(p types.Patient) (types.Patient, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = types.StatusDraft
	}
	p = p.Clone()
	for i := range p.Findings {
		if p.Findings[i].ID == "" {
			p.Findings[i].ID = uuid.NewString()
		}
	}
	if err := Validate(p); err != nil {
		return types.Patient{}, fmt.Errorf("patient: add %q: %w", p.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[p.ID]; exists {
		return types.Patient{}, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	r.stores[p.ID] = findings.New(p)
	r.order = append(r.order, p.ID)
	return p, nil
}

// Store returns the finding store that owns the record with the given ID.
func (r *Registry) Store(id string) (*findings.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns snapshots of all records in insertion order.
func (r *Registry) List() []types.Patient {
	r.mu.RLock()
	stores := make([]*findings.Store, 0, len(r.order))
	for _, id := range r.order {
		stores = append(stores, r.stores[id])
	}
	r.mu.RUnlock()

	out := make([]types.Patient, 0, len(stores))
	for _, s := range stores {
		out = append(out, s.Snapshot())
	}
	return out
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Summary aggregates the dashboard figures.
type Summary struct {
	Total          int                       `json:"total"`
	HighRisk       int                       `json:"highRisk"`
	NeedsReview    int                       `json:"needsReview"`
	PendingReports int                       `json:"pendingReports"`
	ByStatus       map[types.StudyStatus]int `json:"byStatus"`
	ByRisk         map[types.RiskLevel]int   `json:"byRisk"`
}

// Summary computes dashboard counts over the current records.
func (r *Registry) Summary() Summary {
	s := Summary{
		ByStatus: make(map[types.StudyStatus]int),
		ByRisk: map[types.RiskLevel]int{
			types.RiskLow: 0, types.RiskMedium: 0, types.RiskCritical: 0,
		},
	}
	for _, p := range r.List() {
		s.Total++
		s.ByStatus[p.Status]++
		risk := p.RiskLevel()
		s.ByRisk[risk]++
		if risk == types.RiskCritical {
			s.HighRisk++
		}
		if p.Status == types.StatusNeedsReview {
			s.NeedsReview++
		}
		if !p.ReportGenerated {
			s.PendingReports++
		}
	}
	return s
}

// Validate checks a record for required fields and value ranges.
func Validate(p types.Patient) error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if p.Age < 0 || p.Age > 130 {
		errs = append(errs, fmt.Errorf("age %d out of range", p.Age))
	}
	switch p.Sex {
	case types.SexMale, types.SexFemale, types.SexOther, "":
	default:
		errs = append(errs, fmt.Errorf("sex %q is not one of M, F, O", p.Sex))
	}
	if !p.Status.Valid() {
		errs = append(errs, fmt.Errorf("status %q is not a recognised study status", p.Status))
	}

	seen := make(map[string]bool, len(p.Findings))
	for i, f := range p.Findings {
		if seen[f.ID] {
			errs = append(errs, fmt.Errorf("finding[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		if strings.TrimSpace(f.ArteryName) == "" {
			errs = append(errs, fmt.Errorf("finding[%d]: artery name must not be empty", i))
		}
		if f.BlockagePercentage < 0 || f.BlockagePercentage > 100 {
			errs = append(errs, fmt.Errorf("finding[%d]: blockage %d outside [0,100]", i, f.BlockagePercentage))
		}
		if f.Confidence < 0 || f.Confidence > 100 {
			errs = append(errs, fmt.Errorf("finding[%d]: confidence %d outside [0,100]", i, f.Confidence))
		}
	}

	return errors.Join(errs...)
}
