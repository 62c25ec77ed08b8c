package patient

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/angioreview/pkg/types"
)

const fixtureYAML = `
patients:
  - id: "P-1001"
    name: "Ravi Kumar"
    age: 58
    sex: M
    last_angiography_date: "2026-03-14"
    status: Needs Review
    diagnosis: "CAD"
    findings:
      - id: "f1"
        artery_name: "Proximal LAD"
        blockage_percentage: 80
        confidence: 94
        image_url: "lad.png"
        heatmap_url: "lad-heatmap.png"
      - artery_name: "Mid RCA"
        blockage_percentage: 45
        confidence: 88
  - id: "P-1002"
    name: "Anita Rao"
    age: 61
    sex: F
    status: Completed
    report_generated: true
    findings:
      - id: "f1"
        artery_name: "LCX"
        blockage_percentage: 55
        confidence: 90
`

func TestLoadAndImportFixtures(t *testing.T) {
	t.Parallel()

	ff, err := LoadFixturesFromReader(strings.NewReader(fixtureYAML))
	if err != nil {
		t.Fatalf("LoadFixturesFromReader: %v", err)
	}
	reg := NewRegistry()
	n, err := Import(reg, ff)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 || reg.Len() != 2 {
		t.Fatalf("imported %d, registry has %d; want 2", n, reg.Len())
	}

	list := reg.List()
	if list[0].ID != "P-1001" || list[1].ID != "P-1002" {
		t.Errorf("order = %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].Findings[1].ID == "" {
		t.Error("missing finding id was not generated")
	}

	s, err := reg.Store("P-1001")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if f, _ := s.Finding(0); f.ArteryName != "Proximal LAD" || f.HeatmapURL != "lad-heatmap.png" {
		t.Errorf("finding 0 = %+v", f)
	}
	if f, _ := s.Finding(1); f.HeatmapURL != "" {
		t.Errorf("finding 1 heatmap = %q, want empty", f.HeatmapURL)
	}
}

func TestLoadFixtures_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := LoadFixturesFromReader(strings.NewReader("patients:\n  - name: x\n    blood_type: A\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestAddDefaultsAndDuplicates(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()

	p, err := reg.Add(types.Patient{Name: "New Patient", Age: 40, Sex: types.SexOther})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.ID == "" || p.Status != types.StatusDraft {
		t.Errorf("defaults not applied: id=%q status=%q", p.ID, p.Status)
	}
	if _, err := reg.Add(types.Patient{ID: p.ID, Name: "Again"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate add err = %v, want ErrDuplicateID", err)
	}
	if _, err := reg.Store("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Store(nope) err = %v, want ErrNotFound", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       types.Patient
		wantErr string
	}{
		{name: "valid", p: types.Patient{Name: "A", Status: types.StatusDraft}},
		{name: "missing name", p: types.Patient{Status: types.StatusDraft}, wantErr: "name must not be empty"},
		{name: "bad status", p: types.Patient{Name: "A", Status: "Archived"}, wantErr: "not a recognised study status"},
		{name: "bad sex", p: types.Patient{Name: "A", Status: types.StatusDraft, Sex: "X"}, wantErr: "sex"},
		{
			name: "bad finding",
			p: types.Patient{Name: "A", Status: types.StatusDraft, Findings: []types.Finding{
				{ID: "f1", ArteryName: "LAD", BlockagePercentage: 120},
				{ID: "f1", ArteryName: ""},
			}},
			wantErr: "duplicate id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.p)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	ff, _ := LoadFixturesFromReader(strings.NewReader(fixtureYAML))
	reg := NewRegistry()
	if _, err := Import(reg, ff); err != nil {
		t.Fatal(err)
	}

	s := reg.Summary()
	if s.Total != 2 || s.HighRisk != 1 || s.NeedsReview != 1 || s.PendingReports != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.ByRisk[types.RiskCritical] != 1 || s.ByRisk[types.RiskMedium] != 1 || s.ByRisk[types.RiskLow] != 0 {
		t.Errorf("by risk = %v", s.ByRisk)
	}
}
