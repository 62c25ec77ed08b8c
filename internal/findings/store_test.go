package findings

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/MrWong99/angioreview/pkg/types"
)

func record(n int) types.Patient {
	p := types.Patient{ID: "p-1", Name: "Ravi Kumar", Status: types.StatusNeedsReview}
	for i := range n {
		p.Findings = append(p.Findings, types.Finding{
			ID:                 fmt.Sprintf("f%d", i),
			ArteryName:         fmt.Sprintf("A%d", i),
			BlockagePercentage: 40 + i*10,
			Confidence:         90,
		})
	}
	return p
}

func ids(p types.Patient) []string {
	out := make([]string, len(p.Findings))
	for i, f := range p.Findings {
		out[i] = f.ID
	}
	return out
}

func TestSelect(t *testing.T) {
	t.Parallel()
	s := New(record(3))

	if !s.Select(2) || s.Cursor() != 2 {
		t.Fatalf("Select(2): cursor = %d, want 2", s.Cursor())
	}
	for _, i := range []int{-1, 3, 100} {
		if s.Select(i) {
			t.Errorf("Select(%d) reported success", i)
		}
		if s.Cursor() != 2 {
			t.Errorf("Select(%d) moved cursor to %d", i, s.Cursor())
		}
	}
}

func TestNextPrevStayInBounds(t *testing.T) {
	t.Parallel()
	s := New(record(2))

	if got := s.Prev(); got != 0 {
		t.Errorf("Prev at start = %d, want 0", got)
	}
	if got := s.Next(); got != 1 {
		t.Errorf("Next = %d, want 1", got)
	}
	if got := s.Next(); got != 1 {
		t.Errorf("Next at end = %d, want 1", got)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	s := New(record(2))
	s.Select(1)

	got, err := s.Update(0, types.FindingUpdate{
		BlockagePercentage: types.Ptr(140),
		Notes:              types.Ptr("recheck"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.BlockagePercentage != 100 {
		t.Errorf("blockage = %d, want clamped 100", got.BlockagePercentage)
	}
	if got.ArteryName != "A0" || got.Confidence != 90 {
		t.Errorf("unrelated fields changed: %+v", got)
	}
	if s.Cursor() != 1 {
		t.Errorf("Update moved cursor to %d", s.Cursor())
	}
	if _, err := s.Update(2, types.FindingUpdate{}); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Update(2) err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestUpdateHeatmap(t *testing.T) {
	t.Parallel()
	s := New(record(1))

	got, err := s.Update(0, types.FindingUpdate{HeatmapURL: types.Ptr("heatmaps/f0.png")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.HeatmapURL != "heatmaps/f0.png" || got.BlockagePercentage != 40 {
		t.Errorf("after heatmap update = %+v", got)
	}
	if (types.FindingUpdate{HeatmapURL: types.Ptr("")}).IsZero() {
		t.Error("update clearing the heatmap reported as zero")
	}

	got, _ = s.Update(0, types.FindingUpdate{Notes: types.Ptr("recheck")})
	if got.HeatmapURL != "heatmaps/f0.png" {
		t.Errorf("unrelated update dropped heatmap: %q", got.HeatmapURL)
	}
	got, _ = s.Update(0, types.FindingUpdate{HeatmapURL: types.Ptr("")})
	if got.HeatmapURL != "" {
		t.Errorf("heatmap not cleared: %q", got.HeatmapURL)
	}
}

func TestDeleteKeepsLastFinding(t *testing.T) {
	t.Parallel()
	s := New(record(1))

	if _, err := s.Delete(0); !errors.Is(err, ErrLastFinding) {
		t.Fatalf("Delete on single finding err = %v, want ErrLastFinding", err)
	}
	if s.Len() != 1 || s.Cursor() != 0 {
		t.Errorf("record changed: len=%d cursor=%d", s.Len(), s.Cursor())
	}
}

func TestDeleteCursorRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		n, cursor  int
		del        int
		wantCursor int
		wantIDs    string
	}{
		{name: "active last", n: 3, cursor: 2, del: 2, wantCursor: 1, wantIDs: "[f0 f1]"},
		{name: "active first", n: 3, cursor: 0, del: 0, wantCursor: 0, wantIDs: "[f1 f2]"},
		{name: "active middle", n: 3, cursor: 1, del: 1, wantCursor: 0, wantIDs: "[f0 f2]"},
		{name: "before cursor", n: 4, cursor: 2, del: 0, wantCursor: 1, wantIDs: "[f1 f2 f3]"},
		{name: "after cursor", n: 4, cursor: 1, del: 3, wantCursor: 1, wantIDs: "[f0 f1 f2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(record(tt.n))
			s.Select(tt.cursor)
			if _, err := s.Delete(tt.del); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if s.Cursor() != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", s.Cursor(), tt.wantCursor)
			}
			if got := fmt.Sprint(ids(s.Snapshot())); got != tt.wantIDs {
				t.Errorf("ids = %s, want %s", got, tt.wantIDs)
			}
		})
	}
}

func TestDeleteOutOfRange(t *testing.T) {
	t.Parallel()
	s := New(record(2))
	if _, err := s.Delete(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestUpdateByIDAfterDeletion(t *testing.T) {
	t.Parallel()
	s := New(record(3))

	if _, ok := s.UpdateByID("f2", types.FindingUpdate{Notes: types.Ptr("x")}); !ok {
		t.Fatal("UpdateByID on existing finding failed")
	}
	if _, err := s.Delete(2); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()
	if _, ok := s.UpdateByID("f2", types.FindingUpdate{Notes: types.Ptr("late")}); ok {
		t.Fatal("UpdateByID on deleted finding reported success")
	}
	after := s.Snapshot()
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Error("UpdateByID on deleted finding changed the record")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	t.Parallel()
	src := record(2)
	s := New(src)
	src.Findings[0].ArteryName = "mutated by caller"

	snap := s.Snapshot()
	snap.Findings[1].ArteryName = "mutated by reader"

	if f, _ := s.Finding(0); f.ArteryName != "A0" {
		t.Errorf("store observed caller mutation: %q", f.ArteryName)
	}
	if f, _ := s.Finding(1); f.ArteryName != "A1" {
		t.Errorf("store observed snapshot mutation: %q", f.ArteryName)
	}
}

func TestFinalizeAndRevise(t *testing.T) {
	t.Parallel()
	s := New(record(1))
	s.UpdateRecord(RecordUpdate{Advice: types.Ptr("Medical Management")})

	snap := s.Finalize()
	if !snap.ReportGenerated || snap.Status != types.StatusCompleted {
		t.Errorf("Finalize: %+v", snap)
	}

	snap = s.Revise("Add statin therapy")
	want := "Medical Management\n[REVISION NOTE]: Add statin therapy"
	if snap.Advice != want {
		t.Errorf("advice = %q, want %q", snap.Advice, want)
	}
	if s.Revise("").Advice != want {
		t.Error("empty revision note changed advice")
	}
}

// TestRandomOperationsKeepCursorValid drives the store with a random sequence
// of operations and checks the structural invariants after each step.
func TestRandomOperationsKeepCursorValid(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 42))

	for run := range 50 {
		s := New(record(1 + rng.IntN(6)))
		for step := range 200 {
			n := s.Len()
			switch rng.IntN(5) {
			case 0:
				s.Select(rng.IntN(n+2) - 1)
			case 1:
				_, err := s.Delete(rng.IntN(n))
				if n == 1 && !errors.Is(err, ErrLastFinding) {
					t.Fatalf("run %d step %d: delete on single finding err = %v", run, step, err)
				}
			case 2:
				s.Next()
			case 3:
				s.Prev()
			case 4:
				_, _ = s.Update(rng.IntN(n), types.FindingUpdate{BlockagePercentage: types.Ptr(rng.IntN(300) - 100)})
			}

			n = s.Len()
			if n < 1 {
				t.Fatalf("run %d step %d: record lost its last finding", run, step)
			}
			if c := s.Cursor(); c < 0 || c >= n {
				t.Fatalf("run %d step %d: cursor %d out of [0,%d)", run, step, c, n)
			}
			for _, f := range s.Snapshot().Findings {
				if f.BlockagePercentage < 0 || f.BlockagePercentage > 100 {
					t.Fatalf("run %d step %d: blockage %d out of range", run, step, f.BlockagePercentage)
				}
			}
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := New(record(8))

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				switch (w + i) % 4 {
				case 0:
					s.Select(i % 8)
				case 1:
					_, _ = s.Delete(0)
				case 2:
					_ = s.Snapshot()
				case 3:
					_, _ = s.Update(0, types.FindingUpdate{Confidence: types.Ptr(i)})
				}
			}
		}()
	}
	wg.Wait()

	if s.Len() < 1 || s.Cursor() >= s.Len() {
		t.Errorf("invariants broken: len=%d cursor=%d", s.Len(), s.Cursor())
	}
}
