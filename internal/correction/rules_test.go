package correction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/angioreview/internal/correction"
	"github.com/MrWong99/angioreview/pkg/types"
)

func lad(blockage int) types.Finding {
	return types.Finding{ID: "f1", ArteryName: "LAD", BlockagePercentage: blockage, Confidence: 82}
}

func TestRulesAdapter_SevereRaisesAboveThreshold(t *testing.T) {
	t.Parallel()

	upd, err := correction.RulesAdapter{}.Correct(context.Background(), lad(30), "severe stenosis")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if upd.BlockagePercentage == nil || *upd.BlockagePercentage <= types.SignificantBlockage {
		t.Fatalf("blockage = %v, want > %d", upd.BlockagePercentage, types.SignificantBlockage)
	}
	if upd.Flagged == nil || !*upd.Flagged {
		t.Error("severe finding not flagged")
	}
	if upd.Notes == nil || *upd.Notes != "severe stenosis" {
		t.Errorf("notes = %v, want verbatim note", upd.Notes)
	}
}

func TestRulesAdapter_MildLowersBelowModerate(t *testing.T) {
	t.Parallel()

	upd, err := correction.RulesAdapter{}.Correct(context.Background(), lad(85), "mild")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if *upd.BlockagePercentage >= types.ModerateBlockage {
		t.Errorf("blockage = %d, want < %d", *upd.BlockagePercentage, types.ModerateBlockage)
	}
	if *upd.Flagged {
		t.Error("mild finding flagged")
	}
}

func TestRulesAdapter_KeepsValueInsideBand(t *testing.T) {
	t.Parallel()

	upd, err := correction.RulesAdapter{}.Correct(context.Background(), lad(78), "agree, severe")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if *upd.BlockagePercentage != 78 {
		t.Errorf("blockage = %d, want 78 unchanged", *upd.BlockagePercentage)
	}
}

func TestRulesAdapter_ExplicitPercentage(t *testing.T) {
	t.Parallel()

	upd, err := correction.RulesAdapter{}.Correct(context.Background(), lad(30), "mild, maybe 55%")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if *upd.BlockagePercentage != 55 {
		t.Errorf("blockage = %d, want 55", *upd.BlockagePercentage)
	}
	if *upd.Confidence != 99 {
		t.Errorf("confidence = %d, want 99", *upd.Confidence)
	}
}

func TestRulesAdapter_NoAssessmentFallsBack(t *testing.T) {
	t.Parallel()

	note := "image quality poor, please re-run"
	upd, err := correction.RulesAdapter{}.Correct(context.Background(), lad(30), note)
	if !errors.Is(err, correction.ErrNoAssessment) {
		t.Fatalf("err = %v, want ErrNoAssessment", err)
	}
	if upd.BlockagePercentage != nil || upd.Confidence != nil || upd.Flagged != nil {
		t.Errorf("fallback changed measurements: %+v", upd)
	}
	if upd.Notes == nil || *upd.Notes != note {
		t.Errorf("notes = %v, want %q", upd.Notes, note)
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()

	upd := correction.Fallback("  keep  spacing ")
	if upd.Notes == nil || *upd.Notes != "  keep  spacing " {
		t.Errorf("Fallback notes = %v, want verbatim", upd.Notes)
	}
	if upd.BlockagePercentage != nil || upd.Confidence != nil || upd.Flagged != nil || upd.ImageURL != nil {
		t.Errorf("Fallback set more than notes: %+v", upd)
	}
}
