package report_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/angioreview/internal/report"
)

func TestMeasurer_Wrap(t *testing.T) {
	t.Parallel()

	m := report.NewMeasurer()
	text := "Severe stenosis of the proximal left anterior descending artery with " +
		"moderate disease of the first diagonal branch and a patent circumflex"
	st := report.Style{Size: 10}

	lines := m.Wrap(text, st, 60)
	if len(lines) < 3 {
		t.Fatalf("got %d lines, want the paragraph wrapped: %q", len(lines), lines)
	}
	if got := strings.Join(lines, " "); got != text {
		t.Errorf("wrapped text lost words:\n got %q\nwant %q", got, text)
	}

	if got := m.Wrap(text, st, 1000); len(got) != 1 {
		t.Errorf("wide column: got %d lines, want 1", len(got))
	}
	if got := m.Wrap("   ", st, 60); got != nil {
		t.Errorf("blank text: got %q, want nil", got)
	}
	if got := m.Wrap("Ünïcödé – café", st, 60); len(got) != 1 {
		t.Errorf("non-ASCII text: got %q", got)
	}
}
