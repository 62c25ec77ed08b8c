package llmrefine

import (
	"strings"
	"testing"
)

func TestVerifyRefinedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		original        string
		refined         string
		wantText        string
		wantCorrections int
	}{
		{
			name:            "identical text",
			original:        "mild disease in the RCA",
			refined:         "mild disease in the RCA",
			wantText:        "mild disease in the RCA",
			wantCorrections: 0,
		},
		{
			name:            "grammar and vocabulary accepted",
			original:        "the lad shows mild disease",
			refined:         "The LAD shows mild disease.",
			wantText:        "The LAD shows mild disease.",
			wantCorrections: 2,
		},
		{
			name:            "altered number reverted",
			original:        "stenosis of 70 percent in the RCA",
			refined:         "stenosis of 75% in the RCA",
			wantText:        "stenosis of 70 percent in the RCA",
			wantCorrections: 0,
		},
		{
			name:            "rewording around an unchanged number accepted",
			original:        "about 70 percent narrowing",
			refined:         "approximately 70% narrowing",
			wantText:        "approximately 70% narrowing",
			wantCorrections: 1,
		},
		{
			name:            "dropped number reverted",
			original:        "RCA 90 percent occluded",
			refined:         "RCA occluded",
			wantText:        "RCA 90 percent occluded",
			wantCorrections: 0,
		},
		{
			name:            "invented number reverted",
			original:        "severe disease",
			refined:         "severe 90% disease",
			wantText:        "severe disease",
			wantCorrections: 0,
		},
		{
			name:            "only the offending span reverted",
			original:        "the lad has 70 percent stenosis",
			refined:         "The LAD has 80% stenosis",
			wantText:        "The LAD has 70 percent stenosis",
			wantCorrections: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotText, gotCorr := verifyRefinedText(tt.original, tt.refined)
			if gotText != tt.wantText {
				t.Errorf("text = %q, want %q", gotText, tt.wantText)
			}
			if len(gotCorr) != tt.wantCorrections {
				t.Errorf("corrections = %d (%+v), want %d", len(gotCorr), gotCorr, tt.wantCorrections)
			}
		})
	}
}

func TestTokenLCS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []string
		wantLen int
	}{
		{"both empty", nil, nil, 0},
		{"a empty", nil, strings.Fields("mild disease"), 0},
		{"b empty", strings.Fields("mild disease"), nil, 0},
		{"identical", strings.Fields("LAD RCA LCX"), strings.Fields("LAD RCA LCX"), 3},
		{"no common", strings.Fields("a b"), strings.Fields("c d"), 0},
		{"partial overlap", strings.Fields("a b c d"), strings.Fields("a x c d"), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := len(tokenLCS(tt.a, tt.b)); got != tt.wantLen {
				t.Errorf("LCS length = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestSegments(t *testing.T) {
	t.Parallel()

	orig := strings.Fields("a X c Y e")
	corr := strings.Fields("a B c D e")
	segs := segments(orig, corr, tokenLCS(orig, corr))

	var spans []*changeSpan
	var anchors []string
	for _, s := range segs {
		if s.span != nil {
			spans = append(spans, s.span)
		} else {
			anchors = append(anchors, s.anchor)
		}
	}
	if got := strings.Join(anchors, " "); got != "a c e" {
		t.Errorf("anchors = %q, want %q", got, "a c e")
	}
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if strings.Join(spans[0].origTokens, " ") != "X" || strings.Join(spans[0].corrTokens, " ") != "B" {
		t.Errorf("span[0] = %v -> %v, want X -> B", spans[0].origTokens, spans[0].corrTokens)
	}
	if strings.Join(spans[1].origTokens, " ") != "Y" || strings.Join(spans[1].corrTokens, " ") != "D" {
		t.Errorf("span[1] = %v -> %v, want Y -> D", spans[1].origTokens, spans[1].corrTokens)
	}
}

func TestNumbersIn(t *testing.T) {
	t.Parallel()

	got := numbersIn(strings.Fields("BP 140/90, stenosis 70%. (LAD)"))
	want := []string{"140/90", "70"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("numbersIn = %v, want %v", got, want)
	}
}
