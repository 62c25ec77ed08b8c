package transcript_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/angioreview/internal/transcript"
	"github.com/MrWong99/angioreview/internal/transcript/llmrefine"
	"github.com/MrWong99/angioreview/internal/transcript/phonetic"
	"github.com/MrWong99/angioreview/pkg/provider/llm"
	"github.com/MrWong99/angioreview/pkg/provider/llm/mock"
)

func methods(cs []transcript.Correction) map[string]int {
	out := make(map[string]int)
	for _, c := range cs {
		out[c.Method]++
	}
	return out
}

func TestCleanupPipeline_LocalOnly(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline()
	res := p.Process(context.Background(), "um the circumflecks is uh fine")

	if res.Cleaned != "the circumflecks is fine" {
		t.Errorf("Cleaned = %q, want fillers removed and no snapping", res.Cleaned)
	}
	if res.Raw != "um the circumflecks is uh fine" {
		t.Errorf("Raw = %q, want input preserved", res.Raw)
	}
	if got := methods(res.Corrections); got["filler"] != 2 || got["phonetic"] != 0 {
		t.Errorf("correction methods = %v, want 2 filler only", got)
	}
	if res.Fallback {
		t.Error("Fallback = true without an LLM stage")
	}
}

func TestCleanupPipeline_PhoneticSnapping(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	res := p.Process(context.Background(), "um the circumflecks shows disease in the lad.")

	want := "the circumflex shows disease in the LAD."
	if res.Cleaned != want {
		t.Errorf("Cleaned = %q, want %q", res.Cleaned, want)
	}
	if got := methods(res.Corrections); got["phonetic"] != 2 {
		t.Errorf("phonetic corrections = %d (%+v), want 2", got["phonetic"], res.Corrections)
	}
}

func TestCleanupPipeline_PhoneticLeavesInflectionsAndNumbers(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	in := "proximally 70 percent, Stenosis noted"
	res := p.Process(context.Background(), in)

	if res.Cleaned != in {
		t.Errorf("Cleaned = %q, want %q unchanged", res.Cleaned, in)
	}
	if len(res.Corrections) != 0 {
		t.Errorf("corrections = %+v, want none", res.Corrections)
	}
}

func TestCleanupPipeline_CustomVocabulary(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithVocabulary([]string{"Impella"}),
	)
	if got := p.Vocabulary(); len(got) != 1 || got[0] != "Impella" {
		t.Fatalf("Vocabulary = %v, want [Impella]", got)
	}
	res := p.Process(context.Background(), "circumflecks impella")
	if res.Cleaned != "circumflecks Impella" {
		t.Errorf("Cleaned = %q, want only the custom term snapped", res.Cleaned)
	}
}

func TestCleanupPipeline_LLMStage(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"cleaned_transcript": "The circumflex shows mild disease."}`,
		},
	}
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithLLMRefiner(llmrefine.New(provider)),
	)

	res := p.Process(context.Background(), "uh the circumflecks shows mild disease")
	if res.Cleaned != "The circumflex shows mild disease." {
		t.Errorf("Cleaned = %q, want LLM output", res.Cleaned)
	}
	if res.Fallback {
		t.Error("Fallback = true on success")
	}
	if got := methods(res.Corrections); got["llm"] == 0 {
		t.Errorf("correction methods = %v, want llm entries", got)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req.Messages[0].Content; got != "the circumflex shows mild disease" {
		t.Errorf("LLM input = %q, want locally cleaned text", got)
	}
}

func TestCleanupPipeline_LLMFailureReturnsRaw(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{CompleteErr: errors.New("rate limited")}
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithLLMRefiner(llmrefine.New(provider)),
	)

	raw := "um the circumflecks shows mild disease"
	res := p.Process(context.Background(), raw)
	if res.Cleaned != raw {
		t.Errorf("Cleaned = %q, want raw transcript %q", res.Cleaned, raw)
	}
	if !res.Fallback {
		t.Error("Fallback = false, want true")
	}
	if len(res.Corrections) != 0 {
		t.Errorf("corrections = %+v, want none on fallback", res.Corrections)
	}

	got, err := p.Refine(context.Background(), raw)
	if err != nil {
		t.Fatalf("Refine returned error: %v", err)
	}
	if got != raw {
		t.Errorf("Refine = %q, want raw transcript", got)
	}
}

func TestCleanupPipeline_BlankInputSkipsStages(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	p := transcript.NewPipeline(transcript.WithLLMRefiner(llmrefine.New(provider)))

	got, err := p.Refine(context.Background(), "  \n ")
	if err != nil {
		t.Fatalf("Refine returned error: %v", err)
	}
	if strings.TrimSpace(got) != "" {
		t.Errorf("Refine = %q, want empty", got)
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("LLM calls = %d, want 0", n)
	}
}
