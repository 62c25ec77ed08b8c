package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/internal/transcript/llmrefine"
	"github.com/MrWong99/angioreview/internal/transcript/phonetic"
)

// DefaultVocabulary is the coronary vocabulary used for phonetic snapping and
// as LLM context when no vocabulary is configured.
var DefaultVocabulary = []string{
	"LAD", "LCX", "RCA", "PDA",
	"left main", "left anterior descending", "circumflex", "right coronary artery",
	"obtuse marginal", "ramus intermedius", "posterior descending", "diagonal",
	"ostial", "proximal", "distal",
	"stenosis", "stenoses", "occlusion", "occluded", "thrombus", "calcification",
	"calcified", "dissection", "tortuous", "collaterals",
	"angioplasty", "stent", "TIMI",
}

// minSnapLen is the shortest single word considered for phonetic snapping.
// Shorter words collide with too many abbreviations.
const minSnapLen = 3

// PipelineOption is a functional option for configuring a [CleanupPipeline].
type PipelineOption func(*CleanupPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] as the second stage. When
// nil (the default), phonetic snapping is skipped.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CleanupPipeline) {
		p.phonetic = m
	}
}

// WithLLMRefiner attaches an [llmrefine.Refiner] as the final stage. When
// nil (the default), the locally cleaned text is the result.
func WithLLMRefiner(r *llmrefine.Refiner) PipelineOption {
	return func(p *CleanupPipeline) {
		p.llm = r
	}
}

// WithVocabulary replaces [DefaultVocabulary]. Empty input keeps the default.
func WithVocabulary(terms []string) PipelineOption {
	return func(p *CleanupPipeline) {
		if len(terms) > 0 {
			p.vocabulary = terms
		}
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *CleanupPipeline) {
		p.metrics = m
	}
}

// CleanupPipeline is the three-stage [Refiner]:
//
//  1. [Cleanup]: filler and repetition removal.
//  2. [PhoneticMatcher]: vocabulary snapping.
//  3. [llmrefine.Refiner]: language-model refinement.
//
// CleanupPipeline is safe for concurrent use.
type CleanupPipeline struct {
	phonetic   PhoneticMatcher
	llm        *llmrefine.Refiner
	vocabulary []string
	prepared   *phonetic.Vocabulary
	metrics    *observe.Metrics
}

var _ Refiner = (*CleanupPipeline)(nil)

// NewPipeline returns a [CleanupPipeline] configured with opts.
func NewPipeline(opts ...PipelineOption) *CleanupPipeline {
	p := &CleanupPipeline{vocabulary: DefaultVocabulary}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.prepared = phonetic.Prepare(p.vocabulary)
	return p
}

// Vocabulary returns the terms the pipeline snaps to.
func (p *CleanupPipeline) Vocabulary() []string { return p.vocabulary }

// Refine implements [Refiner]. It never returns an error: a failed
// language-model stage yields the raw transcript.
func (p *CleanupPipeline) Refine(ctx context.Context, raw string) (string, error) {
	return p.Process(ctx, raw).Cleaned, nil
}

// Process runs every configured stage over raw and reports what changed.
func (p *CleanupPipeline) Process(ctx context.Context, raw string) Result {
	ctx, span := observe.StartSpan(ctx, "transcript.refine")
	defer span.End()
	start := time.Now()
	defer func() { p.metrics.RefineDuration.Record(ctx, time.Since(start).Seconds()) }()

	result := Result{Raw: raw, Corrections: []Correction{}}
	if strings.TrimSpace(raw) == "" {
		return result
	}

	// --- Stage 1: local cleanup ---
	working, corrections := Cleanup(raw)
	result.Corrections = append(result.Corrections, corrections...)

	// --- Stage 2: phonetic snapping ---
	if p.phonetic != nil {
		var snapped []Correction
		working, snapped = p.applyPhonetic(working)
		result.Corrections = append(result.Corrections, snapped...)
	}

	// --- Stage 3: LLM refinement ---
	if p.llm != nil {
		refined, llmCorrections, err := p.llm.Refine(ctx, working, p.vocabulary)
		if err != nil {
			observe.Logger(ctx).Warn("transcript refinement failed, keeping raw transcript",
				"model", p.llm.Model(), "err", err)
			p.metrics.RecordProviderError(ctx, p.llm.Model(), "refine")
			return Result{Raw: raw, Cleaned: raw, Corrections: []Correction{}, Fallback: true}
		}
		p.metrics.RecordProviderRequest(ctx, p.llm.Model(), "refine", "ok")
		working = refined
		for _, c := range llmCorrections {
			result.Corrections = append(result.Corrections, Correction{
				Original:   c.Original,
				Corrected:  c.Corrected,
				Confidence: c.Confidence,
				Method:     "llm",
			})
		}
	}

	result.Cleaned = strings.TrimSpace(working)
	return result
}

// applyPhonetic runs the phonetic snapping stage over text.
//
// At each token position, windows of every vocabulary word count are tried
// longest first, so that "left anterior descending" wins over a partial
// single-word match. Punctuation around a window is preserved.
func (p *CleanupPipeline) applyPhonetic(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	counts := p.prepared.WordCounts()
	if len(tokens) == 0 || len(counts) == 0 {
		return text, nil
	}

	var matchFn func(string) (string, float64, bool)
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		matchFn = func(phrase string) (string, float64, bool) {
			return pm.MatchPrepared(phrase, p.prepared)
		}
	} else {
		matchFn = func(phrase string) (string, float64, bool) {
			return p.phonetic.Match(phrase, p.vocabulary)
		}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		consumed := 0
		for _, n := range counts {
			if i+n > len(tokens) {
				continue
			}
			lead, words, trail, ok := window(tokens[i : i+n])
			if !ok {
				continue
			}
			phrase := strings.Join(words, " ")
			term, conf, matched := matchFn(phrase)
			if !matched {
				continue
			}
			if strings.EqualFold(term, phrase) && term == strings.ToLower(term) {
				term = phrase
			}
			output = append(output, strings.Fields(lead+term+trail)...)
			if term != phrase {
				corrections = append(corrections, Correction{
					Original:   phrase,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			consumed = n
			break
		}
		if consumed == 0 {
			output = append(output, tokens[i])
			consumed = 1
		}
		i += consumed
	}

	return strings.Join(output, " "), corrections
}

// window strips the punctuation around a token window and reports whether it
// is eligible for snapping. Inner tokens must carry no punctuation, numbers
// are never snapped, and single words must be at least minSnapLen long.
func window(tokens []string) (lead string, words []string, trail string, ok bool) {
	words = make([]string, len(tokens))
	for j, tok := range tokens {
		l, w, tr := splitAffixes(tok)
		if w == "" || isNumeric(w) {
			return "", nil, "", false
		}
		if (j > 0 && l != "") || (j < len(tokens)-1 && tr != "") {
			return "", nil, "", false
		}
		if j == 0 {
			lead = l
		}
		if j == len(tokens)-1 {
			trail = tr
		}
		words[j] = w
	}
	if len(words) == 1 && len([]rune(words[0])) < minSnapLen {
		return "", nil, "", false
	}
	return lead, words, trail, true
}
