// Package transcript defines the dictation refinement pipeline that turns a
// raw speech-to-text transcript into clean clinical note text.
//
// Raw speech-to-text output of a dictating clinician carries hesitation
// fillers, stutters, and misheard coronary vocabulary ("circumflecks",
// "stenosys"). The [CleanupPipeline] applies up to three stages in order:
//
//  1. Local cleanup: filler words and immediate word repetitions are removed.
//  2. Phonetic snapping ([PhoneticMatcher]): misheard words are aligned with
//     the configured vocabulary by pronunciation similarity. Runs in-process
//     with no network calls.
//  3. Language-model refinement: an LLM tidies the text further. When it
//     fails, the raw transcript is returned unchanged.
//
// Each [Correction] records which stage produced a substitution, so callers
// can audit or display what changed.
package transcript

import "context"

// Correction captures a single substitution made by the pipeline.
type Correction struct {
	// Original is the text span as produced by the STT provider.
	Original string

	// Corrected is the replacement. Empty for removals.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0–1.0).
	Confidence float64

	// Method names the stage that produced the substitution:
	//   "filler"   : hesitation filler removed.
	//   "duplicate": immediate word repetition collapsed.
	//   "phonetic" : snapped to a vocabulary term by a [PhoneticMatcher].
	//   "llm"      : rewritten by the language-model pass.
	Method string
}

// Result is the output of [CleanupPipeline.Process].
type Result struct {
	// Raw is the transcript as received.
	Raw string

	// Cleaned is the refined transcript text.
	Cleaned string

	// Corrections is the ordered list of substitutions applied to produce
	// Cleaned.
	Corrections []Correction

	// Fallback is true when the language-model stage failed and Cleaned is
	// the raw transcript.
	Fallback bool
}

// Refiner turns a raw transcript into cleaned note text.
//
// Implementations must be safe for concurrent use. An implementation that
// cannot refine returns the raw transcript; callers treat a non-nil error
// the same way.
type Refiner interface {
	Refine(ctx context.Context, raw string) (string, error)
}

// PhoneticMatcher aligns a spoken phrase with a vocabulary term by
// pronunciation similarity.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the best vocabulary term for phrase. When matched is false
	// corrected equals phrase and confidence is 0.
	Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
