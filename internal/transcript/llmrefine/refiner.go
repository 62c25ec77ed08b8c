// Package llmrefine implements the language-model stage of the dictation
// refinement pipeline.
//
// The [Refiner] sends the locally cleaned transcript to an [llm.Provider]
// with the clinical vocabulary as context. The model is instructed to fix
// grammar and punctuation, remove remaining verbal clutter, and correct
// misheard vessel and lesion terms, and to reply with a small JSON object.
//
// Numbers in dictation are clinically load-bearing ("70 percent", "140 over
// 90"). Every rewritten span is therefore diffed against the input, and spans
// in which the model altered, added, or dropped a number are reverted to the
// dictated words.
package llmrefine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/angioreview/pkg/provider/llm"
	"github.com/MrWong99/angioreview/pkg/types"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 512

	// spanConfidence is reported for every accepted model rewrite. The model
	// does not score its own edits.
	spanConfidence = 0.7
)

// ErrEmptyResponse is returned when the model replies without usable text.
var ErrEmptyResponse = errors.New("llmrefine: empty response")

// systemPromptTemplate is the base system prompt. The vocabulary list is
// appended at call time.
const systemPromptTemplate = `You clean up dictated notes from an interventional cardiologist reviewing a coronary angiogram.

Rules:
- Fix grammar, punctuation, and capitalisation.
- Remove hesitations, false starts, and repeated words.
- Correct words that are clearly misheard versions of the clinical terms listed below.
- NEVER change, add, or remove numbers, percentages, or measurements.
- Do NOT add findings, interpretation, or advice that were not dictated.
- Keep the clinician's wording wherever it is already correct.

Clinical terms:
%s
Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"cleaned_transcript": "<cleaned note text>"}`

// Correction captures one span rewritten by the model. The pipeline maps
// these onto transcript corrections with method "llm".
type Correction struct {
	// Original is the dictated span.
	Original string

	// Corrected is the model's replacement. Empty for removals.
	Corrected string

	// Confidence is the confidence assigned to the rewrite (0.0–1.0).
	Confidence float64
}

// llmResponse is the expected JSON structure returned by the LLM.
type llmResponse struct {
	CleanedTranscript string `json:"cleaned_transcript"`
}

// Option is a functional option for configuring a [Refiner].
type Option func(*Refiner)

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(r *Refiner) {
		r.temperature = temp
	}
}

// WithMaxTokens caps the length of the model reply. Default: 512.
func WithMaxTokens(n int) Option {
	return func(r *Refiner) {
		r.maxTokens = n
	}
}

// Refiner uses an [llm.Provider] to refine dictated transcript text. It is
// safe for concurrent use.
type Refiner struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns a new [Refiner] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Refiner {
	r := &Refiner{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Model returns the model identifier of the backing provider.
func (r *Refiner) Model() string { return r.llm.Model() }

// Refine asks the model to clean text and returns the verified result with
// one [Correction] per accepted rewrite.
//
// Any failure (provider error, unparseable or empty reply) is returned as an
// error; the caller decides the fallback.
func (r *Refiner) Refine(ctx context.Context, text string, vocabulary []string) (string, []Correction, error) {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		JSONMode:     true,
		Messages: []types.Message{
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llmrefine: complete: %w", err)
	}
	if resp == nil {
		return text, nil, ErrEmptyResponse
	}

	cleaned, err := parseResponse(resp.Content)
	if err != nil {
		return text, nil, err
	}

	verified, corrections := verifyRefinedText(text, cleaned)
	return verified, corrections, nil
}

// buildSystemPrompt formats the system prompt template with the vocabulary.
func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse unmarshals the LLM output after stripping markdown fences.
func parseResponse(content string) (string, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(llm.StripMarkdown(content)), &r); err != nil {
		return "", fmt.Errorf("llmrefine: parse response: %w", err)
	}
	cleaned := strings.TrimSpace(r.CleanedTranscript)
	if cleaned == "" {
		return "", ErrEmptyResponse
	}
	return cleaned, nil
}
