package correction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/angioreview/internal/observe"
	"github.com/MrWong99/angioreview/pkg/provider/llm"
	"github.com/MrWong99/angioreview/pkg/types"
)

const defaultTemperature = 0.2

const systemPrompt = `You assist interventional cardiologists reviewing AI-detected coronary lesions on angiograms.
A cardiologist disagrees with the detector's estimate for one lesion and has written a correction.
Estimate the corrected stenosis from the cardiologist's note.

Interpretation policy:
- "mild" means a blockage below 50%.
- "moderate" means a blockage from 50% to 70%.
- "severe" means a blockage above 70%.
- If the cardiologist states a number, use exactly that number.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"blockagePercentage": <0-100>, "riskLevel": "Low"|"Medium"|"Critical", "confidence": <0-100>, "reasoning": "<one sentence>"}`

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	BlockagePercentage *float64 `json:"blockagePercentage"`
	RiskLevel          string   `json:"riskLevel"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
}

// LLMOption is a functional option for configuring an [LLMAdapter].
type LLMOption func(*LLMAdapter)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(t float64) LLMOption {
	return func(a *LLMAdapter) {
		a.temperature = t
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LLMOption {
	return func(a *LLMAdapter) {
		a.metrics = m
	}
}

// LLMAdapter asks a language model for the corrected assessment. It is safe
// for concurrent use.
type LLMAdapter struct {
	llm         llm.Provider
	temperature float64
	metrics     *observe.Metrics
}

var _ Adapter = (*LLMAdapter)(nil)

// NewLLM returns an [LLMAdapter] backed by provider.
func NewLLM(provider llm.Provider, opts ...LLMOption) *LLMAdapter {
	a := &LLMAdapter{llm: provider, temperature: defaultTemperature}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Correct implements [Adapter]. The model's estimate is clamped into [0,100]
// and then forced to honour the interpretation policy; the risk level is
// re-derived from the final blockage rather than taken from the model.
func (a *LLMAdapter) Correct(ctx context.Context, f types.Finding, note string) (types.FindingUpdate, error) {
	model := a.llm.Model()
	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  a.temperature,
		JSONMode:     true,
		Messages: []types.Message{
			{Role: "user", Content: buildUserPrompt(f, note)},
		},
	})
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, model, "correction", "error")
		a.metrics.RecordProviderError(ctx, model, "correction")
		return Fallback(note), fmt.Errorf("correction: complete: %w", err)
	}
	a.metrics.RecordProviderRequest(ctx, model, "correction", "ok")
	if resp == nil {
		return Fallback(note), ErrUnparseable
	}

	parsed, err := parseResponse(resp.Content)
	if err != nil {
		return Fallback(note), err
	}

	blockage := EnforcePolicy(note, int(math.Round(*parsed.BlockagePercentage)))
	confidence := parsed.Confidence
	if confidence > 0 && confidence <= 1 {
		confidence *= 100
	}
	reasoning := strings.TrimSpace(parsed.Reasoning)
	if reasoning == "" {
		reasoning = normalizeNote(note)
	}

	upd := assessed(blockage, int(math.Round(confidence)), "AI Adjusted: "+reasoning)
	if derived := types.RiskForBlockage(blockage); parsed.RiskLevel != "" && !strings.EqualFold(parsed.RiskLevel, string(derived)) {
		observe.Logger(ctx).Debug("correction: model risk level disagrees with blockage",
			"model_risk", parsed.RiskLevel, "derived_risk", derived, "blockage", blockage)
	}
	observe.Logger(ctx).Debug("correction: assessed",
		"finding_id", f.ID, "blockage", blockage, "model", model, "elapsed", time.Since(start))
	return upd, nil
}

// buildUserPrompt describes the current finding and the clinician's note.
func buildUserPrompt(f types.Finding, note string) string {
	var sb strings.Builder
	sb.WriteString("Current finding:\n")
	fmt.Fprintf(&sb, "- Artery: %s\n", f.ArteryName)
	fmt.Fprintf(&sb, "- Estimated blockage: %d%%\n", f.BlockagePercentage)
	fmt.Fprintf(&sb, "- Detector confidence: %d%%\n\n", f.Confidence)
	fmt.Fprintf(&sb, "Cardiologist's correction: %q", normalizeNote(note))
	return sb.String()
}

// parseResponse decodes the model reply after stripping markdown fences.
func parseResponse(content string) (llmResponse, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(llm.StripMarkdown(content)), &r); err != nil {
		return r, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	if r.BlockagePercentage == nil || math.IsNaN(*r.BlockagePercentage) {
		return r, fmt.Errorf("%w: missing blockagePercentage", ErrUnparseable)
	}
	return r, nil
}
