// Package correction implements the AI correction adapter: it maps a
// clinician's free-text note about a finding onto a structured finding
// update.
//
// Two adapters are provided. [LLMAdapter] asks a language model for a new
// blockage estimate and then enforces the interpretation policy on whatever
// the model returns. [RulesAdapter] applies the same policy deterministically
// and needs no network. Both resolve failures to [Fallback], which records
// the clinician's note verbatim and changes nothing else.
//
// Interpretation policy: "mild" means below 50%, "moderate" 50–70%, "severe"
// above 70%. An explicit percentage in the note overrides qualitative
// language.
package correction

import (
	"context"
	"errors"

	"github.com/MrWong99/angioreview/pkg/types"
)

var (
	// ErrUnparseable is returned when the model reply is not the expected
	// JSON object.
	ErrUnparseable = errors.New("correction: unparseable model response")

	// ErrNoAssessment is returned by [RulesAdapter] when the note names
	// neither a percentage nor a severity.
	ErrNoAssessment = errors.New("correction: note carries no assessment")
)

// Adapter maps a clinician note onto a finding update.
//
// On error, implementations return [Fallback] of the note alongside the
// error, so callers may apply the update either way. Implementations must be
// safe for concurrent use.
type Adapter interface {
	Correct(ctx context.Context, finding types.Finding, note string) (types.FindingUpdate, error)
}

// Fallback is the degraded update applied when an adapter fails: the note is
// stored verbatim and no measurement changes.
func Fallback(note string) types.FindingUpdate {
	return types.FindingUpdate{Notes: types.Ptr(note)}
}

// assessed builds the update for a policy-checked blockage.
func assessed(blockage, confidence int, notes string) types.FindingUpdate {
	blockage = types.ClampPercent(blockage)
	return types.FindingUpdate{
		BlockagePercentage: types.Ptr(blockage),
		Confidence:         types.Ptr(types.ClampPercent(confidence)),
		Flagged:            types.Ptr(types.RiskForBlockage(blockage) == types.RiskCritical),
		Notes:              types.Ptr(notes),
	}
}
