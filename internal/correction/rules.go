package correction

import (
	"context"

	"github.com/MrWong99/angioreview/pkg/types"
)

const (
	explicitConfidence    = 99
	qualitativeConfidence = 90
)

// RulesAdapter applies the interpretation policy without a language model.
// An explicit percentage is taken as is; a named severity keeps the current
// blockage when it already lies inside the band and otherwise uses the band's
// representative value. The note is stored verbatim.
type RulesAdapter struct{}

var _ Adapter = RulesAdapter{}

// Correct implements [Adapter].
func (RulesAdapter) Correct(_ context.Context, f types.Finding, note string) (types.FindingUpdate, error) {
	if pct, ok := ExtractPercentage(note); ok {
		return assessed(pct, explicitConfidence, note), nil
	}
	band := Severity(note)
	if band == BandNone {
		return Fallback(note), ErrNoAssessment
	}
	pct := f.BlockagePercentage
	if !band.Contains(pct) {
		pct = band.Representative()
	}
	return assessed(pct, qualitativeConfidence, note), nil
}
