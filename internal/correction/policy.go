package correction

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/angioreview/pkg/types"
)

// Band is a qualitative severity named in a clinician's note.
type Band int

const (
	BandNone Band = iota
	BandMild
	BandModerate
	BandSevere
)

// String returns the lower-case band name.
func (b Band) String() string {
	switch b {
	case BandMild:
		return "mild"
	case BandModerate:
		return "moderate"
	case BandSevere:
		return "severe"
	}
	return "none"
}

// Contains reports whether pct lies inside the band. Bands follow the
// significance threshold: mild < 50, moderate 50–70, severe > 70.
func (b Band) Contains(pct int) bool {
	switch b {
	case BandMild:
		return pct < types.ModerateBlockage
	case BandModerate:
		return pct >= types.ModerateBlockage && pct <= types.SignificantBlockage
	case BandSevere:
		return pct > types.SignificantBlockage
	}
	return true
}

// Clamp moves pct to the nearest value inside the band.
func (b Band) Clamp(pct int) int {
	switch b {
	case BandMild:
		return min(pct, types.ModerateBlockage-1)
	case BandModerate:
		return min(max(pct, types.ModerateBlockage), types.SignificantBlockage)
	case BandSevere:
		return max(pct, types.SignificantBlockage+1)
	}
	return pct
}

// Representative is the blockage used when a band is named and the current
// value lies outside it.
func (b Band) Representative() int {
	switch b {
	case BandMild:
		return 35
	case BandModerate:
		return 60
	case BandSevere:
		return 85
	}
	return 0
}

var (
	severeWords   = regexp.MustCompile(`(?i)\b(severe|severely|critical|critically|tight|subtotal|sub-total|totally occluded|total occlusion|occluded)\b`)
	moderateWords = regexp.MustCompile(`(?i)\b(moderate|moderately|intermediate)\b`)
	mildWords     = regexp.MustCompile(`(?i)\b(mild|mildly|minimal|minor|trivial|insignificant|non-significant|nonsignificant)\b`)

	// negatedTail matches a negation at most two words before the end of a
	// clause prefix: "no", "not", "without", "no evidence of".
	negatedTail = regexp.MustCompile(`(?i)\b(no|not|without|never|rather than|ruled out|rule out)\b(\s+[\w-]+){0,2}\s*$`)

	percentPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*(?:%|percent\b|per\s+cent\b)`)
	bareNumber     = regexp.MustCompile(`^\s*(\d{1,3}(?:\.\d+)?)\s*$`)
)

// Severity returns the most severe band named in note, or BandNone.
// Negated mentions do not count: "no severe stenosis, mild plaque" is mild.
func Severity(note string) Band {
	for _, b := range []struct {
		band  Band
		words *regexp.Regexp
	}{
		{BandSevere, severeWords},
		{BandModerate, moderateWords},
		{BandMild, mildWords},
	} {
		for _, m := range b.words.FindAllStringIndex(note, -1) {
			if !negated(note[:m[0]]) {
				return b.band
			}
		}
	}
	return BandNone
}

// negated reports whether the clause ending at prefix negates the word that
// follows it.
func negated(prefix string) bool {
	if i := strings.LastIndexAny(prefix, ",;.:"); i >= 0 {
		prefix = prefix[i+1:]
	}
	return negatedTail.MatchString(prefix)
}

// ExtractPercentage returns the first explicit blockage percentage in note
// ("80%", "80 percent", "80 per cent"), or the value of a note that is only a
// number. Values are rounded and clamped into [0,100].
func ExtractPercentage(note string) (int, bool) {
	m := percentPattern.FindStringSubmatch(note)
	if m == nil {
		m = bareNumber.FindStringSubmatch(note)
	}
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return types.ClampPercent(int(v + 0.5)), true
}

// EnforcePolicy applies the interpretation policy to a proposed blockage: an
// explicit percentage in note wins; otherwise the value is clamped into the
// band the note names. Notes naming neither leave pct unchanged.
func EnforcePolicy(note string, pct int) int {
	if explicit, ok := ExtractPercentage(note); ok {
		return explicit
	}
	return Severity(note).Clamp(types.ClampPercent(pct))
}

// normalizeNote collapses whitespace for prompts and log lines.
func normalizeNote(note string) string {
	return strings.Join(strings.Fields(note), " ")
}
