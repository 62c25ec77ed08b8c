// Package phonetic snaps misheard dictation onto a known clinical vocabulary
// using Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the spoken phrase and for each vocabulary term. If any code
//     overlaps, the term becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest similarity (case-insensitive) wins, provided its score reaches
//     the phonetic threshold. When no phonetic candidate exists, a term may
//     still win on pure Jaro-Winkler similarity above the stricter fuzzy
//     threshold.
//
// A phrase is only ever compared with terms of the same word count. A
// one-word phrase never expands into "left anterior descending", and a
// two-word phrase never collapses into "LAD". A phrase that merely extends a
// term, such as "proximally" or "stents", is left alone.
package phonetic

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.95
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.95.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches spoken phrases against vocabulary terms. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is one precomputed vocabulary entry.
type term struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Vocabulary is a precomputed set of terms. Build it once with [Prepare] and
// reuse it across matches.
type Vocabulary struct {
	terms  []term
	counts []int
}

// Prepare precomputes phonetic codes for every non-blank term.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]term, 0, len(terms))}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			canonical: strings.TrimSpace(t),
			lower:     strings.Join(tokens, " "),
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		if !slices.Contains(v.counts, len(tokens)) {
			v.counts = append(v.counts, len(tokens))
		}
	}
	slices.Sort(v.counts)
	slices.Reverse(v.counts)
	return v
}

// WordCounts returns the distinct term lengths in words, longest first.
func (v *Vocabulary) WordCounts() []int { return v.counts }

// Len returns the number of usable terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Match attempts to find the term from terms that is most phonetically
// similar to phrase. When matched is false, corrected equals phrase unchanged
// and confidence is 0.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(phrase, Prepare(terms))
}

// MatchPrepared is [Matcher.Match] against a precomputed [Vocabulary].
func (m *Matcher) MatchPrepared(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	tokens := strings.Fields(strings.ToLower(phrase))
	full := strings.Join(tokens, " ")
	inputCodes := codesForTokens(tokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, t := range v.terms {
		if len(t.tokens) != len(tokens) || (full != t.lower && strings.HasPrefix(full, t.lower)) {
			continue
		}
		score := similarity(tokens, t.tokens, full, t.lower)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{term: t.canonical, score: score, phonetic: true}
			}
		} else if !best.phonetic && score >= m.fuzzyThreshold && score > best.score {
			best = candidate{term: t.canonical, score: score}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return phrase, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity scores two phrases of equal word count: the larger of the
// full-string Jaro-Winkler score and the mean per-word score. The per-word
// mean keeps one badly misheard word in a long term from sinking the match.
func similarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)
	if len(inputTokens) > 1 {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		if mean := sum / float64(len(inputTokens)); mean > score {
			score = mean
		}
	}
	return score
}
