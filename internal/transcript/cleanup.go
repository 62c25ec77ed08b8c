package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// fillers are single-word hesitations dropped from dictation. "like" is not
// in the list because it carries meaning in clinical sentences.
var fillers = map[string]struct{}{
	"um":  {},
	"umm": {},
	"uh":  {},
	"uhh": {},
	"er":  {},
	"erm": {},
	"hmm": {},
}

// fillerPhrases are multi-word hesitations, matched case-insensitively.
var fillerPhrases = [][]string{
	{"you", "know"},
}

// Cleanup removes hesitation fillers and immediate word repetitions from
// text, returning the cleaned text and one [Correction] per change.
// Sentence punctuation attached to a removed filler moves to the preceding
// word. Repeated numbers are kept: "50 50" may be dictated on purpose.
func Cleanup(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var corrections []Correction

	for i := 0; i < len(tokens); {
		if n := fillerLen(tokens[i:]); n > 0 {
			removed := strings.Join(tokens[i:i+n], " ")
			corrections = append(corrections, Correction{
				Original:   removed,
				Confidence: 1,
				Method:     "filler",
			})
			if trail := sentencePunct(tokens[i+n-1]); trail != "" && len(out) > 0 {
				last := out[len(out)-1]
				if last == strings.TrimRight(last, ".,;:!?") {
					out[len(out)-1] = last + trail
				}
			}
			i += n
			continue
		}

		tok := tokens[i]
		if len(out) > 0 {
			prev := out[len(out)-1]
			c := core(tok)
			if c != "" && !isNumeric(c) && c == core(prev) && prev == strings.TrimRight(prev, ".,;:!?") {
				_, _, trail := splitAffixes(tok)
				corrections = append(corrections, Correction{
					Original:   prev + " " + tok,
					Corrected:  prev + trail,
					Confidence: 1,
					Method:     "duplicate",
				})
				out[len(out)-1] = prev + trail
				i++
				continue
			}
		}
		out = append(out, tok)
		i++
	}

	return strings.Join(out, " "), corrections
}

// fillerLen returns how many leading tokens form a filler, or 0.
func fillerLen(tokens []string) int {
	if _, ok := fillers[core(tokens[0])]; ok {
		return 1
	}
phrases:
	for _, phrase := range fillerPhrases {
		if len(tokens) < len(phrase) {
			continue
		}
		for j, w := range phrase {
			if core(tokens[j]) != w {
				continue phrases
			}
			// Only the last word of the phrase may carry punctuation.
			if j < len(phrase)-1 && tokens[j] != strings.TrimRight(tokens[j], ".,;:!?") {
				continue phrases
			}
		}
		return len(phrase)
	}
	return 0
}

// core lowercases tok and strips surrounding punctuation.
func core(tok string) string {
	return strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// sentencePunct returns the trailing sentence-ending punctuation of tok.
func sentencePunct(tok string) string {
	trimmed := strings.TrimRight(tok, ".!?")
	return tok[len(trimmed):]
}

// isNumeric reports whether s consists of digits with at most one decimal
// point.
func isNumeric(s string) bool {
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !dot && i > 0:
			dot = true
		default:
			return false
		}
	}
	return s != ""
}

// splitAffixes separates tok into leading punctuation, word core (original
// case), and trailing punctuation.
func splitAffixes(tok string) (lead, word, trail string) {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	start := strings.IndexFunc(tok, isWord)
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, isWord)
	_, size := utf8.DecodeRuneInString(tok[end:])
	end += size
	return tok[:start], tok[start:end], tok[end:]
}
