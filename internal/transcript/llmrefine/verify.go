package llmrefine

import (
	"slices"
	"strings"
	"unicode"
)

// indexPair maps a token index in the original sequence to the corresponding
// index in the refined sequence.
type indexPair struct {
	origIdx int
	corrIdx int
}

// changeSpan is a contiguous region that differs between the original and
// refined token sequences.
type changeSpan struct {
	origTokens []string
	corrTokens []string
}

// tokenLCS computes the longest common subsequence of two token slices and
// returns anchor pairs (indices into a and b) for the common tokens in order.
// Standard O(m×n) DP; dictated notes are short.
func tokenLCS(a, b []string) []indexPair {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcsLen := dp[m][n]
	if lcsLen == 0 {
		return nil
	}

	anchors := make([]indexPair, lcsLen)
	i, j, k := m, n, lcsLen-1
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			anchors[k] = indexPair{origIdx: i - 1, corrIdx: j - 1}
			i--
			j--
			k--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}

// segment is either an anchored (unchanged) token or a change span.
type segment struct {
	anchor string
	span   *changeSpan
}

// segments interleaves anchors and change spans in document order.
func segments(orig, corr []string, anchors []indexPair) []segment {
	var out []segment
	oi, ci := 0, 0
	for _, a := range anchors {
		if oi < a.origIdx || ci < a.corrIdx {
			out = append(out, segment{span: &changeSpan{
				origTokens: orig[oi:a.origIdx],
				corrTokens: corr[ci:a.corrIdx],
			}})
		}
		out = append(out, segment{anchor: orig[a.origIdx]})
		oi = a.origIdx + 1
		ci = a.corrIdx + 1
	}
	if oi < len(orig) || ci < len(corr) {
		out = append(out, segment{span: &changeSpan{
			origTokens: orig[oi:],
			corrTokens: corr[ci:],
		}})
	}
	return out
}

// numbersIn returns the numeric tokens of tokens with surrounding
// punctuation stripped, in order.
func numbersIn(tokens []string) []string {
	var nums []string
	for _, t := range tokens {
		if strings.IndexFunc(t, unicode.IsDigit) < 0 {
			continue
		}
		nums = append(nums, strings.TrimFunc(t, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
	}
	return nums
}

// verifyRefinedText accepts every rewritten span of refined that leaves the
// numbers of the original span intact and reverts the others. Returns the
// verified text and one [Correction] per accepted span.
func verifyRefinedText(original, refined string) (string, []Correction) {
	if original == refined {
		return original, nil
	}

	origTokens := strings.Fields(original)
	corrTokens := strings.Fields(refined)

	var result []string
	var accepted []Correction
	for _, seg := range segments(origTokens, corrTokens, tokenLCS(origTokens, corrTokens)) {
		if seg.span == nil {
			result = append(result, seg.anchor)
			continue
		}
		if !slices.Equal(numbersIn(seg.span.origTokens), numbersIn(seg.span.corrTokens)) {
			result = append(result, seg.span.origTokens...)
			continue
		}
		result = append(result, seg.span.corrTokens...)
		accepted = append(accepted, Correction{
			Original:   strings.Join(seg.span.origTokens, " "),
			Corrected:  strings.Join(seg.span.corrTokens, " "),
			Confidence: spanConfidence,
		})
	}
	return strings.Join(result, " "), accepted
}
