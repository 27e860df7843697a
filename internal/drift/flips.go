package drift

import (
	"hybriddb/internal/domain"
)

// ── Flip patterns ──────────────────────────────────────────
// A field's type sequence records each non-null type change, newest last.
// Consecutive repeats collapse into one entry and nulls never enter, so
// an optional field is not a flipping one.

// SequenceLimit bounds a field's type sequence.
const SequenceLimit = 10

// Flip pattern labels for string/number swaps. Other returns to a
// previous type are labelled "a→b→a" with the tag names.
const (
	PatternStrNumStr = "str→num→str"
	PatternNumStrNum = "num→str→num"
)

// extendSequence appends tag to seq when it is a non-null change and
// keeps at most SequenceLimit entries.
func extendSequence(seq []domain.TypeTag, tag domain.TypeTag) []domain.TypeTag {
	if tag == domain.TypeNull || (len(seq) > 0 && seq[len(seq)-1] == tag) {
		return seq
	}
	seq = append(seq, tag)
	if over := len(seq) - SequenceLimit; over > 0 {
		seq = append(seq[:0:0], seq[over:]...)
	}
	return seq
}

// FlipPatterns scans every consecutive triple of seq for a return to an
// earlier type. Each pattern is reported once, in order of first match.
func FlipPatterns(seq []domain.TypeTag) []string {
	if len(seq) < 3 {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for i := 0; i+2 < len(seq); i++ {
		a, b, c := seq[i], seq[i+1], seq[i+2]
		var p string
		switch {
		case a == domain.TypeString && isNumber(b) && c == domain.TypeString:
			p = PatternStrNumStr
		case isNumber(a) && b == domain.TypeString && isNumber(c):
			p = PatternNumStrNum
		case a == c && a != b:
			p = string(a) + "→" + string(b) + "→" + string(a)
		default:
			continue
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func isNumber(t domain.TypeTag) bool {
	return t == domain.TypeInt || t == domain.TypeFloat
}
