package matching

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "that": true,
	"this": true, "are": true, "was": true, "were": true, "has": true, "have": true,
	"not": true, "all": true, "any": true, "per": true, "into": true, "onto": true,
	"when": true, "then": true, "than": true, "will": true, "shall": true, "been": true,
	"its": true, "their": true, "which": true, "only": true, "also": true, "such": true,
}

// words lowercases s, splits on anything that is not a letter or digit and
// drops tokens of two characters or fewer.
func words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// keywords is words with stop words removed.
func keywords(s string) []string {
	ws := words(s)
	out := ws[:0]
	for _, w := range ws {
		if !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func uniq(ws []string) map[string]bool {
	m := make(map[string]bool, len(ws))
	for _, w := range ws {
		m[w] = true
	}
	return m
}

// overlap is the number of shared distinct words divided by the larger
// distinct word count of the two inputs.
func overlap(a, b []string) float64 {
	sa, sb := uniq(a), uniq(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	shared := 0
	for w := range sa {
		if sb[w] {
			shared++
		}
	}
	denom := len(sa)
	if len(sb) > denom {
		denom = len(sb)
	}
	return float64(shared) / float64(denom)
}

// codeOverlap is the fraction of mentioned codes present in expandsTo.
func codeOverlap(mentioned, expandsTo []string) float64 {
	if len(mentioned) == 0 {
		return 0
	}
	members := make(map[string]bool, len(expandsTo))
	for _, c := range expandsTo {
		members[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	hit := 0
	for _, c := range mentioned {
		if members[strings.ToUpper(strings.TrimSpace(c))] {
			hit++
		}
	}
	return float64(hit) / float64(len(mentioned))
}
