// Package matching resolves free-text document fragments to canonical lookup
// tags. Resolution is tiered: EXACT, SEMANTIC, KEYWORD, then CODE_OVERLAP for
// code groups. The first tier that qualifies wins even when a later tier
// would score higher.
package matching

import (
	"strings"

	"github.com/sopkit/sopkit/internal/domain/lookup"
)

// MatchType names the tier that produced a match.
type MatchType string

const (
	MatchExact       MatchType = "EXACT"
	MatchSemantic    MatchType = "SEMANTIC"
	MatchKeyword     MatchType = "KEYWORD"
	MatchCodeOverlap MatchType = "CODE_OVERLAP"
	MatchNone        MatchType = "NONE"
)

// synonymConfidence is reported for action tags resolved through the synonym table.
const synonymConfidence = 0.9

// Result is the outcome of a match. A failed match is a value, not an error.
type Result struct {
	Matched       bool      `json:"matched"`
	Tag           string    `json:"tag,omitempty"`
	MatchType     MatchType `json:"match_type"`
	Confidence    float64   `json:"confidence"`
	ExpandedCodes []string  `json:"expanded_codes,omitempty"`
}

// Trusted reports whether the match came from a high-precision tier.
// KEYWORD and CODE_OVERLAP matches need human confirmation.
func (r Result) Trusted() bool {
	return r.Matched && (r.MatchType == MatchExact || r.MatchType == MatchSemantic)
}

func noMatch() Result {
	return Result{Matched: false, MatchType: MatchNone, Confidence: 0}
}

// Thresholds are the strict lower bounds (score must exceed them) per tier.
type Thresholds struct {
	Semantic    float64 `json:"semantic"`
	Keyword     float64 `json:"keyword"`
	CodeOverlap float64 `json:"code_overlap"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Semantic: 0.85, Keyword: 0.6, CodeOverlap: 0.5}
}

// Matcher resolves text against the lookup repository.
type Matcher struct {
	repo lookup.Repository
	th   Thresholds
}

// NewMatcher creates a matcher. Zero-valued thresholds fall back to the defaults.
func NewMatcher(repo lookup.Repository, th Thresholds) *Matcher {
	def := DefaultThresholds()
	if th.Semantic <= 0 {
		th.Semantic = def.Semantic
	}
	if th.Keyword <= 0 {
		th.Keyword = def.Keyword
	}
	if th.CodeOverlap <= 0 {
		th.CodeOverlap = def.CodeOverlap
	}
	return &Matcher{repo: repo, th: th}
}

// Thresholds returns the matcher's effective thresholds.
func (m *Matcher) Thresholds() Thresholds { return m.th }

// MatchCodeGroup resolves text, then mentionedCodes, to a code group.
func (m *Matcher) MatchCodeGroup(text string, mentionedCodes []string) Result {
	return m.match(lookup.KindCodeGroup, text, mentionedCodes)
}

func (m *Matcher) MatchPayerGroup(text string) Result {
	return m.match(lookup.KindPayerGroup, text, nil)
}

func (m *Matcher) MatchProviderGroup(text string) Result {
	return m.match(lookup.KindProviderGroup, text, nil)
}

// MatchActionTag resolves text to an action tag, consulting the verb
// synonym table when no text tier qualifies.
func (m *Matcher) MatchActionTag(text string) Result {
	return m.match(lookup.KindActionTag, text, nil)
}

// Match dispatches on kind.
func (m *Matcher) Match(kind lookup.Kind, text string, mentionedCodes []string) Result {
	if kind != lookup.KindCodeGroup {
		mentionedCodes = nil
	}
	return m.match(kind, text, mentionedCodes)
}

func (m *Matcher) match(kind lookup.Kind, text string, codes []string) Result {
	var cands []*lookup.Tag
	for _, t := range lookup.Freeze(m.repo).List(kind) {
		if t.Status != lookup.StatusDeprecated {
			cands = append(cands, t)
		}
	}
	if len(cands) == 0 {
		return noMatch()
	}

	text = strings.TrimSpace(text)
	if text != "" {
		if t := exact(cands, text); t != nil {
			return hit(t, MatchExact, 1.0)
		}

		in := words(text)
		if t, score := best(cands, m.th.Semantic, func(t *lookup.Tag) float64 {
			return bestTextScore(t, func(s string) float64 { return overlap(in, words(s)) })
		}); t != nil {
			return hit(t, MatchSemantic, score)
		}

		kin := keywords(text)
		if t, score := best(cands, m.th.Keyword, func(t *lookup.Tag) float64 {
			return bestTextScore(t, func(s string) float64 { return overlap(kin, keywords(s)) })
		}); t != nil {
			return hit(t, MatchKeyword, score)
		}
	}

	if kind == lookup.KindCodeGroup && len(codes) > 0 {
		if t, score := best(cands, m.th.CodeOverlap, func(t *lookup.Tag) float64 {
			return codeOverlap(codes, t.ExpandsTo)
		}); t != nil {
			return hit(t, MatchCodeOverlap, score)
		}
	}

	if kind == lookup.KindActionTag && text != "" {
		if verb, ok := canonicalVerb(text); ok {
			for _, t := range cands {
				if strings.EqualFold(t.Bare(), verb) {
					return hit(t, MatchSemantic, synonymConfidence)
				}
			}
		}
	}

	return noMatch()
}

func exact(cands []*lookup.Tag, text string) *lookup.Tag {
	for _, t := range cands {
		for _, s := range t.Texts() {
			if strings.EqualFold(s, text) {
				return t
			}
		}
		if strings.EqualFold(t.Tag, text) || strings.EqualFold(t.Bare(), text) {
			return t
		}
	}
	return nil
}

func bestTextScore(t *lookup.Tag, score func(string) float64) float64 {
	var top float64
	for _, s := range t.Texts() {
		if v := score(s); v > top {
			top = v
		}
	}
	return top
}

// best returns the highest-scoring candidate above threshold. Ties keep the
// earlier candidate in registry order.
func best(cands []*lookup.Tag, threshold float64, score func(*lookup.Tag) float64) (*lookup.Tag, float64) {
	var winner *lookup.Tag
	var top float64
	for _, t := range cands {
		s := score(t)
		if s > threshold && s > top {
			winner, top = t, s
		}
	}
	return winner, top
}

func hit(t *lookup.Tag, mt MatchType, confidence float64) Result {
	r := Result{Matched: true, Tag: t.Tag, MatchType: mt, Confidence: confidence}
	if t.Kind == lookup.KindCodeGroup && len(t.ExpandsTo) > 0 {
		r.ExpandedCodes = append([]string(nil), t.ExpandsTo...)
	}
	return r
}
