package rule

import (
	"regexp"
	"strings"

	"github.com/sopkit/sopkit/internal/domain/lookup"
	"github.com/sopkit/sopkit/internal/domain/matching"
)

var wildcardPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Resolution records a free-text group entry replaced by a matched tag.
type Resolution struct {
	RuleID     string             `json:"rule_id"`
	Field      string             `json:"field"`
	Text       string             `json:"text"`
	Tag        string             `json:"tag"`
	MatchType  matching.MatchType `json:"match_type"`
	Confidence float64            `json:"confidence"`
	Trusted    bool               `json:"trusted"`
}

// resolveFreeText replaces prose payer and provider entries (e.g. "Blue
// Cross Blue Shield") with the tags the matcher resolves them to. Tag
// entries and upper-case wildcards such as ALL_PAYERS are left alone.
func resolveFreeText(m *matching.Matcher, c Candidate) (Candidate, []Resolution) {
	var out []Resolution
	fields := []struct {
		name  string
		kind  lookup.Kind
		value *string
	}{
		{"payer_group", lookup.KindPayerGroup, &c.PayerGroup},
		{"provider_group", lookup.KindProviderGroup, &c.ProviderGroup},
	}
	for _, f := range fields {
		entries := SplitList(*f.value)
		changed := false
		for i, e := range entries {
			if strings.HasPrefix(e, "@") || wildcardPattern.MatchString(e) {
				continue
			}
			res := m.Match(f.kind, e, nil)
			if !res.Matched {
				continue
			}
			entries[i] = res.Tag
			changed = true
			out = append(out, Resolution{
				RuleID:     c.RuleID,
				Field:      f.name,
				Text:       e,
				Tag:        res.Tag,
				MatchType:  res.MatchType,
				Confidence: res.Confidence,
				Trusted:    res.Trusted(),
			})
		}
		if changed {
			*f.value = strings.Join(entries, "|")
		}
	}
	return c, out
}
