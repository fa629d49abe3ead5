package rule

import (
	"strings"

	"github.com/sopkit/sopkit/internal/domain/lookup"
)

// References lists the vocabulary tags a rule's structured fields point at.
// Tags mentioned only in the description are not counted.
func References(c Candidate) []lookup.Ref {
	var out []lookup.Ref
	seen := make(map[lookup.Ref]bool)
	add := func(kind lookup.Kind, tag string) {
		ref := lookup.Ref{Kind: kind, Tag: tag}
		if tag != "" && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	if code := strings.TrimSpace(c.Code); strings.HasPrefix(code, "@") {
		add(lookup.KindCodeGroup, code)
	}
	add(lookup.KindCodeGroup, strings.TrimSpace(c.CodeGroup))
	for _, p := range SplitList(c.PayerGroup) {
		if strings.HasPrefix(p, "@") {
			add(lookup.KindPayerGroup, p)
		}
	}
	for _, p := range SplitList(c.ProviderGroup) {
		if strings.HasPrefix(p, "@") {
			add(lookup.KindProviderGroup, p)
		}
	}
	for _, t := range ActionTags(c.Action) {
		add(lookup.KindActionTag, t)
	}
	add(lookup.KindChartSection, strings.TrimSpace(c.ChartSection))
	return out
}
