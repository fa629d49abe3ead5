package conflict

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sopkit/sopkit/internal/domain/rule"
)

const (
	allPayers    = "ALL_PAYERS"
	allProviders = "ALL_PROVIDERS"
)

// exclusiveActions cannot both apply to the same code.
var exclusiveActions = map[string]bool{"deny": true, "approve": true, "require_prior_auth": true}

// Analyze scans rules for duplicates, contradictions and overlaps. Rejected
// rules are ignored. The passes are independent, so a pair of rules can appear
// in several conflicts. Results are ordered high to low severity, keeping
// pass order within a severity.
func Analyze(rules []*rule.Rule) []Conflict {
	var live []*rule.Rule
	for _, r := range rules {
		if r.Status != rule.StatusRejected && strings.TrimSpace(r.Code) != "" {
			live = append(live, r)
		}
	}

	var out []Conflict
	out = append(out, duplicates(live)...)
	out = append(out, contradictions(live)...)
	out = append(out, overlaps(live)...)
	out = append(out, shadows(live)...)
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank[out[i].Severity] < severityRank[out[j].Severity]
	})
	if out == nil {
		out = []Conflict{}
	}
	return out
}

func newConflict(t Type, sev Severity, ids []string, desc, suggestion string) Conflict {
	return anchoredConflict(t, sev, "", ids, desc, suggestion)
}

// anchoredConflict mixes anchor into the id so conflicts over the same rules
// from different points of view stay distinct.
func anchoredConflict(t Type, sev Severity, anchor string, ids []string, desc, suggestion string) Conflict {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	key := string(sev) + ":" + strings.Join(sorted, ",")
	if anchor != "" {
		key += "@" + anchor
	}
	sum := sha1.Sum([]byte(key))
	return Conflict{
		ID:              fmt.Sprintf("%s-%s", t, hex.EncodeToString(sum[:])[:12]),
		Type:            t,
		Severity:        sev,
		AffectedRuleIDs: ids,
		Description:     desc,
		Suggestion:      suggestion,
	}
}

func code(r *rule.Rule) string { return strings.TrimSpace(r.Code) }

// actionKey compares actions ignoring case and spacing.
func actionKey(r *rule.Rule) string {
	return strings.ToLower(strings.Join(strings.Fields(r.Action), " "))
}

func sortedList(s string) string {
	parts := rule.SplitList(s)
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func hasEntry(list, entry string) bool {
	for _, p := range rule.SplitList(list) {
		if p == entry {
			return true
		}
	}
	return false
}

func isBroad(r *rule.Rule) bool {
	return hasEntry(r.PayerGroup, allPayers) || hasEntry(r.ProviderGroup, allProviders)
}

// payersIntersect treats ALL_PAYERS as intersecting every list.
func payersIntersect(a, b string) bool {
	pa, pb := rule.SplitList(a), rule.SplitList(b)
	set := make(map[string]bool, len(pa))
	for _, p := range pa {
		if p == allPayers {
			return true
		}
		set[p] = true
	}
	for _, p := range pb {
		if p == allPayers || set[p] {
			return true
		}
	}
	return false
}

func ids(rules []*rule.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.RuleID
	}
	return out
}

func duplicates(rules []*rule.Rule) []Conflict {
	var order []string
	groups := make(map[string][]*rule.Rule)
	for _, r := range rules {
		key := strings.Join([]string{code(r), actionKey(r), sortedList(r.PayerGroup), sortedList(r.ProviderGroup)}, "\x00")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	var out []Conflict
	for _, key := range order {
		g := groups[key]
		if len(g) < 2 {
			continue
		}
		out = append(out, newConflict(TypeDuplicate, SeverityHigh, ids(g),
			fmt.Sprintf("Rules %s have the same code %s, action, payers and providers", strings.Join(ids(g), ", "), code(g[0])),
			"Keep one of the rules and delete the others",
		))
	}
	return out
}

func byCode(rules []*rule.Rule) ([]string, map[string][]*rule.Rule) {
	var order []string
	groups := make(map[string][]*rule.Rule)
	for _, r := range rules {
		c := code(r)
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], r)
	}
	return order, groups
}

func contradictions(rules []*rule.Rule) []Conflict {
	order, groups := byCode(rules)
	var out []Conflict
	for _, c := range order {
		var actions []string
		byAction := make(map[string][]*rule.Rule)
		for _, r := range groups[c] {
			a := rule.NormalizeAction(r.Action)
			if _, ok := byAction[a]; !ok {
				actions = append(actions, a)
			}
			byAction[a] = append(byAction[a], r)
		}
		if len(actions) < 2 {
			continue
		}
		var exclusive []string
		for _, a := range actions {
			if exclusiveActions[a] {
				exclusive = append(exclusive, a)
			}
		}
		if len(exclusive) < 2 {
			continue
		}
		var affected []*rule.Rule
		for _, a := range exclusive {
			affected = append(affected, byAction[a]...)
		}
		out = append(out, newConflict(TypeContradiction, SeverityHigh, ids(affected),
			fmt.Sprintf("Code %s has mutually exclusive actions: %s", c, strings.Join(exclusive, ", ")),
			"Decide which action applies to the code or narrow the payer groups",
		))
	}
	return out
}

func overlaps(rules []*rule.Rule) []Conflict {
	var out []Conflict
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.RuleID == b.RuleID || code(a) != code(b) {
				continue
			}
			if actionKey(a) == actionKey(b) || !payersIntersect(a.PayerGroup, b.PayerGroup) {
				continue
			}
			out = append(out, newConflict(TypeOverlap, SeverityMedium, []string{a.RuleID, b.RuleID},
				fmt.Sprintf("Rules %s and %s both apply to code %s for overlapping payers with different actions", a.RuleID, b.RuleID, code(a)),
				"Merge the rules or narrow their payer groups",
			))
		}
	}
	return out
}

func shadows(rules []*rule.Rule) []Conflict {
	var out []Conflict
	for _, broad := range rules {
		if !isBroad(broad) {
			continue
		}
		affected := []*rule.Rule{broad}
		for _, r := range rules {
			if r == broad || code(r) != code(broad) || hasEntry(r.PayerGroup, allPayers) {
				continue
			}
			if actionKey(r) != actionKey(broad) {
				affected = append(affected, r)
			}
		}
		if len(affected) < 2 {
			continue
		}
		out = append(out, anchoredConflict(TypeOverlap, SeverityLow, broad.RuleID, ids(affected),
			fmt.Sprintf("Broad rule %s on code %s is shadowed by specific rules %s", broad.RuleID, code(broad), strings.Join(ids(affected[1:]), ", ")),
			"Confirm the specific rules are intended exceptions to the broad rule",
		))
	}
	return out
}

// Summarize counts conflicts.
func Summarize(conflicts []Conflict) Summary {
	s := Summary{Total: len(conflicts), ByType: map[Type]int{}}
	for _, c := range conflicts {
		switch c.Severity {
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
		s.ByType[c.Type]++
	}
	return s
}

// Fingerprint hashes the content of a rule set independent of its order.
func Fingerprint(rules []*rule.Rule) string {
	sorted := append([]*rule.Rule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RuleID < sorted[j].RuleID })
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, r := range sorted {
		enc.Encode(struct {
			rule.Candidate
			Status rule.Status `json:"status"`
		}{r.Candidate, r.Status})
	}
	return hex.EncodeToString(h.Sum(nil))
}
