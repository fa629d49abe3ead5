package rule

import (
	"fmt"
	"strings"

	"github.com/sopkit/sopkit/internal/domain/lookup"
)

// minInferenceConfidence is the lowest partial-match fraction accepted.
const minInferenceConfidence = 0.5

// Inference is the code group inferred for a list of literal codes.
// CodeGroup is empty when nothing qualified.
type Inference struct {
	CodeGroup     string   `json:"code_group"`
	ExpandedCodes []string `json:"expanded_codes"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
}

// Matched reports whether a group was inferred.
func (i Inference) Matched() bool { return i.CodeGroup != "" }

// Inferencer maps literal codes back to the registered code groups.
type Inferencer struct {
	repo lookup.Repository
}

func NewInferencer(repo lookup.Repository) *Inferencer {
	return &Inferencer{repo: repo}
}

// AutoPopulateCodeGroup infers the code group for codes. The first group
// containing every code wins outright; otherwise the group with the highest
// fraction of the codes wins if that fraction is at least 0.5.
func (in *Inferencer) AutoPopulateCodeGroup(codes []string) Inference {
	return infer(lookup.Freeze(in.repo), codes)
}

func infer(repo lookup.Repository, codes []string) Inference {
	var literal []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || strings.HasPrefix(c, "@") {
			continue
		}
		literal = append(literal, c)
	}
	if len(literal) == 0 {
		return Inference{ExpandedCodes: []string{}, Reason: "no literal codes to infer from"}
	}

	var best *lookup.Tag
	var bestFraction float64
	for _, g := range repo.List(lookup.KindCodeGroup) {
		if g.Status == lookup.StatusDeprecated || len(g.ExpandsTo) == 0 {
			continue
		}
		members := codeSet(g.ExpandsTo)
		matched := 0
		for _, c := range literal {
			if members[strings.ToUpper(c)] {
				matched++
			}
		}
		if matched == len(literal) {
			return Inference{
				CodeGroup:     g.Tag,
				ExpandedCodes: append([]string(nil), g.ExpandsTo...),
				Confidence:    1.0,
				Reason:        fmt.Sprintf("all %d code(s) belong to %s", len(literal), g.Tag),
			}
		}
		fraction := float64(matched) / float64(len(literal))
		if fraction > bestFraction {
			best, bestFraction = g, fraction
		}
	}

	if best != nil && bestFraction >= minInferenceConfidence {
		return Inference{
			CodeGroup:     best.Tag,
			ExpandedCodes: append([]string(nil), best.ExpandsTo...),
			Confidence:    bestFraction,
			Reason:        fmt.Sprintf("%.0f%% of the codes belong to %s", bestFraction*100, best.Tag),
		}
	}
	return Inference{
		ExpandedCodes: literal,
		Confidence:    0,
		Reason:        "no registered code group contains these codes",
	}
}

func codeSet(codes []string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return m
}

// Enhancement records what EnhanceRuleWithCodeGroup did to one rule.
type Enhancement struct {
	RuleID    string     `json:"rule_id"`
	Rule      Candidate  `json:"rule"`
	Changes   []string   `json:"changes"`
	Warnings  []string   `json:"warnings"`
	Inference *Inference `json:"inference,omitempty"`
}

// Changed reports whether the rule was modified.
func (e Enhancement) Changed() bool { return len(e.Changes) > 0 }

// BatchEnhancement aggregates enhancements with rule-id attribution.
type BatchEnhancement struct {
	Rules    []Candidate   `json:"rules"`
	Results  []Enhancement `json:"results"`
	Changed  int           `json:"changed"`
	Warnings int           `json:"warnings"`
}

// EnhanceRuleWithCodeGroup reconciles the code and code_group fields of c.
func (in *Inferencer) EnhanceRuleWithCodeGroup(c Candidate) Enhancement {
	return enhance(lookup.Freeze(in.repo), c)
}

// EnhanceRules enhances every candidate against one snapshot.
func (in *Inferencer) EnhanceRules(cs []Candidate) BatchEnhancement {
	repo := lookup.Freeze(in.repo)
	out := BatchEnhancement{Rules: make([]Candidate, 0, len(cs)), Results: make([]Enhancement, 0, len(cs))}
	for _, c := range cs {
		e := enhance(repo, c)
		out.Rules = append(out.Rules, e.Rule)
		out.Results = append(out.Results, e)
		if e.Changed() {
			out.Changed++
		}
		out.Warnings += len(e.Warnings)
	}
	return out
}

func enhance(repo lookup.Repository, c Candidate) Enhancement {
	c = c.Clone()
	e := Enhancement{RuleID: c.RuleID, Changes: []string{}, Warnings: []string{}}
	code := strings.TrimSpace(c.Code)
	group := strings.TrimSpace(c.CodeGroup)

	switch {
	case group != "":
		g, ok := repo.Get(lookup.KindCodeGroup, group)
		if !ok {
			e.Warnings = append(e.Warnings, fmt.Sprintf("declared code group %s is not registered", group))
			break
		}
		if code == "" || strings.HasPrefix(code, "@") {
			break
		}
		codes := SplitCodes(code)
		members := codeSet(g.ExpandsTo)
		var outside []string
		for _, lc := range codes {
			if !members[strings.ToUpper(lc)] {
				outside = append(outside, lc)
			}
		}
		if len(outside) > 0 {
			e.Warnings = append(e.Warnings, fmt.Sprintf("code(s) %s are not part of %s", strings.Join(outside, ", "), g.Tag))
			break
		}
		if len(codeSet(codes)) < len(members) {
			c.Code = strings.Join(g.ExpandsTo, ",")
			e.Changes = append(e.Changes, fmt.Sprintf("expanded code to the full %s group (%d codes)", g.Tag, len(g.ExpandsTo)))
		}

	case strings.HasPrefix(code, "@"):
		if repo.Has(lookup.KindCodeGroup, code) {
			c.CodeGroup = code
			e.Changes = append(e.Changes, fmt.Sprintf("set code_group to %s", code))
		}

	case code != "":
		inf := infer(repo, SplitCodes(code))
		e.Inference = &inf
		if inf.Matched() && inf.Confidence >= minInferenceConfidence {
			c.CodeGroup = inf.CodeGroup
			e.Changes = append(e.Changes, fmt.Sprintf("inferred code_group %s (confidence %.2f)", inf.CodeGroup, inf.Confidence))
			if inf.Confidence < 1 {
				e.Warnings = append(e.Warnings, fmt.Sprintf("%s was inferred from a partial match; review the listed codes", inf.CodeGroup))
			}
		} else {
			e.Warnings = append(e.Warnings, fmt.Sprintf("no code group could be inferred for %s", code))
		}
	}

	e.Rule = c
	return e
}
