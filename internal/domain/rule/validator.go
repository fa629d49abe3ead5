package rule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sopkit/sopkit/internal/domain/lookup"
)

// Severity separates blocking issues from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding of the validator.
type Issue struct {
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Undefined is a tag a rule references that the registry does not hold.
// Kind is empty when the reference came from free text.
type Undefined struct {
	Tag   string      `json:"tag"`
	Kind  lookup.Kind `json:"kind,omitempty"`
	Field string      `json:"field"`
}

// Result is the outcome of validating one candidate.
type Result struct {
	IsValid         bool        `json:"is_valid"`
	Errors          []Issue     `json:"errors"`
	Warnings        []Issue     `json:"warnings"`
	NeedsDefinition []Undefined `json:"needs_definition"`
}

// Status derives the persisted validation status.
func (r Result) Status() ValidationStatus {
	switch {
	case len(r.Errors) > 0:
		return ValidationError
	case len(r.Warnings) > 0:
		return ValidationWarning
	default:
		return ValidationValid
	}
}

// Invalid pairs a rejected candidate with its validation.
type Invalid struct {
	Rule       Candidate `json:"rule"`
	Validation Result    `json:"validation"`
}

// BatchResult partitions a batch. A candidate with any error is invalid.
type BatchResult struct {
	ValidRules         []*Rule   `json:"valid_rules"`
	InvalidRules       []Invalid `json:"invalid_rules"`
	AllNeedsDefinition []string  `json:"all_needs_definition"`
}

// Validator checks candidates against the lookup vocabulary.
type Validator struct {
	repo lookup.Repository
}

func NewValidator(repo lookup.Repository) *Validator {
	return &Validator{repo: repo}
}

// Validate checks a single candidate against a fresh registry snapshot.
func (v *Validator) Validate(c Candidate) Result {
	return validate(lookup.Freeze(v.repo), c)
}

// Promote validates c and, if it has no errors, returns it as a Rule in
// pending status (needs_definition when it references unknown tags).
func (v *Validator) Promote(c Candidate) (*Rule, Result) {
	return promote(lookup.Freeze(v.repo), c)
}

// ValidateBatch validates every candidate against one shared snapshot.
func (v *Validator) ValidateBatch(cs []Candidate) BatchResult {
	repo := lookup.Freeze(v.repo)
	out := BatchResult{ValidRules: []*Rule{}, InvalidRules: []Invalid{}, AllNeedsDefinition: []string{}}
	seen := make(map[string]bool)
	for _, c := range cs {
		r, res := promote(repo, c)
		for _, u := range res.NeedsDefinition {
			if !seen[u.Tag] {
				seen[u.Tag] = true
				out.AllNeedsDefinition = append(out.AllNeedsDefinition, u.Tag)
			}
		}
		if r == nil {
			out.InvalidRules = append(out.InvalidRules, Invalid{Rule: c, Validation: res})
			continue
		}
		out.ValidRules = append(out.ValidRules, r)
	}
	sort.Strings(out.AllNeedsDefinition)
	return out
}

func promote(repo lookup.Repository, c Candidate) (*Rule, Result) {
	res := validate(repo, c)
	if !res.IsValid {
		return nil, res
	}
	r := &Rule{Candidate: c.Trimmed(), Status: StatusPending, ValidationStatus: res.Status()}
	if len(res.NeedsDefinition) > 0 {
		r.Status = StatusNeedsDefinition
	}
	return r, res
}

type checker struct {
	repo lookup.Repository
	res  Result
	seen map[string]bool
}

func (k *checker) fail(field, format string, args ...interface{}) {
	k.res.Errors = append(k.res.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (k *checker) warn(field, format string, args ...interface{}) {
	k.res.Warnings = append(k.res.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func (k *checker) undefined(tag string, kind lookup.Kind, field string) {
	key := string(kind) + "|" + tag
	if k.seen[key] {
		return
	}
	k.seen[key] = true
	k.res.NeedsDefinition = append(k.res.NeedsDefinition, Undefined{Tag: tag, Kind: kind, Field: field})
}

func validate(repo lookup.Repository, c Candidate) Result {
	c = c.Trimmed()
	k := &checker{
		repo: repo,
		res:  Result{Errors: []Issue{}, Warnings: []Issue{}, NeedsDefinition: []Undefined{}},
		seen: make(map[string]bool),
	}

	required := []struct {
		field, value string
	}{
		{"rule_id", c.RuleID},
		{"code", c.Code},
		{"action", c.Action},
		{"payer_group", c.PayerGroup},
		{"provider_group", c.ProviderGroup},
		{"description", c.Description},
		{"effective_date", c.EffectiveDate},
	}
	for _, f := range required {
		if f.value == "" {
			k.fail(f.field, "%s is required", f.field)
		}
	}

	if c.RuleID != "" && !ValidRuleID(c.RuleID) {
		k.fail("rule_id", "rule_id %q must match PREFIX-MNEMONIC-NNNN (e.g. AU-MOD25-0001)", c.RuleID)
	}
	if c.Description != "" {
		k.checkDescription(c.Description)
	}
	if c.Code != "" {
		k.checkCode(c.Code)
	}
	if c.CodeGroup != "" {
		k.checkCodeGroup("code_group", c.CodeGroup)
	}
	if c.PayerGroup != "" {
		k.checkGroupList("payer_group", lookup.KindPayerGroup, c.PayerGroup)
	}
	if c.ProviderGroup != "" {
		k.checkGroupList("provider_group", lookup.KindProviderGroup, c.ProviderGroup)
	}
	if c.Action != "" {
		k.checkAction(c.Action, c.CodesSelected)
	}
	if c.ChartSection != "" && !repo.Has(lookup.KindChartSection, c.ChartSection) {
		k.fail("chart_section", "chart section %s is not registered", c.ChartSection)
		k.undefined(c.ChartSection, lookup.KindChartSection, "chart_section")
	}
	k.checkDates(c.EffectiveDate, c.EndDate)

	if c.DocumentationTrigger == "" {
		k.warn("documentation_trigger", "documentation_trigger is recommended")
	}
	if c.Reference == "" {
		k.warn("reference", "reference is recommended")
	}

	k.res.IsValid = len(k.res.Errors) == 0
	return k.res
}

func (k *checker) checkDescription(desc string) {
	if sentenceCount(desc) != 1 {
		k.fail("description", "description must be exactly one sentence")
	}
	if !strings.HasSuffix(desc, ".") {
		k.fail("description", "description must end with a period")
	}
	tags := Tags(desc)
	if len(tags) == 0 {
		k.warn("description", "description should reference lookup tags inline (e.g. @BCBS)")
		return
	}
	for _, t := range tags {
		if IsModifier(t) {
			continue
		}
		if _, ok := lookup.FindAny(k.repo, t); !ok {
			k.warn("description", "tag %s is not defined in the lookup tables", t)
			k.undefined(t, "", "description")
		}
	}
}

func (k *checker) checkCode(code string) {
	if ContainsActionExpression(code) {
		k.fail("code", "code must contain ONLY codes or a code group tag, not actions")
		return
	}
	if strings.HasPrefix(code, "@") {
		if strings.ContainsAny(code, ", ") {
			k.fail("code", "code must be a single code group tag or a list of literal codes")
			return
		}
		k.checkCodeGroup("code", code)
		return
	}
	entries := SplitCodes(code)
	if len(entries) == 0 {
		k.fail("code", "code has no entries")
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e, "@") {
			k.fail("code", "code must not mix literal codes with code group %s", e)
			continue
		}
		if !IsLiteralCode(e) {
			k.fail("code", "invalid code %q: expected a 5-digit CPT code or a letter followed by 4 digits", e)
		}
	}
}

func (k *checker) checkCodeGroup(field, group string) {
	t, ok := k.repo.Get(lookup.KindCodeGroup, group)
	if !ok {
		k.fail(field, "code group %s is not registered", group)
		k.undefined(group, lookup.KindCodeGroup, field)
		return
	}
	if t.Status == lookup.StatusDeprecated {
		k.fail(field, "code group %s is deprecated", group)
	}
}

// checkGroupList resolves every '@' entry of a pipe list. Bare entries such
// as ALL_PAYERS are wildcards and pass through.
func (k *checker) checkGroupList(field string, kind lookup.Kind, list string) {
	entries := SplitList(list)
	if len(entries) == 0 {
		k.fail(field, "%s has no entries", field)
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e, "@") {
			continue
		}
		if !k.repo.Has(kind, e) {
			k.fail(field, "%s %s is not registered", strings.ReplaceAll(string(kind), "_", " "), e)
			k.undefined(e, kind, field)
		}
	}
}

func (k *checker) checkAction(action string, selected []string) {
	for _, t := range ActionTags(action) {
		if !k.repo.Has(lookup.KindActionTag, t) {
			k.fail("action", "action tag %s is not registered", t)
			k.undefined(t, lookup.KindActionTag, "action")
		}
	}
	for _, e := range ParseActions(action) {
		for _, arg := range e.Args {
			for _, t := range Tags(arg) {
				if IsModifier(t) {
					continue
				}
				if _, ok := lookup.FindAny(k.repo, t); !ok {
					k.warn("action", "argument %s of %s is not defined in the lookup tables", t, e.Tag())
					k.undefined(t, "", "action")
				}
			}
		}
	}
	if !HasRecognizedVerb(action) {
		k.fail("action", "action must use a recognized verb (%s)", strings.Join(RecognizedVerbs, ", "))
	}
	if RequiresCodesSelected(action) && len(selected) == 0 {
		k.fail("codes_selected", "codes_selected is required for @SWAP, @COND_ADD and @COND_REMOVE actions")
	}
}

func (k *checker) checkDates(effective, end string) {
	eff, effOK := time.Time{}, false
	if effective != "" {
		if eff, effOK = ParseDate(effective); !effOK {
			k.fail("effective_date", "effective_date %q must be YYYY-MM-DD", effective)
		}
	}
	if end == "" {
		return
	}
	until, ok := ParseDate(end)
	if !ok {
		k.fail("end_date", "end_date %q must be YYYY-MM-DD", end)
		return
	}
	if effOK && !until.After(eff) {
		k.fail("end_date", "end_date must be after effective_date")
	}
}
