package conflict

import (
	"errors"
	"time"

	"github.com/sopkit/sopkit/internal/domain/rule"
)

// Type classifies a conflict.
type Type string

const (
	TypeDuplicate     Type = "duplicate"
	TypeContradiction Type = "contradiction"
	TypeOverlap       Type = "overlap"
)

// Severity ranks conflicts for review.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

var severityRank = map[Severity]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2}

// Conflict is one finding of Analyze. Conflicts are values: resolution
// produces a new rule set rather than editing a conflict.
type Conflict struct {
	ID              string   `json:"id"`
	Type            Type     `json:"type"`
	Severity        Severity `json:"severity"`
	AffectedRuleIDs []string `json:"affected_rule_ids"`
	Description     string   `json:"description"`
	Suggestion      string   `json:"suggestion"`
}

// Summary counts conflicts by severity and type.
type Summary struct {
	Total  int          `json:"total"`
	High   int          `json:"high"`
	Medium int          `json:"medium"`
	Low    int          `json:"low"`
	ByType map[Type]int `json:"by_type"`
}

// Action is a user-chosen resolution.
type Action string

const (
	ActionKeepFirst  Action = "keep_first"
	ActionKeepSecond Action = "keep_second"
	ActionKeepBoth   Action = "keep_both"
	ActionMerge      Action = "merge"
	ActionDeleteBoth Action = "delete_both"
)

var validActions = map[Action]bool{
	ActionKeepFirst: true, ActionKeepSecond: true, ActionKeepBoth: true, ActionMerge: true, ActionDeleteBoth: true,
}

var (
	ErrStaleConflict      = errors.New("conflict is not open against the current rule set")
	ErrMergedRuleRequired = errors.New("merge requires a merged rule")
	ErrInvalidAction      = errors.New("invalid resolution action")
	ErrPairRequired       = errors.New("select exactly two of the conflict's rules")
)

// ResolveRequest asks the resolver to apply Action to ConflictID. RuleIDs
// selects the pair for conflicts that affect more than two rules.
// Fingerprint, when set, must match the rule set the caller analyzed.
type ResolveRequest struct {
	ConflictID  string          `json:"conflict_id"`
	Action      Action          `json:"action"`
	RuleIDs     []string        `json:"rule_ids,omitempty"`
	MergedRule  *rule.Candidate `json:"merged_rule,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

// Resolution is one entry of the audit log.
type Resolution struct {
	ID               string    `json:"id"`
	ConflictID       string    `json:"conflict_id"`
	ConflictType     Type      `json:"conflict_type"`
	Action           Action    `json:"action"`
	RuleIDs          []string  `json:"rule_ids"`
	Removed          []string  `json:"removed,omitempty"`
	Added            string    `json:"added,omitempty"`
	RulesFingerprint string    `json:"rules_fingerprint"`
	Timestamp        time.Time `json:"timestamp"`
}

// Annotated is a rule with the conflicts that name it.
type Annotated struct {
	*rule.Rule
	Conflicts []Conflict `json:"conflicts"`
}

// Annotate attaches conflicts to the rules they affect. The result is
// computed, never stored.
func Annotate(rules []*rule.Rule, conflicts []Conflict) []Annotated {
	byRule := make(map[string][]Conflict)
	for _, c := range conflicts {
		for _, id := range c.AffectedRuleIDs {
			byRule[id] = append(byRule[id], c)
		}
	}
	out := make([]Annotated, 0, len(rules))
	for _, r := range rules {
		cs := byRule[r.RuleID]
		if cs == nil {
			cs = []Conflict{}
		}
		out = append(out, Annotated{Rule: r, Conflicts: cs})
	}
	return out
}
