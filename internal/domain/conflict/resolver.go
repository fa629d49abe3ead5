package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sopkit/sopkit/internal/domain/lookup"
	"github.com/sopkit/sopkit/internal/domain/rule"
)

// Apply returns the rule set after applying action to the pair (first,
// second). It does not modify rules. merged is required for ActionMerge.
func Apply(rules []*rule.Rule, first, second string, action Action, merged *rule.Rule) (next, removed []*rule.Rule, err error) {
	drop := map[string]bool{}
	switch action {
	case ActionKeepFirst:
		drop[second] = true
	case ActionKeepSecond:
		drop[first] = true
	case ActionKeepBoth:
	case ActionMerge:
		if merged == nil {
			return nil, nil, ErrMergedRuleRequired
		}
		drop[first], drop[second] = true, true
	case ActionDeleteBoth:
		drop[first], drop[second] = true, true
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	next = make([]*rule.Rule, 0, len(rules)+1)
	inserted := false
	for _, r := range rules {
		if !drop[r.RuleID] {
			next = append(next, r)
			continue
		}
		removed = append(removed, r)
		if merged != nil && !inserted {
			next = append(next, merged)
			inserted = true
		}
	}
	if merged != nil && !inserted {
		return nil, nil, fmt.Errorf("%w: %s", rule.ErrNotFound, first)
	}
	return next, removed, nil
}

// Outcome is the state after a resolution.
type Outcome struct {
	Resolution  Resolution   `json:"resolution"`
	Rules       []*rule.Rule `json:"rules"`
	Open        []Conflict   `json:"open_conflicts"`
	Fingerprint string       `json:"fingerprint"`
}

// Report is the open conflict list for the current rule set.
type Report struct {
	Conflicts   []Conflict  `json:"conflicts"`
	Summary     Summary     `json:"summary"`
	Fingerprint string      `json:"fingerprint"`
	Rules       []Annotated `json:"rules,omitempty"`
}

// Resolver applies resolutions against the stored rule set. Every call
// recomputes conflicts, so a resolution against an outdated conflict list is
// rejected with ErrStaleConflict.
type Resolver struct {
	rules     rule.Repository
	validator *rule.Validator
	usage     rule.UsageRecorder
	audit     *AuditLog
	logger    zerolog.Logger
}

func NewResolver(rules rule.Repository, lookups lookup.Repository, usage rule.UsageRecorder, audit *AuditLog, logger zerolog.Logger) *Resolver {
	return &Resolver{
		rules:     rules,
		validator: rule.NewValidator(lookups),
		usage:     usage,
		audit:     audit,
		logger:    logger.With().Str("component", "conflicts").Logger(),
	}
}

// affectedFingerprint hashes the current content of the rules c names.
func affectedFingerprint(c Conflict, rules []*rule.Rule) string {
	named := make(map[string]bool, len(c.AffectedRuleIDs))
	for _, id := range c.AffectedRuleIDs {
		named[id] = true
	}
	var picked []*rule.Rule
	for _, r := range rules {
		if named[r.RuleID] {
			picked = append(picked, r)
		}
	}
	return Fingerprint(picked)
}

// open drops conflicts acknowledged against the same rule content. Editing
// any affected rule reopens the conflict.
func open(all []Conflict, rules []*rule.Rule, acked map[string]bool) []Conflict {
	out := make([]Conflict, 0, len(all))
	for _, c := range all {
		if len(acked) == 0 || !acked[ackKey(c.ID, affectedFingerprint(c, rules))] {
			out = append(out, c)
		}
	}
	return out
}

// Open analyzes the current rule set, leaving out conflicts acknowledged
// with keep_both.
func (r *Resolver) Open(ctx context.Context, annotate bool) (*Report, error) {
	rules, err := r.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	acked, err := r.audit.Acknowledged(ctx)
	if err != nil {
		return nil, err
	}
	conflicts := open(Analyze(rules), rules, acked)
	rep := &Report{Conflicts: conflicts, Summary: Summarize(conflicts), Fingerprint: Fingerprint(rules)}
	if annotate {
		rep.Rules = Annotate(rules, conflicts)
	}
	return rep, nil
}

// History returns the audit log.
func (r *Resolver) History(ctx context.Context) ([]Resolution, error) {
	return r.audit.List(ctx)
}

func selectPair(c Conflict, requested []string) (string, string, error) {
	if len(requested) == 0 {
		if len(c.AffectedRuleIDs) != 2 {
			return "", "", fmt.Errorf("%w: conflict %s affects %d rules", ErrPairRequired, c.ID, len(c.AffectedRuleIDs))
		}
		return c.AffectedRuleIDs[0], c.AffectedRuleIDs[1], nil
	}
	if len(requested) != 2 || requested[0] == requested[1] {
		return "", "", ErrPairRequired
	}
	for _, id := range requested {
		found := false
		for _, a := range c.AffectedRuleIDs {
			if a == id {
				found = true
				break
			}
		}
		if !found {
			return "", "", fmt.Errorf("%w: %s is not affected by conflict %s", ErrPairRequired, id, c.ID)
		}
	}
	return requested[0], requested[1], nil
}

// Resolve applies req to the current rule set as one atomic replacement.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Outcome, error) {
	if !validActions[req.Action] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	var merged *rule.Rule
	if req.Action == ActionMerge {
		if req.MergedRule == nil {
			return nil, ErrMergedRuleRequired
		}
		m, res := r.validator.Promote(*req.MergedRule)
		if m == nil {
			return nil, fmt.Errorf("%w: merged rule has %d error(s)", rule.ErrInvalid, len(res.Errors))
		}
		merged = m
	}

	var (
		target  Conflict
		first   string
		second  string
		removed []*rule.Rule
		entry   Resolution
		written bool
	)
	// Acknowledgements are read and the audit entry is written under the
	// repository lock. A failed audit write aborts the replacement.
	next, err := r.rules.Update(ctx, func(current []*rule.Rule) ([]*rule.Rule, error) {
		if req.Fingerprint != "" && req.Fingerprint != Fingerprint(current) {
			return nil, fmt.Errorf("%w: rule set changed since analysis", ErrStaleConflict)
		}
		acked, err := r.audit.Acknowledged(ctx)
		if err != nil {
			return nil, err
		}
		found := false
		for _, c := range open(Analyze(current), current, acked) {
			if c.ID == req.ConflictID {
				target, found = c, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrStaleConflict, req.ConflictID)
		}
		if first, second, err = selectPair(target, req.RuleIDs); err != nil {
			return nil, err
		}
		if merged != nil {
			for _, existing := range current {
				if existing.RuleID == merged.RuleID && existing.RuleID != first && existing.RuleID != second {
					return nil, fmt.Errorf("%w: %s", rule.ErrDuplicate, merged.RuleID)
				}
			}
		}
		var next []*rule.Rule
		if next, removed, err = Apply(current, first, second, req.Action, merged); err != nil {
			return nil, err
		}

		entry = Resolution{
			ConflictID:       target.ID,
			ConflictType:     target.Type,
			Action:           req.Action,
			RuleIDs:          []string{first, second},
			RulesFingerprint: affectedFingerprint(target, current),
		}
		for _, rm := range removed {
			entry.Removed = append(entry.Removed, rm.RuleID)
		}
		if merged != nil {
			if err := r.retain(ctx, merged); err != nil {
				return nil, err
			}
			entry.Added = merged.RuleID
		}
		if err := r.audit.Append(ctx, &entry); err != nil {
			if merged != nil {
				r.recordUsage(ctx, []*rule.Rule{merged}, -1)
			}
			return nil, err
		}
		written = true
		return next, nil
	})
	if err != nil {
		if written {
			r.undo(ctx, entry, merged)
		}
		return nil, err
	}
	r.recordUsage(ctx, removed, -1)

	acked, err := r.audit.Acknowledged(ctx)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("conflict_id", target.ID).
		Str("action", string(req.Action)).
		Strs("removed", entry.Removed).
		Msg("conflict resolved")

	return &Outcome{
		Resolution:  entry,
		Rules:       next,
		Open:        open(Analyze(next), next, acked),
		Fingerprint: Fingerprint(next),
	}, nil
}

// undo reverts the audit entry and usage recorded for a resolution whose
// rule set could not be stored.
func (r *Resolver) undo(ctx context.Context, entry Resolution, merged *rule.Rule) {
	if err := r.audit.Delete(ctx, entry.ID); err != nil {
		r.logger.Error().Err(err).Str("resolution_id", entry.ID).Msg("failed to remove audit entry of unapplied resolution")
	}
	if merged != nil {
		r.recordUsage(ctx, []*rule.Rule{merged}, -1)
	}
}

// retain counts the merged rule's references. It fails when a tag has been
// removed since the rule was validated.
func (r *Resolver) retain(ctx context.Context, merged *rule.Rule) error {
	if r.usage == nil {
		return nil
	}
	err := r.usage.RecordUsage(ctx, rule.References(merged.Candidate), 1)
	if errors.Is(err, lookup.ErrNotFound) {
		return fmt.Errorf("%w: merged rule %s: %w", rule.ErrNeedsDefinition, merged.RuleID, err)
	}
	return err
}

func (r *Resolver) recordUsage(ctx context.Context, rules []*rule.Rule, delta int) {
	if r.usage == nil || len(rules) == 0 {
		return
	}
	var refs []lookup.Ref
	for _, rl := range rules {
		refs = append(refs, rule.References(rl.Candidate)...)
	}
	if err := r.usage.RecordUsage(ctx, refs, delta); err != nil {
		r.logger.Error().Err(err).Int("delta", delta).Msg("failed to record lookup usage")
	}
}
