package rule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sopkit/sopkit/internal/domain/lookup"
	"github.com/sopkit/sopkit/internal/domain/matching"
)

var (
	ErrInvalid              = errors.New("rule failed validation")
	ErrDuplicate            = errors.New("rule already exists")
	ErrNeedsDefinition      = errors.New("rule references undefined lookup tags")
	ErrExtractorUnavailable = errors.New("rule extraction is not configured")
	ErrExtraction           = errors.New("rule extraction failed")
	ErrSOPInactive          = errors.New("owning SOP cannot be activated")
)

// Extractor turns document text into candidate rules. lookupContext lists
// the vocabulary the extractor should use.
type Extractor interface {
	Extract(ctx context.Context, documentText, lookupContext string) ([]Candidate, error)
}

// UsageRecorder adjusts lookup usage counts as rules come and go.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, refs []lookup.Ref, delta int) error
}

// SOPActivator promotes the SOP owning an approved rule.
type SOPActivator interface {
	Activate(ctx context.Context, sopID string) error
}

type Service struct {
	repo       Repository
	lookups    lookup.Repository
	usage      UsageRecorder
	validator  *Validator
	inferencer *Inferencer
	matcher    *matching.Matcher
	extractor  Extractor
	sops       SOPActivator
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, lookups lookup.Repository, usage UsageRecorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		lookups:    lookups,
		usage:      usage,
		validator:  NewValidator(lookups),
		inferencer: NewInferencer(lookups),
		matcher:    matching.NewMatcher(lookups, matching.DefaultThresholds()),
		logger:     logger.With().Str("component", "rules").Logger(),
		now:        time.Now,
	}
}

func (s *Service) SetExtractor(e Extractor)       { s.extractor = e }
func (s *Service) SetSOPActivator(a SOPActivator) { s.sops = a }
func (s *Service) SetMatcher(m *matching.Matcher) { s.matcher = m }
func (s *Service) Validator() *Validator          { return s.validator }
func (s *Service) Inferencer() *Inferencer        { return s.inferencer }

func (s *Service) recordUsage(ctx context.Context, rules []*Rule, delta int) {
	if s.usage == nil {
		return
	}
	var refs []lookup.Ref
	for _, r := range rules {
		refs = append(refs, References(r.Candidate)...)
	}
	if err := s.usage.RecordUsage(ctx, refs, delta); err != nil {
		s.logger.Error().Err(err).Int("delta", delta).Msg("failed to record lookup usage")
	}
}

// retain counts the rule's lookup references. It fails with
// ErrNeedsDefinition when a tag was removed after the rule was validated.
func (s *Service) retain(ctx context.Context, r *Rule) error {
	if s.usage == nil {
		return nil
	}
	err := s.usage.RecordUsage(ctx, References(r.Candidate), 1)
	if errors.Is(err, lookup.ErrNotFound) {
		return fmt.Errorf("%w: %s: %w", ErrNeedsDefinition, r.RuleID, err)
	}
	return err
}

func (s *Service) stamp(r *Rule) {
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// Add validates a manually entered candidate and adds it to the rule set.
// An invalid candidate returns ErrInvalid together with its validation.
func (s *Service) Add(ctx context.Context, c Candidate) (*Rule, Result, error) {
	if c.Source == "" {
		c.Source = SourceManual
	}
	r, res := s.validator.Promote(c)
	if r == nil {
		return nil, res, ErrInvalid
	}
	s.stamp(r)
	retained := false
	_, err := s.repo.Update(ctx, func(current []*Rule) ([]*Rule, error) {
		for _, existing := range current {
			if existing.RuleID == r.RuleID {
				return nil, fmt.Errorf("%w: %s", ErrDuplicate, r.RuleID)
			}
		}
		if err := s.retain(ctx, r); err != nil {
			return nil, err
		}
		retained = true
		return append(current, r), nil
	})
	if err != nil {
		if retained {
			s.recordUsage(ctx, []*Rule{r}, -1)
		}
		return nil, res, err
	}
	s.logger.Info().Str("rule_id", r.RuleID).Str("status", string(r.Status)).Msg("rule added")
	return r, res, nil
}

// IngestResult reports the outcome of one extraction or import batch.
type IngestResult struct {
	Extracted       int           `json:"extracted"`
	Added           []*Rule       `json:"added"`
	Invalid         []Invalid     `json:"invalid"`
	Skipped         []string      `json:"skipped"`
	NeedsDefinition []string      `json:"needs_definition"`
	Enhancements    []Enhancement `json:"enhancements"`
	Resolutions     []Resolution  `json:"resolutions"`
}

// Ingest extracts candidates from document text and merges the valid ones
// into the rule set. The extraction is a single attempt.
func (s *Service) Ingest(ctx context.Context, documentText, sopID string) (*IngestResult, error) {
	if s.extractor == nil {
		return nil, ErrExtractorUnavailable
	}
	lookupContext := lookup.RenderContext(lookup.Freeze(s.lookups))
	candidates, err := s.extractor.Extract(ctx, documentText, lookupContext)
	if err != nil {
		s.logger.Error().Err(err).Msg("rule extraction failed")
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	for i := range candidates {
		candidates[i].Source = SourceAI
		if sopID != "" {
			candidates[i].SOPID = sopID
		}
	}
	return s.ingest(ctx, candidates)
}

// Import reads a CSV rule table (optionally gzip-compressed) and merges the
// valid rows into the rule set.
func (s *Service) Import(ctx context.Context, r io.Reader, sopID string) (*IngestResult, error) {
	candidates, err := Import(r)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].SOPID = sopID
	}
	return s.ingest(ctx, candidates)
}

func (s *Service) ingest(ctx context.Context, candidates []Candidate) (*IngestResult, error) {
	out := &IngestResult{
		Extracted:    len(candidates),
		Added:        []*Rule{},
		Skipped:      []string{},
		Resolutions:  []Resolution{},
		Enhancements: []Enhancement{},
	}

	lowTrust := make(map[int]bool)
	for i, c := range candidates {
		resolved, res := resolveFreeText(s.matcher, c)
		candidates[i] = resolved
		for _, r := range res {
			if !r.Trusted {
				lowTrust[i] = true
			}
		}
		out.Resolutions = append(out.Resolutions, res...)
	}

	enhanced := s.inferencer.EnhanceRules(candidates)
	for _, e := range enhanced.Results {
		if e.Changed() || len(e.Warnings) > 0 {
			out.Enhancements = append(out.Enhancements, e)
		}
	}

	snapshot := lookup.Freeze(s.lookups)
	var valid []*Rule
	out.Invalid = []Invalid{}
	seen := make(map[string]bool)
	for i, c := range enhanced.Rules {
		r, res := promote(snapshot, c)
		for _, u := range res.NeedsDefinition {
			if !seen[u.Tag] {
				seen[u.Tag] = true
				out.NeedsDefinition = append(out.NeedsDefinition, u.Tag)
			}
		}
		if r == nil {
			out.Invalid = append(out.Invalid, Invalid{Rule: c, Validation: res})
			continue
		}
		if lowTrust[i] {
			r.Status = StatusNeedsDefinition
		}
		s.stamp(r)
		valid = append(valid, r)
	}
	sort.Strings(out.NeedsDefinition)
	if out.NeedsDefinition == nil {
		out.NeedsDefinition = []string{}
	}

	if len(valid) > 0 {
		_, err := s.repo.Update(ctx, func(current []*Rule) ([]*Rule, error) {
			ids := make(map[string]bool, len(current))
			for _, r := range current {
				ids[r.RuleID] = true
			}
			for _, r := range valid {
				if ids[r.RuleID] {
					out.Skipped = append(out.Skipped, r.RuleID)
					continue
				}
				if err := s.retain(ctx, r); err != nil {
					if !errors.Is(err, ErrNeedsDefinition) {
						return nil, err
					}
					out.Invalid = append(out.Invalid, Invalid{Rule: r.Candidate, Validation: Result{
						Errors:          []Issue{{Field: "lookup", Message: err.Error(), Severity: SeverityError}},
						Warnings:        []Issue{},
						NeedsDefinition: []Undefined{},
					}})
					continue
				}
				ids[r.RuleID] = true
				current = append(current, r)
				out.Added = append(out.Added, r)
			}
			return current, nil
		})
		if err != nil {
			s.recordUsage(ctx, out.Added, -1)
			return nil, err
		}
	}

	s.logger.Info().
		Int("extracted", out.Extracted).
		Int("added", len(out.Added)).
		Int("invalid", len(out.Invalid)).
		Int("skipped", len(out.Skipped)).
		Msg("rules ingested")
	return out, nil
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	SOPID  string
	Status Status
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Rule, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := rules[:0]
	for _, r := range rules {
		if f.SOPID != "" && r.SOPID != f.SOPID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, ruleID string) (*Rule, error) {
	return s.repo.Get(ctx, ruleID)
}

// Delete removes a rule and releases its lookup references.
func (s *Service) Delete(ctx context.Context, ruleID string) error {
	var removed *Rule
	_, err := s.repo.Update(ctx, func(current []*Rule) ([]*Rule, error) {
		for i, r := range current {
			if r.RuleID == ruleID {
				removed = r
				return append(current[:i], current[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ruleID)
	})
	if err != nil {
		return err
	}
	s.recordUsage(ctx, []*Rule{removed}, -1)
	s.logger.Info().Str("rule_id", ruleID).Msg("rule deleted")
	return nil
}

// Approve re-validates a rule against the current vocabulary and marks it
// approved. The owning SOP, if any, becomes active; when it cannot (it is
// archived or missing) the rule is left unchanged.
func (s *Service) Approve(ctx context.Context, ruleID string) (*Rule, error) {
	snapshot := lookup.Freeze(s.lookups)
	r, err := s.transition(ctx, ruleID, func(r *Rule) error {
		res := validate(snapshot, r.Candidate)
		if !res.IsValid {
			return fmt.Errorf("%w: %s has %d error(s)", ErrInvalid, r.RuleID, len(res.Errors))
		}
		if len(res.NeedsDefinition) > 0 {
			return fmt.Errorf("%w: %s", ErrNeedsDefinition, r.RuleID)
		}
		if r.SOPID != "" && s.sops != nil {
			if err := s.sops.Activate(ctx, r.SOPID); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSOPInactive, r.SOPID, err)
			}
		}
		r.Status = StatusApproved
		r.ValidationStatus = res.Status()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("rule_id", ruleID).Msg("rule approved")
	return r, nil
}

// Reject marks a rule rejected. Rejected rules stay in the set for audit.
func (s *Service) Reject(ctx context.Context, ruleID string) (*Rule, error) {
	r, err := s.transition(ctx, ruleID, func(r *Rule) error {
		r.Status = StatusRejected
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("rule_id", ruleID).Msg("rule rejected")
	return r, nil
}

func (s *Service) transition(ctx context.Context, ruleID string, fn func(*Rule) error) (*Rule, error) {
	var updated *Rule
	_, err := s.repo.Update(ctx, func(current []*Rule) ([]*Rule, error) {
		for _, r := range current {
			if r.RuleID != ruleID {
				continue
			}
			if err := fn(r); err != nil {
				return nil, err
			}
			s.stamp(r)
			updated = r
			return current, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ruleID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Export writes the rule set as CSV.
func (s *Service) Export(ctx context.Context, w io.Writer, compress bool) error {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	cs := make([]Candidate, len(rules))
	for i, r := range rules {
		cs[i] = r.Candidate
	}
	return Export(w, cs, compress)
}
