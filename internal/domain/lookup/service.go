package lookup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Service wraps the registry with persistence and logging for mutations.
type Service struct {
	reg    *Registry
	store  *Store
	logger zerolog.Logger
}

// NewService creates a lookup service. store may be nil for purely in-memory use.
func NewService(reg *Registry, store *Store, logger zerolog.Logger) *Service {
	return &Service{reg: reg, store: store, logger: logger.With().Str("component", "lookup").Logger()}
}

// Registry exposes the underlying registry as a read repository.
func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, s.reg)
}

func (s *Service) List(kind Kind) []*Tag {
	return s.reg.List(kind)
}

func (s *Service) Get(kind Kind, tag string) (*Tag, error) {
	t, ok := s.reg.Get(kind, tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, tag)
	}
	return t, nil
}

// Create registers an AI- or user-proposed tag. Such tags never start ACTIVE;
// they wait for Promote.
func (s *Service) Create(ctx context.Context, t *Tag) (*Tag, error) {
	if t.CreatedBy == "" {
		t.CreatedBy = CreatedByUser
	}
	if t.CreatedBy != CreatedBySystem && (t.Status == "" || t.Status == StatusActive) {
		t.Status = StatusPendingReview
		if t.Kind == KindCodeGroup && len(t.ExpandsTo) == 0 {
			t.Status = StatusNeedsDefinition
		}
	}
	if err := s.reg.Add(t); err != nil {
		return nil, err
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	created, _ := s.reg.Get(t.Kind, t.Tag)
	s.logger.Info().Str("kind", string(t.Kind)).Str("tag", created.Tag).Str("status", string(created.Status)).Msg("lookup tag created")
	return created, nil
}

// Promote moves a tag to ACTIVE.
func (s *Service) Promote(ctx context.Context, kind Kind, tag string) (*Tag, error) {
	t, err := s.reg.Promote(kind, tag)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("kind", string(kind)).Str("tag", t.Tag).Msg("lookup tag promoted")
	return t, nil
}

// Deprecate retires a tag from matching without breaking rules that use it.
func (s *Service) Deprecate(ctx context.Context, kind Kind, tag string) (*Tag, error) {
	t, err := s.reg.Deprecate(kind, tag)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx); err != nil {
		return nil, err
	}
	s.logger.Info().Str("kind", string(kind)).Str("tag", t.Tag).Msg("lookup tag deprecated")
	return t, nil
}

func (s *Service) CanDelete(kind Kind, tag string) DeleteCheck {
	return s.reg.CanDeleteTag(kind, tag)
}

// Remove deletes a tag that no rule references.
func (s *Service) Remove(ctx context.Context, kind Kind, tag string) error {
	if err := s.reg.Remove(kind, tag); err != nil {
		return err
	}
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("kind", string(kind)).Str("tag", tag).Msg("lookup tag removed")
	return nil
}

// RecordUsage adjusts usage counts for every referenced tag by delta
// (+1 when a rule is added, -1 when deleted). A positive delta needs every
// ref to be registered and counts all or none of them; on release
// unregistered refs are skipped.
func (s *Service) RecordUsage(ctx context.Context, refs []Ref, delta int) error {
	if len(refs) == 0 || delta == 0 {
		return nil
	}
	if delta > 0 {
		for i := 0; i < delta; i++ {
			if err := s.reg.Retain(refs); err != nil {
				s.release(refs, i)
				return err
			}
		}
		if err := s.persist(ctx); err != nil {
			s.release(refs, delta)
			return err
		}
		return nil
	}
	changed := false
	for _, ref := range refs {
		if s.reg.AdjustUsage(ref.Kind, ref.Tag, delta) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist(ctx)
}

func (s *Service) release(refs []Ref, n int) {
	if n == 0 {
		return
	}
	for _, ref := range refs {
		s.reg.AdjustUsage(ref.Kind, ref.Tag, -n)
	}
}

// Seed loads tags that are not yet registered and persists the result.
func (s *Service) Seed(ctx context.Context, tags []*Tag) (int, error) {
	n, err := s.reg.Seed(tags)
	if err != nil {
		return n, err
	}
	if n > 0 {
		if err := s.persist(ctx); err != nil {
			return n, err
		}
		s.logger.Info().Int("added", n).Msg("lookup vocabulary seeded")
	}
	return n, nil
}
