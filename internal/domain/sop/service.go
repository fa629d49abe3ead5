package sop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "sops").Logger(), now: time.Now}
}

func (s *Service) Create(ctx context.Context, in *SOP) (*SOP, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	now := s.now().UTC()
	created := &SOP{
		ID:           uuid.New(),
		Name:         name,
		Organization: strings.TrimSpace(in.Organization),
		Department:   strings.TrimSpace(in.Department),
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Save(ctx, created); err != nil {
		return nil, err
	}
	s.logger.Info().Str("sop_id", created.ID.String()).Str("name", created.Name).Msg("sop created")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*SOP, error) {
	return s.repo.Get(ctx, id)
}

// List returns SOPs newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]*SOP, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*SOP, 0, len(all))
	for _, x := range all {
		if status == "" || x.Status == status {
			out = append(out, x)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Activate marks the SOP active. Rules carry the SOP id as a string, so an
// empty id is a rule without an owner and is ignored.
func (s *Service) Activate(ctx context.Context, sopID string) error {
	if sopID == "" {
		return nil
	}
	id, err := uuid.Parse(sopID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sopID)
	}
	x, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch x.Status {
	case StatusActive:
		return nil
	case StatusArchived:
		return fmt.Errorf("%w: %s", ErrArchived, sopID)
	}
	x.Status = StatusActive
	x.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, x); err != nil {
		return err
	}
	s.logger.Info().Str("sop_id", sopID).Msg("sop activated")
	return nil
}

func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*SOP, error) {
	x, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if x.Status == StatusArchived {
		return x, nil
	}
	x.Status = StatusArchived
	x.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, x); err != nil {
		return nil, err
	}
	s.logger.Info().Str("sop_id", id.String()).Msg("sop archived")
	return x, nil
}
