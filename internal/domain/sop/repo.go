package sop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

const keyPrefix = "sops/"

type Repository interface {
	Save(ctx context.Context, s *SOP) error
	Get(ctx context.Context, id uuid.UUID) (*SOP, error)
	List(ctx context.Context) ([]*SOP, error)
}

type kvRepo struct {
	store kv.Store
}

// NewKVRepo stores one JSON document per SOP under sops/<id>.
func NewKVRepo(store kv.Store) Repository {
	return &kvRepo{store: store}
}

func (r *kvRepo) Save(ctx context.Context, s *SOP) error {
	return kv.SetJSON(ctx, r.store, keyPrefix+s.ID.String(), s)
}

func (r *kvRepo) Get(ctx context.Context, id uuid.UUID) (*SOP, error) {
	var s SOP
	err := kv.GetJSON(ctx, r.store, keyPrefix+id.String(), &s)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *kvRepo) List(ctx context.Context) ([]*SOP, error) {
	entries, err := r.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sops: %w", err)
	}
	out := make([]*SOP, 0, len(entries))
	for _, e := range entries {
		var s SOP
		if err := json.Unmarshal(e.Value, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, &s)
	}
	return out, nil
}
