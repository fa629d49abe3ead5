package rule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

const ruleSetKey = "rules/set"

type kvRepo struct {
	store kv.Store
	mu    sync.Mutex
}

// NewKVRepo stores the whole rule set as one JSON document.
func NewKVRepo(store kv.Store) Repository {
	return &kvRepo{store: store}
}

func (r *kvRepo) load(ctx context.Context) ([]*Rule, error) {
	var rules []*Rule
	err := kv.GetJSON(ctx, r.store, ruleSetKey, &rules)
	if errors.Is(err, kv.ErrNotFound) {
		return []*Rule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

func (r *kvRepo) List(ctx context.Context) ([]*Rule, error) {
	return r.load(ctx)
}

func (r *kvRepo) Get(ctx context.Context, ruleID string) (*Rule, error) {
	rules, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, rl := range rules {
		if rl.RuleID == ruleID {
			return rl, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ruleID)
}

func (r *kvRepo) Update(ctx context.Context, fn func([]*Rule) ([]*Rule, error)) ([]*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		next = []*Rule{}
	}
	if err := kv.SetJSON(ctx, r.store, ruleSetKey, next); err != nil {
		return nil, fmt.Errorf("store rules: %w", err)
	}
	return next, nil
}
