package rule

import "context"

// Repository stores the active rule set. Update is the only write path: it
// hands fn the current set and stores whatever fn returns as one atomic
// replacement. Calls to Update are serialized.
type Repository interface {
	List(ctx context.Context) ([]*Rule, error)
	Get(ctx context.Context, ruleID string) (*Rule, error)
	Update(ctx context.Context, fn func(current []*Rule) ([]*Rule, error)) ([]*Rule, error)
}
