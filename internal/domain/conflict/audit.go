package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

const auditPrefix = "conflicts/resolutions/"

// AuditLog appends resolutions under ulid keys so that listing by key
// returns them in the order they were applied.
type AuditLog struct {
	store   kv.Store
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func NewAuditLog(store kv.Store) *AuditLog {
	return &AuditLog{
		store:   store,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
}

func (a *AuditLog) newID(t time.Time) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), a.entropy).String()
}

// Append assigns the entry an id and timestamp and stores it.
func (a *AuditLog) Append(ctx context.Context, res *Resolution) error {
	now := a.now().UTC()
	res.ID = a.newID(now)
	res.Timestamp = now
	if err := kv.SetJSON(ctx, a.store, auditPrefix+res.ID, res); err != nil {
		return fmt.Errorf("append resolution: %w", err)
	}
	return nil
}

// List returns every resolution, oldest first.
func (a *AuditLog) List(ctx context.Context) ([]Resolution, error) {
	entries, err := a.store.List(ctx, auditPrefix)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	out := make([]Resolution, 0, len(entries))
	for _, e := range entries {
		var r Resolution
		if err := json.Unmarshal(e.Value, &r); err != nil {
			return nil, fmt.Errorf("decode resolution %s: %w", e.Key, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes an entry. It is only used to withdraw an entry whose
// resolution was never applied.
func (a *AuditLog) Delete(ctx context.Context, id string) error {
	if err := a.store.Delete(ctx, auditPrefix+id); err != nil {
		return fmt.Errorf("delete resolution %s: %w", id, err)
	}
	return nil
}

func ackKey(conflictID, rulesFingerprint string) string {
	return conflictID + ":" + rulesFingerprint
}

// Acknowledged returns the conflicts resolved with keep_both, keyed by
// conflict id and the fingerprint of the rules they covered.
func (a *AuditLog) Acknowledged(ctx context.Context) (map[string]bool, error) {
	all, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	acked := make(map[string]bool)
	for _, r := range all {
		if r.Action == ActionKeepBoth {
			acked[ackKey(r.ConflictID, r.RulesFingerprint)] = true
		}
	}
	return acked, nil
}
