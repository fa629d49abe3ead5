package lookup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

const registryKey = "lookup/registry"

// Store persists the whole registry as a single JSON document.
type Store struct {
	kv kv.Store
}

func NewStore(s kv.Store) *Store { return &Store{kv: s} }

// Load restores reg from storage. A missing document leaves reg untouched
// and reports false.
func (s *Store) Load(ctx context.Context, reg *Registry) (bool, error) {
	var tags []*Tag
	err := kv.GetJSON(ctx, s.kv, registryKey, &tags)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load lookup registry: %w", err)
	}
	if err := reg.Replace(tags); err != nil {
		return false, fmt.Errorf("load lookup registry: %w", err)
	}
	return true, nil
}

// Save writes the full registry.
func (s *Store) Save(ctx context.Context, reg *Registry) error {
	return kv.SetJSON(ctx, s.kv, registryKey, reg.All())
}

// RenderContext lists the vocabulary in the compact form handed to the
// extraction model, one tag per line grouped by kind.
func RenderContext(repo Repository) string {
	var b strings.Builder
	for _, k := range Kinds {
		tags := repo.List(k)
		if len(tags) == 0 {
			continue
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i].Tag < tags[j].Tag })
		fmt.Fprintf(&b, "%s:\n", strings.ToUpper(string(k)))
		for _, t := range tags {
			if t.Status == StatusDeprecated {
				continue
			}
			line := "  " + t.Tag
			if texts := t.Texts(); len(texts) > 0 {
				line += " - " + texts[0]
			}
			if t.Kind == KindCodeGroup && len(t.ExpandsTo) > 0 {
				line += " [" + strings.Join(t.ExpandsTo, ",") + "]"
			}
			if t.Kind == KindActionTag && t.Syntax != "" {
				line += " syntax " + t.Syntax
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
