package lookup

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Repository is the read side of the vocabulary. It is the only source of
// truth for tag existence; services receive it through their constructors.
type Repository interface {
	Get(kind Kind, tag string) (*Tag, bool)
	Has(kind Kind, tag string) bool
	List(kind Kind) []*Tag
}

// Snapshotter is implemented by repositories that can hand out an immutable
// copy for the duration of one validation or analysis pass.
type Snapshotter interface {
	Snapshot() *Snapshot
}

// table holds one kind's tags in insertion order.
type table struct {
	order []string
	byTag map[string]*Tag
}

func newTable() *table { return &table{byTag: make(map[string]*Tag)} }

func (t *table) clone() *table {
	c := &table{order: append([]string(nil), t.order...), byTag: make(map[string]*Tag, len(t.byTag))}
	for k, v := range t.byTag {
		c.byTag[k] = v.Clone()
	}
	return c
}

func (t *table) list() []*Tag {
	out := make([]*Tag, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byTag[k].Clone())
	}
	return out
}

func (t *table) remove(tag string) {
	delete(t.byTag, tag)
	for i, k := range t.order {
		if k == tag {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Registry is the process-wide mutable vocabulary.
type Registry struct {
	mu     sync.RWMutex
	tables map[Kind]*table
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{tables: make(map[Kind]*table, len(Kinds)), now: time.Now}
	for _, k := range Kinds {
		r.tables[k] = newTable()
	}
	return r
}

func normalize(kind Kind, tag string) string {
	tag = strings.TrimSpace(tag)
	if kind == KindChartSection {
		tag = strings.TrimPrefix(tag, "@")
	}
	return tag
}

// Add inserts a new tag. Missing status and creator default to ACTIVE/SYSTEM
// for system seeds and NEEDS_DEFINITION for AI or user creations.
func (r *Registry) Add(t *Tag) error {
	t = t.Clone()
	t.Tag = normalize(t.Kind, t.Tag)
	if t.CreatedBy == "" {
		t.CreatedBy = CreatedBySystem
	}
	if t.Status == "" {
		if t.CreatedBy == CreatedBySystem {
			t.Status = StatusActive
		} else {
			t.Status = StatusNeedsDefinition
		}
	}
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	tbl, ok := r.tables[t.Kind]
	if !ok {
		return fmt.Errorf("unknown lookup kind: %s", t.Kind)
	}
	if _, exists := tbl.byTag[t.Tag]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicate, t.Kind, t.Tag)
	}
	if t.CreatedDate.IsZero() {
		t.CreatedDate = r.now().UTC()
	}
	tbl.byTag[t.Tag] = t
	tbl.order = append(tbl.order, t.Tag)
	return nil
}

// Get returns a copy of the tag.
func (r *Registry) Get(kind Kind, tag string) (*Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.tables[kind]
	if !ok {
		return nil, false
	}
	t, ok := tbl.byTag[normalize(kind, tag)]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Has reports whether the tag is registered under kind.
func (r *Registry) Has(kind Kind, tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.tables[kind]
	if !ok {
		return false
	}
	_, ok = tbl.byTag[normalize(kind, tag)]
	return ok
}

// List returns copies of every tag of a kind in insertion order.
func (r *Registry) List(kind Kind) []*Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.tables[kind]
	if !ok {
		return nil
	}
	return tbl.list()
}

// All returns every tag across kinds, in kind order.
func (r *Registry) All() []*Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Tag
	for _, k := range Kinds {
		out = append(out, r.tables[k].list()...)
	}
	return out
}

// Replace swaps the whole vocabulary for tags, e.g. after loading from storage.
func (r *Registry) Replace(tags []*Tag) error {
	next := make(map[Kind]*table, len(Kinds))
	for _, k := range Kinds {
		next[k] = newTable()
	}
	for _, t := range tags {
		tbl, ok := next[t.Kind]
		if !ok {
			return fmt.Errorf("unknown lookup kind: %s", t.Kind)
		}
		c := t.Clone()
		c.Tag = normalize(c.Kind, c.Tag)
		if _, dup := tbl.byTag[c.Tag]; dup {
			return fmt.Errorf("%w: %s %s", ErrDuplicate, c.Kind, c.Tag)
		}
		tbl.byTag[c.Tag] = c
		tbl.order = append(tbl.order, c.Tag)
	}
	r.mu.Lock()
	r.tables = next
	r.mu.Unlock()
	return nil
}

// CanDeleteTag reports whether a tag may be removed. Tags still referenced
// by rules (usage_count > 0) may not.
func (r *Registry) CanDeleteTag(kind Kind, tag string) DeleteCheck {
	t, ok := r.Get(kind, tag)
	if !ok {
		return DeleteCheck{CanDelete: false, Reason: "tag not found"}
	}
	if t.UsageCount > 0 {
		return DeleteCheck{CanDelete: false, Reason: fmt.Sprintf("tag is used by %d rule(s)", t.UsageCount)}
	}
	return DeleteCheck{CanDelete: true}
}

// Promote moves a tag to ACTIVE.
func (r *Registry) Promote(kind Kind, tag string) (*Tag, error) {
	return r.update(kind, tag, func(t *Tag) error {
		if t.Kind == KindCodeGroup && len(t.ExpandsTo) == 0 {
			return fmt.Errorf("code group %s must expand to at least one code before promotion", t.Tag)
		}
		t.Status = StatusActive
		return nil
	})
}

// Deprecate marks a tag DEPRECATED without removing it.
func (r *Registry) Deprecate(kind Kind, tag string) (*Tag, error) {
	return r.update(kind, tag, func(t *Tag) error {
		t.Status = StatusDeprecated
		return nil
	})
}

// Remove hard-deletes a tag if CanDeleteTag allows it.
func (r *Registry) Remove(kind Kind, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tbl, ok := r.tables[kind]
	if !ok {
		return fmt.Errorf("unknown lookup kind: %s", kind)
	}
	key := normalize(kind, tag)
	t, ok := tbl.byTag[key]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, tag)
	}
	if t.UsageCount > 0 {
		return fmt.Errorf("%w: %s used by %d rule(s)", ErrInUse, t.Tag, t.UsageCount)
	}
	tbl.remove(key)
	return nil
}

// AdjustUsage adds delta to a tag's usage count, clamping at zero. Unknown
// tags are ignored and reported as false.
func (r *Registry) AdjustUsage(kind Kind, tag string, delta int) bool {
	_, err := r.update(kind, tag, func(t *Tag) error {
		t.UsageCount += delta
		if t.UsageCount < 0 {
			t.UsageCount = 0
		}
		return nil
	})
	return err == nil
}

// Retain adds one use to every ref. When any ref is not registered nothing
// is counted and ErrNotFound is returned.
func (r *Registry) Retain(refs []Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range refs {
		tbl, ok := r.tables[ref.Kind]
		if !ok {
			return fmt.Errorf("unknown lookup kind: %s", ref.Kind)
		}
		if _, ok := tbl.byTag[normalize(ref.Kind, ref.Tag)]; !ok {
			return fmt.Errorf("%w: %s %s", ErrNotFound, ref.Kind, ref.Tag)
		}
	}
	for _, ref := range refs {
		tbl := r.tables[ref.Kind]
		key := normalize(ref.Kind, ref.Tag)
		next := tbl.byTag[key].Clone()
		next.UsageCount++
		tbl.byTag[key] = next
	}
	return nil
}

func (r *Registry) update(kind Kind, tag string, fn func(*Tag) error) (*Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tbl, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown lookup kind: %s", kind)
	}
	t, ok := tbl.byTag[normalize(kind, tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, tag)
	}
	next := t.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	tbl.byTag[next.Tag] = next
	return next.Clone(), nil
}

// Snapshot returns an immutable copy of the vocabulary.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{tables: make(map[Kind]*table, len(r.tables))}
	for k, t := range r.tables {
		s.tables[k] = t.clone()
	}
	return s
}

// Snapshot is a frozen Repository.
type Snapshot struct {
	tables map[Kind]*table
}

func (s *Snapshot) Get(kind Kind, tag string) (*Tag, bool) {
	tbl, ok := s.tables[kind]
	if !ok {
		return nil, false
	}
	t, ok := tbl.byTag[normalize(kind, tag)]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Snapshot) Has(kind Kind, tag string) bool {
	tbl, ok := s.tables[kind]
	if !ok {
		return false
	}
	_, ok = tbl.byTag[normalize(kind, tag)]
	return ok
}

func (s *Snapshot) List(kind Kind) []*Tag {
	tbl, ok := s.tables[kind]
	if !ok {
		return nil
	}
	return tbl.list()
}

// Freeze returns a snapshot of repo when it supports snapshots, otherwise repo itself.
func Freeze(repo Repository) Repository {
	if s, ok := repo.(Snapshotter); ok {
		return s.Snapshot()
	}
	return repo
}

// FindAny looks a tag up across every kind, returning the first match in kind order.
func FindAny(repo Repository, tag string) (*Tag, bool) {
	for _, k := range Kinds {
		if t, ok := repo.Get(k, tag); ok {
			return t, true
		}
	}
	return nil, false
}
