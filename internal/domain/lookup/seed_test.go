package lookup

import (
	"context"
	"strings"
	"testing"

	"github.com/sopkit/sopkit/internal/platform/kv"
)

const testSeed = `
version: 1
code_groups:
  - tag: "@BOTOX_BLADDER"
    purpose: Botox bladder injection
    expands_to: ["52287", "J0585"]
payer_groups:
  - tag: "@BCBS"
    name: Blue Cross Blue Shield
provider_groups:
  - tag: "@PHYSICIAN_MD_DO"
    name: Physicians MD/DO
action_tags:
  - tag: "@ADD"
    syntax: "@ADD(@modifier)"
    description: Add a modifier
    category: modifier
chart_sections:
  - tag: PROCEDURE_NOTE
    description: Procedure note
`

func TestReadSeed(t *testing.T) {
	tags, err := ReadSeed(strings.NewReader(testSeed))
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	if len(tags) != 5 {
		t.Fatalf("expected 5 tags, got %d", len(tags))
	}
	if tags[0].Kind != KindCodeGroup || len(tags[0].ExpandsTo) != 2 {
		t.Errorf("unexpected code group: %+v", tags[0])
	}
	if tags[4].Kind != KindChartSection {
		t.Errorf("expected chart section last, got %s", tags[4].Kind)
	}
	for _, tag := range tags {
		if tag.CreatedBy != CreatedBySystem {
			t.Errorf("expected seeded tags to be SYSTEM-created, got %s", tag.CreatedBy)
		}
	}
}

func TestReadSeed_RejectsVersion(t *testing.T) {
	_, err := ReadSeed(strings.NewReader("version: 2\n"))
	if err == nil {
		t.Fatal("expected unsupported version error")
	}
}

func TestReadSeed_RejectsUnknownFields(t *testing.T) {
	_, err := ReadSeed(strings.NewReader("version: 1\nmodifiers: []\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestRegistry_SeedSkipsExisting(t *testing.T) {
	tags, _ := ReadSeed(strings.NewReader(testSeed))
	r := NewRegistry()
	n, err := r.Seed(tags)
	if err != nil || n != 5 {
		t.Fatalf("first seed = %d, %v", n, err)
	}
	again, _ := ReadSeed(strings.NewReader(testSeed))
	n, err = r.Seed(again)
	if err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v; want 0", n, err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemoryStore()
	store := NewStore(backing)

	r := newTestRegistry(t)
	r.AdjustUsage(KindPayerGroup, "@BCBS", 2)
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := NewRegistry()
	found, err := store.Load(ctx, restored)
	if err != nil || !found {
		t.Fatalf("load = %v, %v", found, err)
	}
	tag, ok := restored.Get(KindPayerGroup, "@BCBS")
	if !ok || tag.UsageCount != 2 {
		t.Errorf("expected restored usage 2, got %+v", tag)
	}

	found, err = NewStore(kv.NewMemoryStore()).Load(ctx, NewRegistry())
	if err != nil || found {
		t.Errorf("expected empty store to report not found, got %v, %v", found, err)
	}
}

func TestRenderContext(t *testing.T) {
	r := newTestRegistry(t)
	out := RenderContext(r)
	for _, want := range []string{"CODE_GROUP:", "@BOTOX_BLADDER - Botox bladder injection [52287,J0585]", "@BCBS - Blue Cross Blue Shield", "syntax @ADD(@tag)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected context to contain %q:\n%s", want, out)
		}
	}
}
