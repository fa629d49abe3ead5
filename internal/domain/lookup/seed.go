package lookup

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk vocabulary format:
//
//	version: 1
//	code_groups:
//	  - tag: "@BOTOX_BLADDER"
//	    purpose: Botox bladder injection
//	    expands_to: ["52287", "J0585"]
//	payer_groups: [...]
type seedFile struct {
	Version        int    `yaml:"version"`
	CodeGroups     []*Tag `yaml:"code_groups"`
	PayerGroups    []*Tag `yaml:"payer_groups"`
	ProviderGroups []*Tag `yaml:"provider_groups"`
	ActionTags     []*Tag `yaml:"action_tags"`
	ChartSections  []*Tag `yaml:"chart_sections"`
}

// ReadSeed decodes a vocabulary seed document.
func ReadSeed(r io.Reader) ([]*Tag, error) {
	var sf seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("decode lookup seed: %w", err)
	}
	if sf.Version != 1 {
		return nil, errors.New("lookup seed: unsupported version")
	}

	var tags []*Tag
	collect := func(kind Kind, list []*Tag) {
		for _, t := range list {
			t.Kind = kind
			if t.CreatedBy == "" {
				t.CreatedBy = CreatedBySystem
			}
			tags = append(tags, t)
		}
	}
	collect(KindCodeGroup, sf.CodeGroups)
	collect(KindPayerGroup, sf.PayerGroups)
	collect(KindProviderGroup, sf.ProviderGroups)
	collect(KindActionTag, sf.ActionTags)
	collect(KindChartSection, sf.ChartSections)
	return tags, nil
}

// LoadSeedFile reads a seed file from disk.
func LoadSeedFile(path string) ([]*Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSeed(f)
}

// Seed adds tags that are not yet registered and returns how many were new.
func (r *Registry) Seed(tags []*Tag) (int, error) {
	added := 0
	for _, t := range tags {
		if r.Has(t.Kind, t.Tag) {
			continue
		}
		if err := r.Add(t); err != nil {
			return added, fmt.Errorf("seed %s %s: %w", t.Kind, t.Tag, err)
		}
		added++
	}
	return added, nil
}
