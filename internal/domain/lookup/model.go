package lookup

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the five lookup vocabularies.
type Kind string

const (
	KindCodeGroup     Kind = "code_group"
	KindPayerGroup    Kind = "payer_group"
	KindProviderGroup Kind = "provider_group"
	KindActionTag     Kind = "action_tag"
	KindChartSection  Kind = "chart_section"
)

// Kinds lists every kind in registry order.
var Kinds = []Kind{KindCodeGroup, KindPayerGroup, KindProviderGroup, KindActionTag, KindChartSection}

// ParseKind accepts the canonical kind names plus the plural/hyphenated forms
// used in URLs (e.g. "code-groups").
func ParseKind(s string) (Kind, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.TrimSuffix(k, "s")
	for _, kind := range Kinds {
		if string(kind) == k {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown lookup kind: %s", s)
}

// Status is the lifecycle state of a lookup tag.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusNeedsDefinition Status = "NEEDS_DEFINITION"
	StatusPendingReview   Status = "PENDING_REVIEW"
	StatusDeprecated      Status = "DEPRECATED"
)

var validStatuses = map[Status]bool{
	StatusActive: true, StatusNeedsDefinition: true, StatusPendingReview: true, StatusDeprecated: true,
}

// Creator records who introduced a tag.
type Creator string

const (
	CreatedBySystem Creator = "SYSTEM"
	CreatedByAI     Creator = "AI"
	CreatedByUser   Creator = "USER"
)

var (
	ErrNotFound  = errors.New("lookup tag not found")
	ErrDuplicate = errors.New("lookup tag already exists")
	ErrInUse     = errors.New("lookup tag is referenced by rules")
)

// Tag is one entry of the controlled vocabulary. Kind selects which payload
// fields are meaningful:
//   - code_group: ExpandsTo, Purpose
//   - payer_group / provider_group: Name, Description, Type
//   - action_tag: Syntax, Description, Category
//   - chart_section: Description
type Tag struct {
	Kind Kind   `json:"kind" yaml:"-"`
	Tag  string `json:"tag" yaml:"tag"`

	ExpandsTo []string `json:"expands_to,omitempty" yaml:"expands_to,omitempty"`
	Purpose   string   `json:"purpose,omitempty" yaml:"purpose,omitempty"`

	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`

	Syntax   string `json:"syntax,omitempty" yaml:"syntax,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	Status          Status    `json:"status" yaml:"status,omitempty"`
	UsageCount      int       `json:"usage_count" yaml:"usage_count,omitempty"`
	CreatedBy       Creator   `json:"created_by" yaml:"created_by,omitempty"`
	CreatedDate     time.Time `json:"created_date" yaml:"-"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}

// Ref identifies a tag without its payload.
type Ref struct {
	Kind Kind   `json:"kind"`
	Tag  string `json:"tag"`
}

// Bare returns the tag name without its leading '@'.
func (t *Tag) Bare() string {
	return strings.TrimPrefix(t.Tag, "@")
}

// Texts returns the canonical phrases a tag can be matched against.
func (t *Tag) Texts() []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t.Kind {
	case KindCodeGroup:
		add(t.Purpose)
	case KindPayerGroup, KindProviderGroup:
		add(t.Name)
		add(t.Description)
	case KindActionTag, KindChartSection:
		add(t.Description)
	}
	return out
}

// Clone returns a deep copy.
func (t *Tag) Clone() *Tag {
	c := *t
	if t.ExpandsTo != nil {
		c.ExpandsTo = append([]string(nil), t.ExpandsTo...)
	}
	if t.ConfidenceScore != nil {
		v := *t.ConfidenceScore
		c.ConfidenceScore = &v
	}
	return &c
}

// Validate checks the structural invariants of a tag.
func (t *Tag) Validate() error {
	if t.Tag == "" {
		return fmt.Errorf("tag is required")
	}
	if strings.ContainsAny(t.Tag, " \t|,") {
		return fmt.Errorf("tag %q must not contain whitespace, pipes or commas", t.Tag)
	}
	if t.Kind == KindChartSection {
		if strings.HasPrefix(t.Tag, "@") {
			return fmt.Errorf("chart section %q must not start with '@'", t.Tag)
		}
	} else if !strings.HasPrefix(t.Tag, "@") || len(t.Tag) < 2 {
		return fmt.Errorf("tag %q must start with '@'", t.Tag)
	}
	if t.Status != "" && !validStatuses[t.Status] {
		return fmt.Errorf("invalid tag status: %s", t.Status)
	}
	if t.UsageCount < 0 {
		return fmt.Errorf("usage_count must be >= 0")
	}
	if t.ConfidenceScore != nil {
		if t.CreatedBy != CreatedByAI {
			return fmt.Errorf("confidence_score is only allowed on AI-created tags")
		}
		if *t.ConfidenceScore < 0 || *t.ConfidenceScore > 1 {
			return fmt.Errorf("confidence_score must be between 0 and 1")
		}
	}
	if t.Kind == KindCodeGroup && len(t.ExpandsTo) == 0 && t.Status == StatusActive {
		return fmt.Errorf("active code group %s must expand to at least one code", t.Tag)
	}
	return nil
}

// DeleteCheck is the answer to CanDeleteTag.
type DeleteCheck struct {
	CanDelete bool   `json:"can_delete"`
	Reason    string `json:"reason,omitempty"`
}
