package rule

import (
	"errors"
	"strings"
	"time"
)

// Status is the review lifecycle of a rule.
type Status string

const (
	StatusPending         Status = "pending"
	StatusReviewed        Status = "reviewed"
	StatusApproved        Status = "approved"
	StatusActive          Status = "active"
	StatusRejected        Status = "rejected"
	StatusNeedsDefinition Status = "needs_definition"
)

// ValidationStatus summarizes the last validation of a rule.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationWarning ValidationStatus = "warning"
	ValidationError   ValidationStatus = "error"
)

// Source records how a rule entered the system.
type Source string

const (
	SourceAI     Source = "ai"
	SourceManual Source = "manual"
	SourceImport Source = "import"
)

var ErrNotFound = errors.New("rule not found")

// Candidate is a rule as it arrives from extraction, import or manual entry.
// Every field may be empty or malformed; only Validator.Promote turns a
// candidate into a Rule.
type Candidate struct {
	RuleID               string   `json:"rule_id"`
	Code                 string   `json:"code"`
	CodeGroup            string   `json:"code_group,omitempty"`
	CodesSelected        []string `json:"codes_selected,omitempty"`
	Action               string   `json:"action"`
	PayerGroup           string   `json:"payer_group"`
	ProviderGroup        string   `json:"provider_group"`
	Description          string   `json:"description"`
	ChartSection         string   `json:"chart_section,omitempty"`
	DocumentationTrigger string   `json:"documentation_trigger,omitempty"`
	EffectiveDate        string   `json:"effective_date"`
	EndDate              string   `json:"end_date,omitempty"`
	Reference            string   `json:"reference,omitempty"`
	SOPID                string   `json:"sop_id,omitempty"`
	Source               Source   `json:"source,omitempty"`
	Confidence           *float64 `json:"confidence,omitempty"`
}

// Clone returns a deep copy.
func (c Candidate) Clone() Candidate {
	if c.CodesSelected != nil {
		c.CodesSelected = append([]string(nil), c.CodesSelected...)
	}
	if c.Confidence != nil {
		v := *c.Confidence
		c.Confidence = &v
	}
	return c
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (c Candidate) Trimmed() Candidate {
	c = c.Clone()
	for _, f := range []*string{
		&c.RuleID, &c.Code, &c.CodeGroup, &c.Action, &c.PayerGroup, &c.ProviderGroup,
		&c.Description, &c.ChartSection, &c.DocumentationTrigger, &c.EffectiveDate,
		&c.EndDate, &c.Reference, &c.SOPID,
	} {
		*f = strings.TrimSpace(*f)
	}
	selected := c.CodesSelected[:0]
	for _, s := range c.CodesSelected {
		if s = strings.TrimSpace(s); s != "" {
			selected = append(selected, s)
		}
	}
	c.CodesSelected = selected
	return c
}

// Rule is a candidate that passed validation without errors.
type Rule struct {
	Candidate
	Status           Status           `json:"status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Candidate = r.Candidate.Clone()
	return &c
}
