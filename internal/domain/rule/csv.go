package rule

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/pgzip"
)

// Columns is the fixed column order of the rule table export.
var Columns = []string{
	"rule_id", "code", "action", "payer_group", "provider_group", "description",
	"documentation_trigger", "chart_section", "effective_date", "end_date", "reference",
}

func row(c Candidate) []string {
	return []string{
		c.RuleID, c.Code, c.Action, c.PayerGroup, c.ProviderGroup, c.Description,
		c.DocumentationTrigger, c.ChartSection, c.EffectiveDate, c.EndDate, c.Reference,
	}
}

func setColumn(c *Candidate, col, v string) {
	switch col {
	case "rule_id":
		c.RuleID = v
	case "code":
		c.Code = v
	case "action":
		c.Action = v
	case "payer_group":
		c.PayerGroup = v
	case "provider_group":
		c.ProviderGroup = v
	case "description":
		c.Description = v
	case "documentation_trigger":
		c.DocumentationTrigger = v
	case "chart_section":
		c.ChartSection = v
	case "effective_date":
		c.EffectiveDate = v
	case "end_date":
		c.EndDate = v
	case "reference":
		c.Reference = v
	}
}

// WriteCSV writes a header row followed by one row per candidate.
func WriteCSV(w io.Writer, rules []Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rules {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.RuleID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a rule table. The header selects columns by name, so
// exports with the columns reordered still import.
func ReadCSV(r io.Reader) ([]Candidate, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	known := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		known[c] = true
	}
	cols := make([]string, len(header))
	hasID := false
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if !known[h] {
			return nil, fmt.Errorf("unknown csv column %q", h)
		}
		cols[i] = h
		if h == "rule_id" {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("csv header must include rule_id")
	}
	cr.FieldsPerRecord = len(header)

	var out []Candidate
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		var c Candidate
		for i, v := range rec {
			setColumn(&c, cols[i], v)
		}
		c.Source = SourceImport
		out = append(out, c)
	}
	return out, nil
}

// Export writes the rule table, gzip-compressed when compress is set.
func Export(w io.Writer, rules []Candidate, compress bool) error {
	if !compress {
		return WriteCSV(w, rules)
	}
	zw := pgzip.NewWriter(w)
	if err := WriteCSV(zw, rules); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Import reads a plain or gzip-compressed rule table, detected by magic bytes.
func Import(r io.Reader) ([]Candidate, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		return ReadCSV(zr)
	}
	return ReadCSV(br)
}
