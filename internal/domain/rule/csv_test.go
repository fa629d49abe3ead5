package rule

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func TestCSV_RoundTripQuoting(t *testing.T) {
	rules := []Candidate{
		{
			RuleID:        "AU-MOD25-0001",
			Code:          "52287,J0585",
			Action:        "@ADD(@25)",
			PayerGroup:    "@BCBS|@MEDICARE",
			ProviderGroup: "@PHYSICIAN_MD_DO",
			Description:   `For @BCBS payers, add "modifier 25", then bill.`,
			EffectiveDate: "2024-01-01",
			Reference:     "Policy 12,\nsection \"3\"",
		},
		{RuleID: "AU-MOD59-0002", Code: "99213", Action: "deny"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rules); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), strings.Join(Columns, ",")+"\n") {
		t.Errorf("expected header row, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"For @BCBS payers, add ""modifier 25"", then bill."`) {
		t.Errorf("expected RFC-4180 quoting, got %q", buf.String())
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got))
	}
	for i := range rules {
		rules[i].Source = SourceImport
		if !reflect.DeepEqual(got[i], rules[i]) {
			t.Errorf("row %d:\nexpected %+v\ngot      %+v", i, rules[i], got[i])
		}
	}
}

func TestCSV_GzipRoundTrip(t *testing.T) {
	rules := []Candidate{sampleCandidate()}
	var buf bytes.Buffer
	if err := Export(&buf, rules, true); err != nil {
		t.Fatalf("export: %v", err)
	}
	if b := buf.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Fatal("expected gzip magic bytes")
	}
	got, err := Import(&buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 || got[0].Description != rules[0].Description {
		t.Errorf("unexpected rules: %+v", got)
	}
}

func TestImport_PlainCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, []Candidate{sampleCandidate()}, false); err != nil {
		t.Fatal(err)
	}
	got, err := Import(&buf)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(got) != 1 || got[0].RuleID != "AU-MOD25-0001" {
		t.Errorf("unexpected rules: %+v", got)
	}
}

func TestReadCSV_ReorderedColumns(t *testing.T) {
	in := "code,RULE_ID,action\n99213,AU-DNY-0001,deny\n"
	got, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0].RuleID != "AU-DNY-0001" || got[0].Code != "99213" || got[0].Action != "deny" {
		t.Errorf("unexpected rule: %+v", got[0])
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"unknown column": "rule_id,colour\nAU-X-0001,red\n",
		"missing id":     "code,action\n99213,deny\n",
		"ragged row":     "rule_id,code\nAU-X-0001\n",
		"bad quote":      "rule_id,code\n\"AU-X-0001,99213\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(in)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// The fixed columns have no room for codes_selected or code_group, so a
// @SWAP rule comes back from the table without its selected codes and fails
// validation until they are filled in again.
func TestCSV_SwapRuleLosesCodesSelected(t *testing.T) {
	v := NewValidator(newTestRegistry(t))
	c := sampleCandidate()
	c.Action = "@SWAP(@25, @59)"
	c.CodesSelected = []string{"99213"}
	if res := v.Validate(c); !res.IsValid {
		t.Fatalf("expected the stored rule to validate, got %+v", res.Errors)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []Candidate{c}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || len(got[0].CodesSelected) != 0 || got[0].CodeGroup != "" {
		t.Fatalf("expected codes_selected and code_group to be dropped, got %+v", got)
	}
	if res := v.Validate(got[0]); !hasIssue(res.Errors, "codes_selected", "required") {
		t.Errorf("expected the re-imported rule to need codes_selected, got %+v", res.Errors)
	}
}
