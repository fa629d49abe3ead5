package rule

import (
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// RecognizedVerbs is the closed set of action verbs a rule may use.
var RecognizedVerbs = []string{
	"ADD", "REMOVE", "SWAP", "COND_ADD", "COND_REMOVE", "LINK", "DENY", "APPROVE",
	"REVIEW", "REQUIRE_PRIOR_AUTH", "BUNDLE", "UNBUNDLE", "FLAG",
}

// codeToCodeVerbs need an explicit codes_selected list.
var codeToCodeVerbs = map[string]bool{"SWAP": true, "COND_ADD": true, "COND_REMOVE": true}

var (
	tagPattern        = regexp.MustCompile(`@[A-Za-z0-9_&]+`)
	expressionPattern = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_]*)\(([^()]*)\)`)
	verbPattern       = regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9])(` + strings.Join(RecognizedVerbs, "|") + `)(?:[^A-Za-z0-9]|$)`)
	ruleIDPattern     = regexp.MustCompile(`^[A-Z]{2,4}-[A-Z0-9_]+-\d{4}$`)
	cptPattern        = regexp.MustCompile(`^\d{5}$`)
	hcpcsPattern      = regexp.MustCompile(`^[A-Z]\d{4}$`)
	datePattern       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	sentenceEnd       = regexp.MustCompile(`[.!?]`)
)

var recognizedVerb = func() map[string]bool {
	m := make(map[string]bool, len(RecognizedVerbs))
	for _, v := range RecognizedVerbs {
		m[v] = true
	}
	return m
}()

// Expression is one @VERB(args) term of an action field.
type Expression struct {
	Verb string   `json:"verb"`
	Args []string `json:"args,omitempty"`
	Raw  string   `json:"raw"`
}

// Tag returns the action tag the expression invokes, e.g. "@ADD".
func (e Expression) Tag() string { return "@" + e.Verb }

// ParseActions extracts the @VERB(args) expressions of an action field in
// order. Verbs are upper-cased; args are trimmed, comma-separated terms.
func ParseActions(action string) []Expression {
	var out []Expression
	for _, m := range expressionPattern.FindAllStringSubmatch(action, -1) {
		e := Expression{Verb: strings.ToUpper(m[1]), Raw: m[0]}
		for _, a := range strings.Split(m[2], ",") {
			if a = strings.TrimSpace(a); a != "" {
				e.Args = append(e.Args, a)
			}
		}
		out = append(out, e)
	}
	return out
}

// Tags returns the distinct @TAG tokens of s in order of appearance.
func Tags(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range tagPattern.FindAllString(s, -1) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// IsModifier reports whether tag is a billing modifier such as @25 or @59
// rather than a vocabulary reference.
func IsModifier(tag string) bool {
	return len(strings.TrimPrefix(tag, "@")) <= 2
}

// ContainsActionExpression reports whether s holds an @VERB(...) expression
// or a bare tag naming a recognized verb.
func ContainsActionExpression(s string) bool {
	if expressionPattern.MatchString(s) {
		return true
	}
	for _, t := range Tags(s) {
		if recognizedVerb[strings.ToUpper(strings.TrimPrefix(t, "@"))] {
			return true
		}
	}
	return false
}

// HasRecognizedVerb reports whether the action text uses any recognized
// verb, written as @VERB(...), @VERB or a bare word.
func HasRecognizedVerb(action string) bool {
	return verbPattern.MatchString(action)
}

// ActionTags returns the action tags an action field invokes: the verb of
// every expression plus bare @VERB tokens for recognized verbs.
func ActionTags(action string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, e := range ParseActions(action) {
		add(e.Tag())
	}
	for _, t := range Tags(expressionPattern.ReplaceAllString(action, " ")) {
		if up := strings.ToUpper(t); recognizedVerb[up[1:]] {
			add(up)
		}
	}
	return out
}

// RequiresCodesSelected reports whether the action uses a code-to-code verb.
func RequiresCodesSelected(action string) bool {
	for _, t := range ActionTags(action) {
		if codeToCodeVerbs[t[1:]] {
			return true
		}
	}
	return false
}

// NormalizeAction reduces an action field to its leading verb in lower
// case: "@DENY(@X)" and "deny" both become "deny".
func NormalizeAction(action string) string {
	a := strings.TrimSpace(action)
	a = strings.TrimPrefix(a, "@")
	if i := strings.IndexAny(a, "( \t"); i >= 0 {
		a = a[:i]
	}
	return strings.ToLower(a)
}

// SplitList splits a pipe-delimited payer or provider list.
func SplitList(s string) []string {
	return split(s, "|")
}

// SplitCodes splits a comma-delimited code list.
func SplitCodes(s string) []string {
	return split(s, ",")
}

func split(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsLiteralCode reports whether code is a 5-digit CPT or a letter followed by four digits (HCPCS).
func IsLiteralCode(code string) bool {
	return cptPattern.MatchString(code) || hcpcsPattern.MatchString(code)
}

// ValidRuleID reports whether id has the PREFIX-MNEMONIC-NNNN form.
func ValidRuleID(id string) bool {
	return ruleIDPattern.MatchString(id)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, bool) {
	if !datePattern.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sentenceCount is the number of non-empty segments between sentence terminators.
func sentenceCount(s string) int {
	n := 0
	for _, seg := range sentenceEnd.Split(s, -1) {
		if strings.TrimSpace(seg) != "" {
			n++
		}
	}
	return n
}
