package matching

import (
	"strings"
	"unicode"
)

// actionSynonyms maps a canonical action verb to the words documents use for it.
var actionSynonyms = map[string][]string{
	"add":     {"append", "include", "attach", "insert"},
	"remove":  {"delete", "exclude", "drop", "omit", "strip"},
	"swap":    {"replace", "substitute", "exchange", "switch"},
	"deny":    {"reject", "decline", "refuse", "disallow"},
	"approve": {"accept", "allow", "permit"},
	"link":    {"associate", "connect", "pair", "tie"},
	"review":  {"audit", "inspect", "check"},
	"bundle":  {"combine", "group"},
}

var synonymIndex = func() map[string]string {
	idx := make(map[string]string)
	for verb, syns := range actionSynonyms {
		idx[verb] = verb
		for _, s := range syns {
			idx[s] = verb
		}
	}
	return idx
}()

// canonicalVerb returns the first canonical action verb found in text.
// Unlike words, it keeps short tokens so that "add" survives.
func canonicalVerb(text string) (string, bool) {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, f := range fields {
		if v, ok := synonymIndex[f]; ok {
			return v, true
		}
	}
	return "", false
}
