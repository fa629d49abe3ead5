package llm

import (
	"fmt"
	"strings"

	"github.com/sopkit/sopkit/internal/domain/rule"
)

const systemPrompt = `You extract claim-editing rules from Standard Operating Procedure documents.
Return ONLY a JSON array. Each element is one rule with these string fields:
rule_id, code, code_group, action, payer_group, provider_group, description,
chart_section, documentation_trigger, effective_date, end_date, reference,
plus codes_selected (array of strings) and confidence (number 0..1).

Conventions:
- rule_id is PREFIX-MNEMONIC-NNNN, for example AU-MOD25-0001.
- code holds literal codes (comma separated) or a single @CODE_GROUP tag, never actions.
- action uses @VERB(@arg) expressions with verbs: %s.
- payer_group and provider_group hold a tag or a pipe-separated list of tags, or ALL_PAYERS / ALL_PROVIDERS.
- description is exactly one sentence ending with a period and mentions the tags inline.
- dates are YYYY-MM-DD.
- Prefer tags from the vocabulary below. If a needed tag is missing, invent an @UPPER_SNAKE tag.`

// buildMessages renders the chat prompt for one document.
func buildMessages(documentText, lookupContext string) []message {
	system := fmt.Sprintf(systemPrompt, strings.Join(rule.RecognizedVerbs, ", "))
	if strings.TrimSpace(lookupContext) != "" {
		system += "\n\nVocabulary:\n" + lookupContext
	}
	return []message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Document:\n" + documentText},
	}
}
