// Package classify triages natural-language data questions before any
// expensive work happens. Classification is deterministic and pure; a
// wrong call here costs latency, never correctness, because the
// orchestrator always has the LLM path to fall back on.
package classify

import (
	"strings"
	"unicode"
)

// Decision is the outcome of triaging a query.
type Decision struct {
	FastPath bool   // answerable locally without an LLM call
	NeedsLLM bool   // requires SQL generation via the LLM
	Matched  string // the lexical rule that fired, for logging
}

// Rules holds the lexical patterns driving classification. The exact word
// lists are tuning parameters surfaced through configuration, not contracts.
type Rules struct {
	// FastVerbs are leading verbs that mark a simple retrieval request.
	FastVerbs []string
	// AnalyticalKeywords anywhere in the query force the LLM path.
	AnalyticalKeywords []string
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		FastVerbs: []string{"show", "list", "count", "display", "preview"},
		AnalyticalKeywords: []string{
			"forecast", "trend", "predict", "correlat", "compar",
			"analyz", "analys", "why", "estimate", "projection",
			"anomal", "regression", "versus",
		},
	}
}

// Classifier applies lexical rules to query text.
type Classifier struct {
	rules Rules
}

// New creates a Classifier. Empty rule lists fall back to the defaults.
func New(rules Rules) *Classifier {
	def := DefaultRules()
	if len(rules.FastVerbs) == 0 {
		rules.FastVerbs = def.FastVerbs
	}
	if len(rules.AnalyticalKeywords) == 0 {
		rules.AnalyticalKeywords = def.AnalyticalKeywords
	}
	return &Classifier{rules: rules}
}

// Classify triages text. It is a pure function of its input: same text,
// same Decision. Empty text needs the LLM path (which will reject it with
// a proper error).
func (c *Classifier) Classify(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Decision{NeedsLLM: true}
	}

	for _, kw := range c.rules.AnalyticalKeywords {
		if strings.Contains(normalized, kw) {
			return Decision{NeedsLLM: true, Matched: kw}
		}
	}

	lead := leadingWord(normalized)
	for _, verb := range c.rules.FastVerbs {
		if lead == verb {
			return Decision{FastPath: true, Matched: verb}
		}
	}

	// "how many ..." is a count request in disguise.
	if strings.HasPrefix(normalized, "how many") {
		return Decision{FastPath: true, Matched: "how many"}
	}

	return Decision{NeedsLLM: true}
}

// leadingWord returns the first run of letters in s.
func leadingWord(s string) string {
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}
