// Package explain decides whether a generated SQL query needs a teaching
// explanation for a given user, and produces one when it does. Decisions
// prefer the LLM's judgement but always have a deterministic fallback, so
// an upstream failure never blocks a query result.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/perebor/askdb/internal/llm"
	"github.com/perebor/askdb/internal/profile"
)

// Explanation styles, from most to least hand-holding.
const (
	StyleWorkedExample = "worked_example"
	StyleGuided        = "guided"
	StyleReference     = "reference"
)

// Chatter is the slice of the LLM client this package needs.
type Chatter interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Assessment is the explanation decision for one query and user.
type Assessment struct {
	Complexity       int    `json:"complexity"`        // structural score of the SQL
	Perceived        int    `json:"perceived"`         // complexity adjusted for the user
	Concept          string `json:"concept"`           // dominant SQL concept
	NeedsExplanation bool   `json:"needs_explanation"`
	Style            string `json:"style"`
	Reason           string `json:"reason,omitempty"`
}

// Explanation is the rendered teaching content attached to a result.
type Explanation struct {
	Text       string   `json:"text"`
	Concepts   []string `json:"concepts,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
}

// Engine assesses queries and renders explanations.
type Engine struct {
	chat    Chatter
	timeout time.Duration
}

// NewEngine creates an Engine. A non-positive timeout defaults to 10s.
func NewEngine(chat Chatter, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{chat: chat, timeout: timeout}
}

// Assess decides whether the user needs an explanation for a query of the
// given structural complexity and concept. The LLM is consulted first;
// any failure or unparseable reply falls back to the deterministic rule.
func (e *Engine) Assess(ctx context.Context, p profile.Profile, complexity int, concept string) Assessment {
	fallback := fallbackAssessment(p, complexity, concept)
	if e.chat == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.chat.Complete(ctx, llm.Request{
		System: assessSystemPrompt,
		Messages: []llm.Message{{
			Role:    "user",
			Content: assessUserPrompt(p, complexity, concept),
		}},
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		slog.Debug("explanation assessment fell back to heuristic", "error", err)
		return fallback
	}

	var a Assessment
	if err := json.Unmarshal([]byte(extractJSON(out)), &a); err != nil {
		slog.Debug("unparseable assessment reply, using heuristic", "error", err)
		return fallback
	}

	// The model decides yes/no and style; the numbers stay ours.
	a.Complexity = complexity
	a.Perceived = fallback.Perceived
	a.Concept = concept
	if !validStyle(a.Style) {
		a.Style = fallback.Style
	}
	return a
}

// fallbackAssessment applies the deterministic rule: an explanation is due
// whenever the perceived complexity exceeds the user's mastery of the
// concept, with style chosen by expertise band.
func fallbackAssessment(p profile.Profile, complexity int, concept string) Assessment {
	perceived := p.Perceive(complexity)
	return Assessment{
		Complexity:       complexity,
		Perceived:        perceived,
		Concept:          concept,
		NeedsExplanation: perceived > p.ConceptLevel(concept),
		Style:            styleFor(p.ExpertiseLevel),
		Reason:           "heuristic",
	}
}

func styleFor(expertise int) string {
	switch {
	case expertise <= 2:
		return StyleWorkedExample
	case expertise == 3:
		return StyleGuided
	default:
		return StyleReference
	}
}

func validStyle(s string) bool {
	return s == StyleWorkedExample || s == StyleGuided || s == StyleReference
}

// Explain renders the explanation for an assessed query. Errors are
// returned to the caller, who treats them as non-fatal.
func (e *Engine) Explain(ctx context.Context, p profile.Profile, userQuery, sqlQuery string, a Assessment) (Explanation, error) {
	if e.chat == nil {
		return Explanation{}, fmt.Errorf("no llm client configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.chat.Complete(ctx, llm.Request{
		System: explainSystemPrompt(a.Style),
		Messages: []llm.Message{{
			Role:    "user",
			Content: explainUserPrompt(p, userQuery, sqlQuery, a),
		}},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return Explanation{}, fmt.Errorf("generating explanation: %w", err)
	}

	return parseExplanation(out), nil
}

// RowLimit decides how many result rows to show: a user under cognitive
// overload gets a short preview, everyone else a standard page.
func RowLimit(perceived, capacity int) int {
	if perceived > capacity {
		return 5
	}
	return 15
}

const assessSystemPrompt = `You assess whether a database user needs an explanation of a SQL query.
Respond with a single JSON object and nothing else:
{"needs_explanation": true|false, "style": "worked_example"|"guided"|"reference", "reason": "<one sentence>"}`

func assessUserPrompt(p profile.Profile, complexity int, concept string) string {
	return fmt.Sprintf(
		"User expertise level: %d/5\nUser processing capacity: %d/5\nUser mastery of %q: %d/5\nQuery complexity: %d/5\nDominant concept: %s",
		p.ExpertiseLevel, p.ProcessingCapacity, concept, p.ConceptLevel(concept), complexity, concept,
	)
}

func explainSystemPrompt(style string) string {
	var guidance string
	switch style {
	case StyleWorkedExample:
		guidance = "Walk through the query clause by clause with a concrete worked example. Assume little prior SQL knowledge."
	case StyleGuided:
		guidance = "Explain the key clauses and why they are combined this way. Skip basics the user already knows."
	default:
		guidance = "Give a terse reference-style note on the non-obvious parts only."
	}
	return "You explain SQL queries to database users. " + guidance + `
Structure your answer with exactly these section headers:
EXPLANATION:
SQL_CONCEPTS:
LEARNING_OBJECTIVES:
List SQL_CONCEPTS and LEARNING_OBJECTIVES one item per line, prefixed with "- ".`
}

func explainUserPrompt(p profile.Profile, userQuery, sqlQuery string, a Assessment) string {
	return fmt.Sprintf(
		"The user (expertise %d/5) asked: %s\n\nThe query that answers it:\n%s\n\nDominant concept: %s (complexity %d/5)",
		p.ExpertiseLevel, userQuery, sqlQuery, a.Concept, a.Complexity,
	)
}

// parseExplanation splits the model output into its labelled sections.
// Missing sections degrade gracefully: the whole reply becomes the text.
func parseExplanation(out string) Explanation {
	text, rest, found := strings.Cut(out, "SQL_CONCEPTS:")
	if !found {
		return Explanation{Text: strings.TrimSpace(stripHeader(out))}
	}

	concepts, objectives, _ := strings.Cut(rest, "LEARNING_OBJECTIVES:")
	return Explanation{
		Text:       strings.TrimSpace(stripHeader(text)),
		Concepts:   parseList(concepts),
		Objectives: parseList(objectives),
	}
}

func stripHeader(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "EXPLANATION:")
}

func parseList(block string) []string {
	var items []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

// extractJSON pulls the first JSON object out of a reply that may carry
// surrounding prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
