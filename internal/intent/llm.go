package intent

import (
	"context"
	"fmt"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// Generator produces a free-text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, jsonFormat bool) (string, error)
}

const classificationPrompt = `You are a retrieval query classifier. Classify the query into exactly ONE category:

LEXICAL - exact lookups: error codes, identifiers, file names, quoted phrases.
SEMANTIC - natural language questions about meaning or behaviour.
RELATIONAL - how specific entities relate, connect or depend on each other.
THEMATIC - overviews, summaries, themes or trends across many documents.
MIXED - none of the above clearly applies.

Respond with ONLY one word: LEXICAL, SEMANTIC, RELATIONAL, THEMATIC or MIXED.

Query: %s

Classification:`

// LLMClassifier asks a language model for the label.
type LLMClassifier struct {
	gen     Generator
	presets Presets
}

// NewLLMClassifier creates an LLM classifier. Nil presets means
// DefaultPresets.
func NewLLMClassifier(gen Generator, presets Presets) *LLMClassifier {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &LLMClassifier{gen: gen, presets: presets}
}

// Classify implements retrieval.IntentClassifier. An answer naming no
// label is a malformed response error.
func (l *LLMClassifier) Classify(ctx context.Context, query string) (retrieval.Classification, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return l.presets.classification(LabelMixed), nil
	}

	out, err := l.gen.Generate(ctx, fmt.Sprintf(classificationPrompt, query), false)
	if err != nil {
		return retrieval.Classification{}, err
	}

	label, ok := parseClassificationResponse(out)
	if !ok {
		return retrieval.Classification{}, amerrors.New(amerrors.ErrCodeMalformedResponse,
			fmt.Sprintf("classifier answer %q names no intent", truncate(out, 40)), nil)
	}
	return l.presets.classification(label), nil
}

// parseClassificationResponse accepts an exact label or the first label
// word found in the answer.
func parseClassificationResponse(response string) (Label, bool) {
	response = strings.TrimSpace(response)
	if l, ok := ParseLabel(strings.Trim(response, ".")); ok {
		return l, true
	}

	best, bestAt := Label(""), -1
	upper := strings.ToUpper(response)
	for _, l := range AllLabels {
		at := strings.Index(upper, strings.ToUpper(string(l)))
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = l, at
		}
	}
	return best, bestAt >= 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ retrieval.IntentClassifier = (*LLMClassifier)(nil)
