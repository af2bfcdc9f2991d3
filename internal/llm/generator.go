package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// MaxExtractedEntities caps one extraction answer.
const MaxExtractedEntities = 20

// Generator is the text-generation surface used by entity expansion.
type Generator interface {
	ExtractEntities(ctx context.Context, text string) ([]string, error)
	GenerateSynonyms(ctx context.Context, entity string, max int) ([]string, error)
}

const extractPrompt = `Extract the named entities and key domain concepts from the text below.
Return JSON of the form {"entities": ["..."]} with at most %d short noun phrases,
most important first. Do not explain.

Text: %s`

const synonymPrompt = `List up to %d synonyms, abbreviations or closely related terms for the
concept below, as used in technical and business documents.
Return JSON of the form {"synonyms": ["..."]}. Do not include the concept itself.

Concept: %s`

// OllamaGenerator implements Generator over a Client.
type OllamaGenerator struct {
	client *Client
}

// NewOllamaGenerator creates a generator using client.
func NewOllamaGenerator(client *Client) *OllamaGenerator {
	return &OllamaGenerator{client: client}
}

var _ Generator = (*OllamaGenerator)(nil)

// ExtractEntities asks the model for the entities mentioned in text.
func (g *OllamaGenerator) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}, nil
	}

	out, err := g.client.Generate(ctx, fmt.Sprintf(extractPrompt, MaxExtractedEntities, text), true)
	if err != nil {
		return nil, err
	}
	names, err := parseList(out, "entities")
	if err != nil {
		return nil, err
	}
	return capList(names, MaxExtractedEntities), nil
}

// GenerateSynonyms asks the model for up to max alternatives to entity.
// The entity itself is removed from the answer.
func (g *OllamaGenerator) GenerateSynonyms(ctx context.Context, entity string, max int) ([]string, error) {
	entity = strings.TrimSpace(entity)
	if entity == "" || max <= 0 {
		return []string{}, nil
	}

	out, err := g.client.Generate(ctx, fmt.Sprintf(synonymPrompt, max, entity), true)
	if err != nil {
		return nil, err
	}
	syns, err := parseList(out, "synonyms")
	if err != nil {
		return nil, err
	}

	kept := syns[:0]
	for _, s := range syns {
		if !strings.EqualFold(s, entity) {
			kept = append(kept, s)
		}
	}
	return capList(kept, max), nil
}

// parseList reads a string list from a model answer. It accepts an object
// holding the list under key, a bare JSON array, or failing both, one item
// per line or comma.
func parseList(raw, key string) ([]string, error) {
	raw = strings.TrimSpace(stripFence(raw))
	if raw == "" {
		return []string{}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		val, ok := obj[key]
		if !ok {
			return nil, amerrors.New(amerrors.ErrCodeMalformedResponse,
				fmt.Sprintf("model answer has no %q field", key), nil)
		}
		var items []string
		if err := json.Unmarshal(val, &items); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeMalformedResponse,
				fmt.Sprintf("model answer field %q is not a string list", key), err)
		}
		return clean(items), nil
	}

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return clean(items), nil
	}

	if strings.ContainsAny(raw, "{}[]") {
		return nil, amerrors.New(amerrors.ErrCodeMalformedResponse, "model answer is not valid JSON", nil)
	}
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ',' })
	for i, l := range lines {
		lines[i] = listMarker.ReplaceAllString(l, "")
	}
	return clean(lines), nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// listMarker matches a bullet or "1." / "1)" prefix.
var listMarker = regexp.MustCompile(`^\s*(?:[-*•]\s*|\d+[.)]\s+)`)

// clean trims whitespace and quotes and drops blanks and
// case-insensitive duplicates, keeping first occurrences.
func clean(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(strings.Trim(strings.TrimSpace(it), `"'`))
		if it == "" {
			continue
		}
		key := strings.ToLower(it)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
