package intent

import (
	"context"
	"regexp"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

var (
	errorCodePattern = regexp.MustCompile(`(?i)\b(ERR_\w+|E\d{4,5}|[A-Z]{2,}-?\d{3,}|\w+Exception)\b`)
	quotedPattern    = regexp.MustCompile(`^["'].*["']$`)
	filePathPattern  = regexp.MustCompile(`(?i)^[\w\-./\\]+\.(go|ts|js|py|md|json|ya?ml|toml|csv|sql|pdf|docx?|xlsx?)$`)

	camelCasePattern      = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern     = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern      = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)
	screamingSnakePattern = regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`)

	relationalPattern = regexp.MustCompile(`(?i)\b(related to|relationship|relate|connected|connection|between|depends on|dependency|dependencies|linked to|link between|interacts? with|affects?|impact of|who (owns|manages|reports to))\b`)
	thematicPattern   = regexp.MustCompile(`(?i)\b(overview|themes?|summari[sz]e|summary|trends?|landscape|big picture|main topics|high[- ]level|across all|in general)\b`)

	naturalLanguagePattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|who|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

// PatternClassifier classifies queries with regular expressions. It never
// fails and needs no network.
type PatternClassifier struct {
	presets Presets
}

// NewPatternClassifier creates a pattern classifier. Nil presets means
// DefaultPresets.
func NewPatternClassifier(presets Presets) *PatternClassifier {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &PatternClassifier{presets: presets}
}

// Classify implements retrieval.IntentClassifier. The error is always nil.
func (p *PatternClassifier) Classify(_ context.Context, query string) (retrieval.Classification, error) {
	return p.presets.classification(ClassifyLabel(query)), nil
}

// ClassifyLabel returns the label for query. Checks run most specific
// first: lexical, relational, thematic, semantic; otherwise mixed.
func ClassifyLabel(query string) Label {
	query = strings.TrimSpace(query)
	switch {
	case query == "":
		return LabelMixed
	case isLexical(query):
		return LabelLexical
	case relationalPattern.MatchString(query):
		return LabelRelational
	case thematicPattern.MatchString(query):
		return LabelThematic
	case naturalLanguagePattern.MatchString(query), len(strings.Fields(query)) >= 3:
		return LabelSemantic
	default:
		return LabelMixed
	}
}

func isLexical(query string) bool {
	if quotedPattern.MatchString(query) || filePathPattern.MatchString(query) {
		return true
	}
	if strings.Contains(query, " ") {
		// A code embedded in a short query still reads as a lookup.
		return len(strings.Fields(query)) <= 3 && errorCodePattern.MatchString(query)
	}
	return errorCodePattern.MatchString(query) ||
		camelCasePattern.MatchString(query) ||
		pascalCasePattern.MatchString(query) ||
		snakeCasePattern.MatchString(query) ||
		screamingSnakePattern.MatchString(query)
}

var _ retrieval.IntentClassifier = (*PatternClassifier)(nil)
