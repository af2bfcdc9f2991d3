package store

import (
	"strings"
	"unicode"
)

// englishStopWords are dropped from sparse query vectors and keyword seeds.
var englishStopWords = BuildStopWordMap([]string{
	"a", "about", "an", "and", "are", "as", "at", "be", "between", "by", "can",
	"did", "do", "does", "for", "from", "how", "i", "in", "into", "is", "it",
	"its", "me", "of", "on", "or", "show", "tell", "that", "the", "their",
	"there", "these", "this", "to", "was", "what", "when", "where", "which",
	"who", "why", "will", "with", "you", "your",
})

// Tokenize splits text into lowercase word tokens. Identifiers are split on
// camelCase and snake_case boundaries; tokens shorter than 2 runes are dropped.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, word := range words {
		for _, t := range SplitCodeToken(word) {
			lower := strings.ToLower(t)
			if len([]rune(lower)) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitCodeToken splits camelCase and snake_case identifiers.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers.
//   - "getUserById" -> ["get", "User", "By", "Id"]
//   - "HTTPHandler" -> ["HTTP", "Handler"]
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// IsStopWord reports whether token is an English stop word.
func IsStopWord(token string) bool {
	_, ok := englishStopWords[strings.ToLower(token)]
	return ok
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if !IsStopWord(token) {
			result = append(result, token)
		}
	}
	return result
}

// Keywords returns up to n distinct content words of text in order of
// appearance. Words are not split on case boundaries.
func Keywords(text string, n int) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})

	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		lower := strings.ToLower(strings.Trim(w, "-_"))
		if len([]rune(lower)) < 3 || IsStopWord(lower) {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
