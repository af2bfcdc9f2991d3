package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"prose", "How does Token Rotation work?", []string{"how", "does", "token", "rotation", "work"}},
		{"camel case", "refreshTokenStore", []string{"refresh", "token", "store"}},
		{"snake case", "auth_service_v2", []string{"auth", "service", "v2"}},
		{"acronym", "HTTPHandler", []string{"http", "handler"}},
		{"short tokens dropped", "a b cd", []string{"cd"}},
		{"unicode", "Zürich Straße", []string{"zürich", "straße"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"get", "User", "By", "Id"}, SplitCamelCase("getUserById"))
	assert.Equal(t, []string{"parse", "HTTP", "Request"}, SplitCamelCase("parseHTTPRequest"))
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

func TestFilterStopWords(t *testing.T) {
	got := FilterStopWords([]string{"what", "is", "token", "rotation"})

	assert.Equal(t, []string{"token", "rotation"}, got)
}

func TestKeywords(t *testing.T) {
	// Given: a question with stop words and repeats
	text := "What is the relationship between OAuth and token-rotation in OAuth?"

	// When: taking the first two keywords
	got := Keywords(text, 2)

	// Then: content words in order, deduplicated
	assert.Equal(t, []string{"relationship", "oauth"}, got)
	assert.Equal(t, []string{"relationship", "oauth", "token-rotation"}, Keywords(text, 0))
}
