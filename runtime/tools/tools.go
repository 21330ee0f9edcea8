// Package tools implements per-turn tool narrowing: a free-text prompt is
// reduced to a keyword query and handed to a semantic search backend that
// returns a bounded, ranked subset of the available tools. Exposing only that
// subset to the agent keeps the prompt small when the gateway publishes
// hundreds of tools.
package tools

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/agent"
)

// MaxSearchResults caps the number of tools handed to the agent per turn,
// regardless of how many the search backend returns.
const MaxSearchResults = 10

const (
	maxQueryTokens  = 10
	minQueryTokens  = 2
	minTokenRunes   = 3
	rawPromptPrefix = 100
)

// Searcher returns the tools relevant to a reduced query.
type Searcher interface {
	// Search returns at most MaxSearchResults tool definitions ranked by
	// relevance. An empty result is not an error.
	Search(ctx context.Context, query string) ([]agent.ToolDefinition, error)
}

// stopWords are dropped during query reduction: pronouns, articles, auxiliary
// verbs and the request verbs that open most operator prompts.
var stopWords = func() map[string]struct{} {
	words := []string{
		"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you",
		"your", "yours", "yourself", "yourselves", "he", "him", "his", "himself",
		"she", "her", "hers", "herself", "it", "its", "itself", "they", "them",
		"their", "theirs", "themselves", "what", "which", "who", "whom", "this",
		"that", "these", "those", "am", "is", "are", "was", "were", "be", "been",
		"being", "have", "has", "had", "having", "do", "does", "did", "doing",
		"a", "an", "the", "and", "but", "if", "or", "because", "as", "until",
		"while", "of", "at", "by", "for", "with", "about", "against", "between",
		"into", "through", "during", "before", "after", "above", "below", "to",
		"from", "up", "down", "in", "out", "on", "off", "over", "under", "again",
		"further", "then", "once", "can", "could", "should", "would", "please",
		"help", "show", "tell", "give", "get", "need", "want",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// ReduceQuery derives the search query for a user prompt: the prompt is
// lowercased and tokenized on whitespace, stop words and tokens shorter than
// three characters are dropped, and the first ten surviving tokens are joined
// with single spaces. Prompts reducing to fewer than two tokens fall back to
// their first 100 characters verbatim so short or unusual prompts are never
// reduced to nothing.
func ReduceQuery(prompt string) string {
	words := strings.Fields(strings.ToLower(prompt))
	keep := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop || utf8.RuneCountInString(w) < minTokenRunes {
			continue
		}
		keep = append(keep, w)
	}
	if len(keep) < minQueryTokens {
		if utf8.RuneCountInString(prompt) <= rawPromptPrefix {
			return prompt
		}
		return string([]rune(prompt)[:rawPromptPrefix])
	}
	if len(keep) > maxQueryTokens {
		keep = keep[:maxQueryTokens]
	}
	return strings.Join(keep, " ")
}

// Cap bounds defs to MaxSearchResults, preserving rank order.
func Cap(defs []agent.ToolDefinition) []agent.ToolDefinition {
	if len(defs) <= MaxSearchResults {
		return defs
	}
	return defs[:MaxSearchResults]
}
