// Package keys implements query normalization, key extraction and the
// validation outcome classifier for suspected provider API keys.
package keys

import (
	"sort"
	"strings"
)

// NormalizeQuery canonicalizes a code-search query so that reordered but
// otherwise identical queries compare equal. Tokens are split on whitespace
// with quoted phrases kept atomic, partitioned into fixed category groups,
// each group sorted, and rejoined in a fixed group order. The result is
// idempotent: normalizing an already normalized query is a no-op.
func NormalizeQuery(query string) string {
	tokens := tokenizeQuery(strings.Join(strings.Fields(query), " "))

	var quoted, bare, language, filename, path []string
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) && len(tok) > 1:
			quoted = append(quoted, tok)
		case strings.HasPrefix(tok, "language:"):
			language = append(language, tok)
		case strings.HasPrefix(tok, "filename:"):
			filename = append(filename, tok)
		case strings.HasPrefix(tok, "path:"):
			path = append(path, tok)
		case strings.TrimSpace(tok) != "":
			bare = append(bare, tok)
		}
	}

	for _, group := range [][]string{quoted, bare, language, filename, path} {
		sort.Strings(group)
	}

	ordered := make([]string, 0, len(tokens))
	ordered = append(ordered, quoted...)
	ordered = append(ordered, bare...)
	ordered = append(ordered, language...)
	ordered = append(ordered, filename...)
	ordered = append(ordered, path...)
	return strings.Join(ordered, " ")
}

// tokenizeQuery splits on spaces while keeping double-quoted phrases as one
// token. An unterminated quote is kept as a bare character, matching how the
// search API tolerates it.
func tokenizeQuery(query string) []string {
	var tokens []string
	i := 0
	for i < len(query) {
		switch query[i] {
		case '"':
			end := strings.IndexByte(query[i+1:], '"')
			if end >= 0 {
				tokens = append(tokens, query[i:i+end+2])
				i += end + 2
			} else {
				tokens = append(tokens, string(query[i]))
				i++
			}
		case ' ':
			i++
		default:
			start := i
			for i < len(query) && query[i] != ' ' {
				i++
			}
			tokens = append(tokens, query[start:i])
		}
	}
	return tokens
}
