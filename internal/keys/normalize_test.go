package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeQueryIsIdempotent(t *testing.T) {
	queries := []string{
		`AIzaSy in:file`,
		`"exact phrase" language:go filename:env path:config secret`,
		`  spaced   out   query  `,
	}
	for _, q := range queries {
		once := NormalizeQuery(q)
		require.Equal(t, once, NormalizeQuery(once), "query: %s", q)
	}
}

func TestNormalizeQueryIsOrderInsensitive(t *testing.T) {
	require.Equal(t,
		NormalizeQuery("language:go foo bar"),
		NormalizeQuery("bar language:go foo"),
	)
	require.Equal(t,
		NormalizeQuery(`"a phrase" filename:env path:cfg language:python token`),
		NormalizeQuery(`token language:python path:cfg filename:env "a phrase"`),
	)
}

func TestNormalizeQueryGroupOrder(t *testing.T) {
	got := NormalizeQuery(`path:config language:go bravo filename:env "quoted words" alpha`)
	require.Equal(t, `"quoted words" alpha bravo language:go filename:env path:config`, got)
}

func TestNormalizeQueryKeepsQuotedPhrasesAtomic(t *testing.T) {
	got := NormalizeQuery(`"two words" single`)
	require.Equal(t, `"two words" single`, got)
}

func TestNormalizeQueryUnterminatedQuote(t *testing.T) {
	// A dangling quote becomes a bare token rather than swallowing the rest.
	got := NormalizeQuery(`foo "bar`)
	require.Equal(t, NormalizeQuery(got), got)
	require.Contains(t, got, "foo")
}

func TestNormalizeQueryCollapsesWhitespace(t *testing.T) {
	require.Equal(t, NormalizeQuery("a  b"), NormalizeQuery("a b"))
}
