package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/metrics"
	"github.com/scanforge/keysweep/internal/pace"
)

type searchPage struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []searchItem `json:"items"`
}

type searchItem struct {
	Path       string     `json:"path"`
	SHA        string     `json:"sha"`
	HTMLURL    string     `json:"html_url"`
	Repository searchRepo `json:"repository"`
}

type searchRepo struct {
	FullName string `json:"full_name"`
	PushedAt string `json:"pushed_at,omitempty"`
}

func fakeItems(page, count int) []searchItem {
	items := make([]searchItem, 0, count)
	for i := 0; i < count; i++ {
		n := (page-1)*perPage + i
		items = append(items, searchItem{
			Path:    fmt.Sprintf("src/file%d.py", n),
			SHA:     fmt.Sprintf("sha-%d", n),
			HTMLURL: fmt.Sprintf("https://example.test/blob/%d", n),
			Repository: searchRepo{
				FullName: "octo/widgets",
				PushedAt: "2025-05-01T12:00:00Z",
			},
		})
	}
	return items
}

func testClient(t *testing.T, baseURL string, tokens []string) *SearchClient {
	t.Helper()
	client, err := NewSearchClient(Config{
		Tokens:         tokens,
		MaxRetries:     3,
		RequestsPerSec: 10000,
		BaseURL:        baseURL,
	}, pace.NopSleeper{}, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestSearchSinglePage(t *testing.T) {
	var pagesServed atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/code", r.URL.Path)
		pagesServed.Add(1)
		json.NewEncoder(w).Encode(searchPage{TotalCount: 2, Items: fakeItems(1, 2)})
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL, nil).Search(context.Background(), "AIzaSy in:file")
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalCount)
	require.False(t, result.IncompleteResults)
	require.Len(t, result.Items, 2)
	require.Equal(t, int64(1), pagesServed.Load())

	first := result.Items[0]
	require.Equal(t, "octo/widgets", first.RepoFullName)
	require.Equal(t, "src/file0.py", first.Path)
	require.Equal(t, "sha-0", first.SHA)
	require.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), first.PushedAt)
}

func TestSearchMissingPushedAt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := fakeItems(1, 1)
		items[0].Repository.PushedAt = ""
		json.NewEncoder(w).Encode(searchPage{TotalCount: 1, Items: items})
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL, nil).Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.True(t, result.Items[0].PushedAt.IsZero())
}

func TestSearchFirstPageFailure(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, nil).Search(context.Background(), "q")
	require.Error(t, err)
	require.Contains(t, err.Error(), "first page failed")
	require.Equal(t, int64(3), requests.Load())
}

func TestSearchRateLimitRetry(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, `{"message":"rate limit exceeded"}`, http.StatusForbidden)
			return
		}
		json.NewEncoder(w).Encode(searchPage{TotalCount: 1, Items: fakeItems(1, 1)})
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL, nil).Search(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, int64(2), requests.Load())
}

func TestSearchLaterPageFailureIsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" && r.URL.Query().Get("page") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(searchPage{TotalCount: 150, Items: fakeItems(1, perPage)})
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL, nil).Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, 150, result.TotalCount)
	require.True(t, result.IncompleteResults)
	require.Len(t, result.Items, perPage)

	// Incomplete searches count under their own label.
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `keysweep_search_requests_total{result="partial"}`)
}

func TestSearchCapsAtAPILimit(t *testing.T) {
	var pagesServed atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed.Add(1)
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		json.NewEncoder(w).Encode(searchPage{TotalCount: 5000, Items: fakeItems(page, perPage)})
	}))
	defer srv.Close()

	result, err := testClient(t, srv.URL, nil).Search(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, 5000, result.TotalCount)
	require.Len(t, result.Items, maxResults)
	require.Equal(t, int64(maxPages), pagesServed.Load())
	require.False(t, result.IncompleteResults)
}

func TestSearchRotatesTokens(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(searchPage{TotalCount: 1, Items: fakeItems(1, 1)})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, []string{"tok-a", "tok-b"})
	for i := 0; i < 2; i++ {
		_, err := client.Search(context.Background(), "q")
		require.NoError(t, err)
	}

	require.Len(t, seen, 2)
	require.Equal(t, "Bearer tok-a", seen[0])
	require.Equal(t, "Bearer tok-b", seen[1])
}

func TestSearchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t, srv.URL, nil).Search(ctx, "q")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchContent(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/repos/octo/widgets/contents/src/app.py", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"type":"file","download_url":"%s/raw/app.py"}`, srv.URL)
	})
	mux.HandleFunc("/raw/app.py", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "key = secret")
	})

	client := testClient(t, srv.URL, nil)
	body, ok := client.FetchContent(context.Background(), Item{
		RepoFullName: "octo/widgets",
		Path:         "src/app.py",
	})
	require.True(t, ok)
	require.Equal(t, "key = secret", body)
}

func TestFetchContentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, nil)

	_, ok := client.FetchContent(context.Background(), Item{RepoFullName: "bad-name", Path: "x"})
	require.False(t, ok)

	_, ok = client.FetchContent(context.Background(), Item{RepoFullName: "octo/widgets", Path: "gone.py"})
	require.False(t, ok)
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		require.LessOrEqual(t, rateLimitBackoff(attempt), 60*time.Second)
		require.Greater(t, rateLimitBackoff(attempt), time.Duration(0))
		require.LessOrEqual(t, transientBackoff(attempt), 30*time.Second)
	}
	require.Greater(t, rateLimitBackoff(3), rateLimitBackoff(1))
}
