package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/clock"
)

func newTestJournal(t *testing.T, dir string) (*Journal, *clock.Fake) {
	t.Helper()
	clk := &clock.Fake{Current: time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)}
	j, err := New(Config{
		DataDir:                 dir,
		QueriesFile:             "queries.txt",
		ValidKeyPrefix:          "keys_valid_",
		ValidKeyDetailPrefix:    "keys_valid_detail_",
		RateLimitedPrefix:       "key_429_",
		RateLimitedDetailPrefix: "key_429_detail_",
	}, clk, zap.NewNop())
	require.NoError(t, err)
	return j, clk
}

func TestSaveValidKeysWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	j, _ := newTestJournal(t, dir)

	require.NoError(t, j.SaveValidKeys(Finding{
		RepoName: "acme/widget",
		FilePath: "config/.env",
		FileURL:  "https://example.com/acme/widget/.env",
		Keys:     []string{"AIzaSyKEY1", "AIzaSyKEY2"},
	}))

	detail, err := os.ReadFile(filepath.Join(dir, "keys_valid_detail_20250601.log"))
	require.NoError(t, err)
	require.Contains(t, string(detail), "URL: https://example.com/acme/widget/.env")
	require.Contains(t, string(detail), "KEY: AIzaSyKEY1")
	require.Contains(t, string(detail), strings.Repeat("-", 80))

	hourly, err := os.ReadFile(filepath.Join(dir, "keys_valid_20250601_14.txt"))
	require.NoError(t, err)
	require.Equal(t, "AIzaSyKEY1\nAIzaSyKEY2\n", string(hourly))
}

func TestHourlyFilenameRollsOver(t *testing.T) {
	dir := t.TempDir()
	j, clk := newTestJournal(t, dir)

	require.NoError(t, j.SaveValidKeys(Finding{Keys: []string{"k1"}}))
	clk.Advance(time.Hour)
	require.NoError(t, j.SaveValidKeys(Finding{Keys: []string{"k2"}}))

	_, err := os.Stat(filepath.Join(dir, "keys_valid_20250601_14.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "keys_valid_20250601_15.txt"))
	require.NoError(t, err)
}

func TestSaveRateLimitedKeys(t *testing.T) {
	dir := t.TempDir()
	j, _ := newTestJournal(t, dir)

	require.NoError(t, j.SaveRateLimitedKeys(Finding{
		FileURL: "https://example.com/f",
		Keys:    []string{"AIzaSy429"},
	}))

	detail, err := os.ReadFile(filepath.Join(dir, "key_429_detail_20250601.log"))
	require.NoError(t, err)
	// Rate-limited detail records carry bare keys, no KEY: prefix.
	require.Contains(t, string(detail), "AIzaSy429\n")
	require.NotContains(t, string(detail), "KEY: AIzaSy429")

	hourly, err := os.ReadFile(filepath.Join(dir, "key_429_20250601_14.txt"))
	require.NoError(t, err)
	require.Equal(t, "AIzaSy429\n", string(hourly))
}

func TestEmptyFindingIsNoop(t *testing.T) {
	dir := t.TempDir()
	j, _ := newTestJournal(t, dir)
	require.NoError(t, j.SaveValidKeys(Finding{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}

func TestRecordDelivery(t *testing.T) {
	dir := t.TempDir()
	j, _ := newTestJournal(t, dir)

	require.NoError(t, j.RecordDelivery("balancer", []string{"k1", "k2"}, false, "update_failed"))

	raw, err := os.ReadFile(filepath.Join(dir, "delivery_results.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var rec DeliveryResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "k1", rec.Key)
	require.Equal(t, "balancer", rec.Service)
	require.False(t, rec.OK)
	require.Equal(t, "update_failed", rec.Reason)
	require.Equal(t, j.RunID(), rec.RunID)
}

func TestLoadQueriesCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	j, _ := newTestJournal(t, dir)

	queries, err := j.LoadQueries()
	require.NoError(t, err)
	require.Equal(t, []string{"AIzaSy in:file"}, queries)
}

func TestLoadQueriesSkipsCommentsAndBlanks(t *testing.T) {
	dir := t.TempDir()
	body := "# comment\n\nAIzaSy in:file\n  filename:.env AIzaSy  \n# done\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queries.txt"), []byte(body), 0o600))

	j, _ := newTestJournal(t, dir)
	queries, err := j.LoadQueries()
	require.NoError(t, err)
	require.Equal(t, []string{"AIzaSy in:file", "filename:.env AIzaSy"}, queries)
}
