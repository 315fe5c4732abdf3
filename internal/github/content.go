package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/metrics"
)

// maxContentBytes bounds how much of a single file is read.
const maxContentBytes = 10 << 20

// FetchContent resolves the item's metadata endpoint for a download URL and
// fetches the raw file bytes. Any failure yields empty content and false;
// the caller treats that as "no content", never as fatal.
func (c *SearchClient) FetchContent(ctx context.Context, item Item) (string, bool) {
	owner, repo, ok := splitFullName(item.RepoFullName)
	if !ok {
		c.logger.Warn("malformed repository name", zap.String("full_name", item.RepoFullName))
		metrics.ObserveContentFetchFailure()
		return "", false
	}

	fileContent, _, _, err := c.next().Repositories.GetContents(ctx, owner, repo, item.Path, nil)
	if err != nil || fileContent == nil {
		c.logger.Warn("content metadata fetch failed",
			zap.String("repo", item.RepoFullName),
			zap.String("path", item.Path),
			zap.Error(err),
		)
		metrics.ObserveContentFetchFailure()
		return "", false
	}

	downloadURL := fileContent.GetDownloadURL()
	if downloadURL == "" {
		c.logger.Warn("no download url for file",
			zap.String("repo", item.RepoFullName),
			zap.String("path", item.Path),
		)
		metrics.ObserveContentFetchFailure()
		return "", false
	}

	body, err := c.fetchRaw(ctx, downloadURL)
	if err != nil {
		c.logger.Warn("raw content fetch failed",
			zap.String("url", downloadURL),
			zap.Error(err),
		)
		metrics.ObserveContentFetchFailure()
		return "", false
	}
	return body, true
}

func (c *SearchClient) fetchRaw(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return "", fmt.Errorf("get raw content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get raw content: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", fmt.Errorf("read raw content: %w", err)
	}
	return string(body), nil
}

func splitFullName(fullName string) (owner, repo string, ok bool) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
