// Package journal persists per-run findings: detail logs, category key
// files, delivery results and the query list, all under one data directory.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/clock"
)

// Config names the journal files inside the data directory.
type Config struct {
	DataDir                 string
	QueriesFile             string
	ValidKeyPrefix          string
	ValidKeyDetailPrefix    string
	RateLimitedPrefix       string
	RateLimitedDetailPrefix string
}

// Finding is one file's worth of keys in a single category.
type Finding struct {
	RepoName string
	FilePath string
	FileURL  string
	Keys     []string
}

// Journal appends findings to category-specific files. Key files rotate
// hourly, detail logs daily; the run ID ties every record back to one
// process lifetime.
type Journal struct {
	mu     sync.Mutex
	cfg    Config
	clk    clock.Clock
	logger *zap.Logger
	runID  string

	deliveryPath string
}

// New bootstraps the data directory and the journal files inside it.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) (*Journal, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	j := &Journal{
		cfg:          cfg,
		clk:          clk,
		logger:       logger,
		runID:        uuid.NewString(),
		deliveryPath: filepath.Join(cfg.DataDir, "delivery_results.jsonl"),
	}

	logger.Info("journal ready",
		zap.String("data_dir", cfg.DataDir),
		zap.String("run_id", j.runID),
	)
	return j, nil
}

// RunID returns this process run's identifier.
func (j *Journal) RunID() string {
	return j.runID
}

// SaveValidKeys appends the finding to the valid-key detail log and the
// hourly valid-key file.
func (j *Journal) SaveValidKeys(f Finding) error {
	if len(f.Keys) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clk.Now()
	detail := filepath.Join(j.cfg.DataDir, j.cfg.ValidKeyDetailPrefix+now.Format("20060102")+".log")
	if err := j.appendDetail(detail, f, true); err != nil {
		return err
	}
	hourly := filepath.Join(j.cfg.DataDir, j.cfg.ValidKeyPrefix+now.Format("20060102_15")+".txt")
	return appendLines(hourly, f.Keys)
}

// SaveRateLimitedKeys appends the finding to the rate-limited detail log and
// the hourly rate-limited key file.
func (j *Journal) SaveRateLimitedKeys(f Finding) error {
	if len(f.Keys) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clk.Now()
	detail := filepath.Join(j.cfg.DataDir, j.cfg.RateLimitedDetailPrefix+now.Format("20060102")+".log")
	if err := j.appendDetail(detail, f, false); err != nil {
		return err
	}
	hourly := filepath.Join(j.cfg.DataDir, j.cfg.RateLimitedPrefix+now.Format("20060102_15")+".txt")
	return appendLines(hourly, f.Keys)
}

// appendDetail writes a TIME/URL/keys record followed by a separator line.
func (j *Journal) appendDetail(path string, f Finding, keyPrefix bool) error {
	var b strings.Builder
	b.WriteString("TIME: " + j.clk.Now().Format("2006-01-02 15:04:05") + "\n")
	b.WriteString("RUN: " + j.runID + "\n")
	b.WriteString("URL: " + f.FileURL + "\n")
	for _, key := range f.Keys {
		if keyPrefix {
			b.WriteString("KEY: ")
		}
		b.WriteString(key)
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("-", 80) + "\n")
	return appendFile(path, b.String())
}

func appendLines(path string, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return appendFile(path, b.String())
}

func appendFile(path, body string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// LoadQueries reads the query list: one query per line, '#' comments and
// blank lines skipped. A missing file is created with a starter query.
func (j *Journal) LoadQueries() ([]string, error) {
	path := filepath.Join(j.cfg.DataDir, j.cfg.QueriesFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultQueries(path); err != nil {
			return nil, err
		}
		j.logger.Info("created default queries file", zap.String("path", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries file: %w", err)
	}
	return queries, nil
}

func writeDefaultQueries(path string) error {
	body := strings.Join([]string{
		"# Search queries, one per line. Lines starting with '#' are ignored.",
		"",
		"AIzaSy in:file",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("create default queries file: %w", err)
	}
	return nil
}
