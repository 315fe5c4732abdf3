package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/clock"
	"github.com/scanforge/keysweep/internal/metrics"
)

const checkpointFileName = "checkpoint.json"

// checkpointFile is the on-disk shape of the structured checkpoint record.
// Scanned SHAs live in their own flat file.
type checkpointFile struct {
	LastScanTime     string   `json:"last_scan_time"`
	ProcessedQueries []string `json:"processed_queries"`
	WaitSendBalancer []string `json:"wait_send_balancer"`
	WaitSendGPTLoad  []string `json:"wait_send_gpt_load"`
}

// Store owns the in-memory Checkpoint and its persistence. Every
// read-modify-write runs under one mutex end to end, so the scanner and the
// dispatcher never interleave partial transactions.
type Store struct {
	mu             sync.Mutex
	checkpointPath string
	shasPath       string
	clk            clock.Clock
	logger         *zap.Logger
	cp             *Checkpoint
}

// NewStore loads (or initializes) the checkpoint from dataDir. Missing files
// are treated as empty state, not errors.
func NewStore(dataDir, shasFile string, clk clock.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &Store{
		checkpointPath: filepath.Join(dataDir, checkpointFileName),
		shasPath:       filepath.Join(dataDir, shasFile),
		clk:            clk,
		logger:         logger,
	}

	cp, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cp = cp

	logger.Info("checkpoint loaded",
		zap.Time("last_scan_time", cp.LastScanTime),
		zap.Int("scanned_shas", len(cp.ScannedSHAs)),
		zap.Int("processed_queries", len(cp.ProcessedQueries)),
		zap.Int("wait_send_balancer", len(cp.WaitSendBalancer)),
		zap.Int("wait_send_gpt_load", len(cp.WaitSendGPTLoad)),
	)
	return s, nil
}

// Update runs fn against the checkpoint and persists the result, all under
// the store lock. A persistence failure is returned but leaves the in-memory
// state mutated; the next Update retries the write.
func (s *Store) Update(fn func(*Checkpoint)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(s.cp)
	if err := s.save(); err != nil {
		metrics.ObserveCheckpointSave("error")
		return err
	}
	metrics.ObserveCheckpointSave("ok")
	return nil
}

// View runs fn against the checkpoint under the lock without persisting.
// fn must not retain references to the checkpoint's maps.
func (s *Store) View(fn func(*Checkpoint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cp)
}

// Snapshot returns a deep copy of the current checkpoint.
func (s *Store) Snapshot() Checkpoint {
	var out Checkpoint
	s.View(func(cp *Checkpoint) {
		out = Checkpoint{
			LastScanTime:     cp.LastScanTime,
			ScannedSHAs:      copySet(cp.ScannedSHAs),
			ProcessedQueries: copySet(cp.ProcessedQueries),
			WaitSendBalancer: copySet(cp.WaitSendBalancer),
			WaitSendGPTLoad:  copySet(cp.WaitSendGPTLoad),
		}
	})
	return out
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// load merges the structured record and the scanned-SHA flat file into one
// in-memory checkpoint.
func (s *Store) load() (*Checkpoint, error) {
	cp := New()

	raw, err := os.ReadFile(s.checkpointPath)
	switch {
	case err == nil:
		var file checkpointFile
		if jsonErr := json.Unmarshal(raw, &file); jsonErr != nil {
			s.logger.Warn("checkpoint file unreadable, starting fresh",
				zap.String("path", s.checkpointPath), zap.Error(jsonErr))
		} else {
			if file.LastScanTime != "" {
				t, parseErr := time.Parse(time.RFC3339, file.LastScanTime)
				if parseErr != nil {
					s.logger.Warn("ignoring malformed last_scan_time",
						zap.String("value", file.LastScanTime), zap.Error(parseErr))
				} else {
					cp.LastScanTime = t
				}
			}
			for _, q := range file.ProcessedQueries {
				cp.MarkProcessed(q)
			}
			Enqueue(cp.WaitSendBalancer, file.WaitSendBalancer)
			Enqueue(cp.WaitSendGPTLoad, file.WaitSendGPTLoad)
		}
	case os.IsNotExist(err):
		s.logger.Info("no checkpoint file, starting full scan",
			zap.String("path", s.checkpointPath))
	default:
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	shas, err := s.loadScannedSHAs()
	if err != nil {
		return nil, err
	}
	cp.ScannedSHAs = shas
	return cp, nil
}

func (s *Store) loadScannedSHAs() (map[string]struct{}, error) {
	shas := make(map[string]struct{})

	f, err := os.Open(s.shasPath)
	if os.IsNotExist(err) {
		return shas, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open scanned SHAs: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		shas[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read scanned SHAs: %w", err)
	}
	return shas, nil
}

// save persists both halves of the checkpoint. Each file is written to a
// temp sibling and renamed so a crash mid-save never corrupts either one.
// A failure on one half does not prevent the other from being attempted.
func (s *Store) save() error {
	shaErr := s.saveScannedSHAs()
	jsonErr := s.saveStructured()
	if shaErr != nil {
		return shaErr
	}
	return jsonErr
}

func (s *Store) saveStructured() error {
	file := checkpointFile{
		ProcessedQueries: sortedKeys(s.cp.ProcessedQueries),
		WaitSendBalancer: sortedKeys(s.cp.WaitSendBalancer),
		WaitSendGPTLoad:  sortedKeys(s.cp.WaitSendGPTLoad),
	}
	if !s.cp.LastScanTime.IsZero() {
		file.LastScanTime = s.cp.LastScanTime.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return atomicWrite(s.checkpointPath, data)
}

func (s *Store) saveScannedSHAs() error {
	var b strings.Builder
	b.WriteString("# Scanned content SHAs, one per line.\n")
	b.WriteString("# Last updated: " + s.clk.Now().Format("2006-01-02 15:04:05") + "\n\n")
	for _, sha := range sortedKeys(s.cp.ScannedSHAs) {
		b.WriteString(sha)
		b.WriteByte('\n')
	}
	return atomicWrite(s.shasPath, []byte(b.String()))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
