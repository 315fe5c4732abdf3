// Package checkpoint holds the durable resumability state shared by the
// scanner and the sync dispatcher, and its file-backed store.
package checkpoint

import "time"

// Checkpoint is the single source of truth for crawl progress and pending
// downstream deliveries. It is only ever mutated inside a Store transaction.
type Checkpoint struct {
	// LastScanTime is the end of the last successfully persisted scan.
	// Zero means no prior scan, which disables the incremental time filter.
	LastScanTime time.Time

	// ScannedSHAs is append-only for the lifetime of the checkpoint file.
	ScannedSHAs map[string]struct{}

	// ProcessedQueries holds normalized query forms finished this pass.
	ProcessedQueries map[string]struct{}

	// WaitSendBalancer and WaitSendGPTLoad are the pending-delivery queues.
	WaitSendBalancer map[string]struct{}
	WaitSendGPTLoad  map[string]struct{}
}

// New returns an empty checkpoint with all sets allocated.
func New() *Checkpoint {
	return &Checkpoint{
		ScannedSHAs:      make(map[string]struct{}),
		ProcessedQueries: make(map[string]struct{}),
		WaitSendBalancer: make(map[string]struct{}),
		WaitSendGPTLoad:  make(map[string]struct{}),
	}
}

// MarkScanned records a content SHA as processed. Empty SHAs are ignored.
func (c *Checkpoint) MarkScanned(sha string) {
	if sha != "" {
		c.ScannedSHAs[sha] = struct{}{}
	}
}

// IsScanned reports whether the SHA was already processed.
func (c *Checkpoint) IsScanned(sha string) bool {
	_, ok := c.ScannedSHAs[sha]
	return ok
}

// MarkProcessed records a normalized query as finished for this pass.
func (c *Checkpoint) MarkProcessed(normalizedQuery string) {
	if normalizedQuery != "" {
		c.ProcessedQueries[normalizedQuery] = struct{}{}
	}
}

// IsProcessed reports whether the normalized query is done this pass.
func (c *Checkpoint) IsProcessed(normalizedQuery string) bool {
	_, ok := c.ProcessedQueries[normalizedQuery]
	return ok
}

// ResetProcessedQueries clears the per-pass query set so a new pass retries
// every configured query.
func (c *Checkpoint) ResetProcessedQueries() {
	c.ProcessedQueries = make(map[string]struct{})
}

// Enqueue unions keys into a pending-delivery queue. Re-adding a queued key
// is a no-op. It returns how many keys were newly added.
func Enqueue(queue map[string]struct{}, keys []string) int {
	added := 0
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := queue[k]; !ok {
			queue[k] = struct{}{}
			added++
		}
	}
	return added
}

// ClearDelivered removes exactly the given keys from a queue, leaving any
// keys enqueued concurrently after the batch snapshot untouched.
func ClearDelivered(queue map[string]struct{}, keys []string) {
	for _, k := range keys {
		delete(queue, k)
	}
}
