package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/clock"
)

// groupCacheTTL bounds how long a resolved group id is trusted.
const groupCacheTTL = 15 * time.Minute

// GPTLoadClient submits key batches to a gpt-load instance. The target
// group's numeric id is resolved by name and cached with a TTL so steady
// state costs one request per batch.
type GPTLoadClient struct {
	base   string
	auth   string
	group  string
	client *http.Client
	clk    clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]groupEntry
}

type groupEntry struct {
	id        int64
	fetchedAt time.Time
}

// NewGPTLoadClient builds a client for the gpt-load balancer.
func NewGPTLoadClient(baseURL, auth, group string, timeout time.Duration, clk clock.Clock, logger *zap.Logger) *GPTLoadClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GPTLoadClient{
		base:   strings.TrimRight(baseURL, "/"),
		auth:   auth,
		group:  group,
		client: &http.Client{Timeout: timeout},
		clk:    clk,
		logger: logger,
		cache:  make(map[string]groupEntry),
	}
}

type groupsResponse struct {
	Code int `json:"code"`
	Data []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

type addKeysRequest struct {
	GroupID  int64  `json:"group_id"`
	KeysText string `json:"keys_text"`
}

type addKeysResponse struct {
	Code int `json:"code"`
	Data struct {
		TaskType  string `json:"task_type"`
		IsRunning bool   `json:"is_running"`
		Total     int    `json:"total"`
		GroupName string `json:"group_name"`
	} `json:"data"`
}

// PushKeys submits the batch as one add-async request. Admission happens
// asynchronously downstream, so an accepted response counts as delivered
// for every key in the batch.
func (c *GPTLoadClient) PushKeys(ctx context.Context, batch []string) error {
	groupID, err := c.groupID(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(addKeysRequest{
		GroupID:  groupID,
		KeysText: strings.Join(batch, ","),
	})
	if err != nil {
		return &Error{Reason: "exception", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/keys/add-async", bytes.NewReader(payload))
	if err != nil {
		return &Error{Reason: "exception", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Reason: "add_keys_failed_not_200", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed addKeysResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &Error{Reason: "json_decode_error", Err: err}
	}
	if parsed.Code != 0 {
		return &Error{Reason: "add_keys_rejected", Err: fmt.Errorf("service code %d", parsed.Code)}
	}

	c.logger.Info("gpt-load batch accepted",
		zap.String("group", parsed.Data.GroupName),
		zap.String("task_type", parsed.Data.TaskType),
		zap.Int("total", parsed.Data.Total),
	)
	return nil
}

// groupID resolves the configured group name, consulting the TTL cache
// first. Concurrent workers share the cache under one lock; the resolution
// request itself runs outside it.
func (c *GPTLoadClient) groupID(ctx context.Context) (int64, error) {
	now := c.clk.Now()

	c.mu.Lock()
	entry, ok := c.cache[c.group]
	c.mu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < groupCacheTTL {
		return entry.id, nil
	}

	id, err := c.fetchGroupID(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[c.group] = groupEntry{id: id, fetchedAt: now}
	c.mu.Unlock()

	c.logger.Info("resolved gpt-load group", zap.String("group", c.group), zap.Int64("id", id))
	return id, nil
}

func (c *GPTLoadClient) fetchGroupID(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/groups", nil)
	if err != nil {
		return 0, &Error{Reason: "exception", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Reason: "get_groups_failed_not_200", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed groupsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, &Error{Reason: "json_decode_error", Err: err}
	}
	if parsed.Code != 0 {
		return 0, &Error{Reason: "get_groups_rejected", Err: fmt.Errorf("service code %d", parsed.Code)}
	}

	for _, group := range parsed.Data {
		if group.Name == c.group {
			return group.ID, nil
		}
	}
	return 0, &Error{Reason: "group_not_found", Err: fmt.Errorf("group %q not in groups listing", c.group)}
}

func (c *GPTLoadClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.auth)
	req.Header.Set("User-Agent", "keysweep/1.0")
}
