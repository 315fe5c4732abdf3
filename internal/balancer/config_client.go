package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ConfigClient pushes keys into the key-list balancer by rewriting its full
// remote config: fetch, union the API_KEYS field, put back, verify the echo.
type ConfigClient struct {
	base   string
	auth   string
	client *http.Client
	logger *zap.Logger
}

// NewConfigClient builds a client for the config-style balancer.
func NewConfigClient(baseURL, auth string, timeout time.Duration, logger *zap.Logger) *ConfigClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ConfigClient{
		base:   strings.TrimRight(baseURL, "/"),
		auth:   auth,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// PushKeys merges the batch into the remote key list. Keys already present
// remotely count as delivered. Returns a classified *Error on failure.
func (c *ConfigClient) PushKeys(ctx context.Context, batch []string) error {
	configURL := c.base + "/api/config"

	remote, err := c.fetchConfig(ctx, configURL)
	if err != nil {
		return err
	}

	current := stringSlice(remote["API_KEYS"])
	existing := make(map[string]struct{}, len(current))
	for _, k := range current {
		existing[k] = struct{}{}
	}

	var added []string
	for _, k := range batch {
		if _, ok := existing[k]; ok {
			continue
		}
		existing[k] = struct{}{}
		current = append(current, k)
		added = append(added, k)
	}

	if len(added) == 0 {
		c.logger.Info("all keys already present in balancer", zap.Int("batch", len(batch)))
		return nil
	}
	remote["API_KEYS"] = current

	echoed, err := c.putConfig(ctx, configURL, remote)
	if err != nil {
		return err
	}

	echoedSet := make(map[string]struct{})
	for _, k := range stringSlice(echoed["API_KEYS"]) {
		echoedSet[k] = struct{}{}
	}
	var missing int
	for _, k := range added {
		if _, ok := echoedSet[k]; !ok {
			missing++
		}
	}
	if missing > 0 {
		c.logger.Error("balancer dropped keys from updated config",
			zap.Int("missing", missing),
			zap.Int("added", len(added)),
		)
		return &Error{Reason: "update_failed", Err: fmt.Errorf("%d of %d new keys absent after update", missing, len(added))}
	}

	c.logger.Info("balancer config updated", zap.Int("added", len(added)))
	return nil
}

func (c *ConfigClient) fetchConfig(ctx context.Context, configURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, &Error{Reason: "exception", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Reason: "get_config_failed_not_200", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var config map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&config); err != nil {
		return nil, &Error{Reason: "json_decode_error", Err: err}
	}
	return config, nil
}

func (c *ConfigClient) putConfig(ctx context.Context, configURL string, config map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(config)
	if err != nil {
		return nil, &Error{Reason: "exception", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, configURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Reason: "exception", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Reason: "update_config_failed_not_200", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var echoed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&echoed); err != nil {
		return nil, &Error{Reason: "json_decode_error", Err: err}
	}
	return echoed, nil
}

func (c *ConfigClient) setHeaders(req *http.Request) {
	req.Header.Set("Cookie", "auth_token="+c.auth)
	req.Header.Set("User-Agent", "keysweep/1.0")
}

// stringSlice coerces a decoded JSON array into strings, dropping anything
// that is not one.
func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
