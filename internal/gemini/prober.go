// Package gemini implements a keys.Prober against the Generative Language
// REST API: one cheap generateContent call per candidate key.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scanforge/keysweep/internal/keys"
	"github.com/scanforge/keysweep/internal/proxy"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// maxErrorBytes bounds how much of an error response body is read.
const maxErrorBytes = 64 << 10

// Config controls the probe client.
type Config struct {
	// Model is the model name used for probe calls.
	Model string
	// Endpoint overrides the API base URL, for tests.
	Endpoint string
	// Proxies is the forward-proxy pool, chosen at random per request.
	Proxies []string
	Timeout time.Duration
}

// Prober issues minimal generateContent requests to tell live keys apart
// from dead ones. It implements keys.Prober.
type Prober struct {
	model    string
	endpoint string
	client   *http.Client
}

// NewProber builds the probe client, routing through the proxy when one is
// configured.
func NewProber(cfg Config) (*Prober, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport, err := proxy.Transport(cfg.Proxies)
	if err != nil {
		return nil, err
	}

	return &Prober{
		model:    cfg.Model,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Probe sends a single-word prompt with the candidate key. A nil return
// means the key produced a successful completion. API failures come back as
// *keys.ProbeError carrying the HTTP status and the service's error detail.
func (p *Prober) Probe(ctx context.Context, apiKey string) error {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: "hi"}}}},
	})
	if err != nil {
		return fmt.Errorf("marshal probe request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.endpoint, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))
		return nil
	}

	probeErr := &keys.ProbeError{StatusCode: resp.StatusCode}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	if readErr == nil {
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil {
			probeErr.Status = parsed.Error.Status
			probeErr.Message = parsed.Error.Message
		} else {
			probeErr.Message = string(body)
		}
	}
	return probeErr
}
