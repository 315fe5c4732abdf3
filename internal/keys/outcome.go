package keys

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind enumerates the closed set of validation outcomes.
type Kind int

const (
	// KindValid means the provider accepted the key.
	KindValid Kind = iota
	// KindRateLimited means the key works but is currently throttled.
	KindRateLimited
	// KindDisabled means the key belongs to a project with the API disabled.
	KindDisabled
	// KindInvalid means the provider rejected the key.
	KindInvalid
	// KindError means validation itself failed for an unrelated reason.
	KindError
)

// Outcome is the classified result of probing one key candidate.
type Outcome struct {
	Kind Kind
	// ErrKind names the failure class when Kind is KindError.
	ErrKind string
}

// Deliverable reports whether the key should be queued for downstream sync.
// Rate-limited keys are deliverable: the downstream balancers rotate them.
func (o Outcome) Deliverable() bool {
	return o.Kind == KindValid || o.Kind == KindRateLimited
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindValid:
		return "valid"
	case KindRateLimited:
		return "rate_limited"
	case KindDisabled:
		return "disabled"
	case KindInvalid:
		return "invalid"
	default:
		if o.ErrKind == "" {
			return "error"
		}
		return "error:" + o.ErrKind
	}
}

// ProbeError is a structured provider API failure surfaced by a Prober.
type ProbeError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("provider probe: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Classify maps a probe result onto the closed outcome set. Structured
// status codes are mapped first; substring matching is an explicit fallback
// tier reserved for free-text error messages.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: KindValid}
	}

	var pe *ProbeError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case 400, 401:
			return Outcome{Kind: KindInvalid}
		case 429:
			return Outcome{Kind: KindRateLimited}
		case 403:
			if containsDisabledMarker(pe.Status + " " + pe.Message) {
				return Outcome{Kind: KindDisabled}
			}
			return Outcome{Kind: KindInvalid}
		}
		if containsRateLimitMarker(pe.Message) {
			return Outcome{Kind: KindRateLimited}
		}
		return Outcome{Kind: KindError, ErrKind: fmt.Sprintf("http_%d", pe.StatusCode)}
	}

	// Free-text fallback tier.
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "429") || containsRateLimitMarker(lower):
		return Outcome{Kind: KindRateLimited}
	case strings.Contains(msg, "403") || containsDisabledMarker(msg):
		return Outcome{Kind: KindDisabled}
	}

	return Outcome{Kind: KindError, ErrKind: errKind(err)}
}

func containsRateLimitMarker(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota")
}

func containsDisabledMarker(msg string) bool {
	return strings.Contains(msg, "SERVICE_DISABLED") || strings.Contains(msg, "API has not been used")
}

func errKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	return fmt.Sprintf("%T", err)
}
