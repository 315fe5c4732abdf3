package keys

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/pace"
)

// Probe delay bounds. Validation probes are paced to avoid tripping the
// provider's abuse detection.
const (
	probeDelayMin = 500 * time.Millisecond
	probeDelayMax = 1500 * time.Millisecond
)

// Prober issues a lightweight generation request with the candidate key.
// A nil error means the provider accepted the key; failures are classified
// by Classify.
type Prober interface {
	Probe(ctx context.Context, apiKey string) error
}

// Validator probes key candidates against the provider and classifies the
// result.
type Validator struct {
	prober  Prober
	sleeper pace.Sleeper
	logger  *zap.Logger
}

// NewValidator constructs a Validator.
func NewValidator(prober Prober, sleeper pace.Sleeper, logger *zap.Logger) *Validator {
	if sleeper == nil {
		sleeper = pace.TimerSleeper{}
	}
	return &Validator{
		prober:  prober,
		sleeper: sleeper,
		logger:  logger,
	}
}

// Validate probes one candidate and returns its outcome. A randomized delay
// precedes every probe.
func (v *Validator) Validate(ctx context.Context, apiKey string) Outcome {
	v.sleeper.Pause(ctx, pace.Between(probeDelayMin, probeDelayMax))
	if ctx.Err() != nil {
		return Outcome{Kind: KindError, ErrKind: errKind(ctx.Err())}
	}

	outcome := Classify(v.prober.Probe(ctx, apiKey))
	if outcome.Kind == KindError {
		v.logger.Warn("key validation errored",
			zap.String("outcome", outcome.String()),
		)
	}
	return outcome
}
