package vigil

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/vigil/internal/artifact"
	"github.com/crimson-sun/vigil/internal/engine"
	"github.com/crimson-sun/vigil/internal/feed/nvd"
	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/pipeline"
)

// Sentinel errors surfaced by Vigil methods, matchable with errors.Is.
var (
	// ErrValidation marks empty or invalid caller input. Never retried.
	ErrValidation = model.ErrValidation

	// ErrFeedUnavailable marks an unreachable feed or exhausted retries.
	// A batch may still carry partial results collected before the failure.
	ErrFeedUnavailable = model.ErrFeedUnavailable

	// ErrModelUnavailable marks missing or corrupt model artifacts.
	ErrModelUnavailable = model.ErrModelUnavailable

	// ErrRateLimited marks a rate-quota wait that outlived the caller's
	// deadline. Retryable once the quota window elapses.
	ErrRateLimited = model.ErrRateLimited
)

// Serving bounds for AnalyzeBatch. Zero arguments select the defaults;
// out-of-range arguments fail with ErrValidation.
const (
	DefaultDaysBack   = 3
	MaxDaysBack       = 30
	DefaultMaxResults = 10
	MaxResultsCap     = 100
)

// Vigil assesses CVE descriptions for risk and anomaly. Safe for concurrent
// use.
type Vigil struct {
	pipeline *pipeline.Pipeline
}

// New creates a Vigil instance, loading and validating the model bundle.
// A missing or corrupt bundle fails with ErrModelUnavailable; no partial
// functionality is offered.
func New(opts ...Option) (*Vigil, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	bundle, err := artifact.Open(o.bundlePath)
	if err != nil {
		return nil, fmt.Errorf("vigil: %w", err)
	}

	src := o.source
	if src == nil {
		src = nvd.New(o.endpoint, o.apiKey, nvd.WithHTTPTimeout(o.httpTimeout))
	}

	p := pipeline.New(src, engine.New(bundle),
		pipeline.WithWorkers(o.workers),
		pipeline.WithPreviewLength(o.previewLen),
	)
	return &Vigil{pipeline: p}, nil
}

// AnalyzeOne assesses a single description. Empty (post-trim) input fails
// with ErrValidation.
func (v *Vigil) AnalyzeOne(ctx context.Context, description string) (Result, error) {
	res, err := v.pipeline.AnalyzeOne(ctx, description)
	if err != nil {
		return Result{}, err
	}
	return resultFrom(res), nil
}

// AnalyzeBatch fetches CVEs published in the trailing daysBack days and
// assesses up to maxResults of them. When the feed fails partway, the
// assessments computed before the failure are returned alongside the error.
func (v *Vigil) AnalyzeBatch(ctx context.Context, daysBack, maxResults int) (*BatchResult, error) {
	if daysBack == 0 {
		daysBack = DefaultDaysBack
	}
	if maxResults == 0 {
		maxResults = DefaultMaxResults
	}
	if daysBack < 1 || daysBack > MaxDaysBack {
		return nil, fmt.Errorf("vigil: %w: days back must be between 1 and %d, got %d",
			ErrValidation, MaxDaysBack, daysBack)
	}
	if maxResults < 1 || maxResults > MaxResultsCap {
		return nil, fmt.Errorf("vigil: %w: max results must be between 1 and %d, got %d",
			ErrValidation, MaxResultsCap, maxResults)
	}

	now := time.Now().UTC()
	window := model.FetchWindow{
		Since:      now.AddDate(0, 0, -daysBack),
		Until:      now,
		MaxResults: maxResults,
	}

	batch, err := v.pipeline.AnalyzeBatch(ctx, window)
	if batch == nil {
		return nil, err
	}
	return batchFrom(batch), err
}

// Ready reports whether the model artifacts are loaded, plus their version.
func (v *Vigil) Ready() Health {
	h := v.pipeline.Ready()
	return Health{ModelsLoaded: h.ModelsLoaded, ModelVersion: h.ModelVersion}
}
