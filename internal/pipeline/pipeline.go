// Package pipeline orchestrates feed ingestion, model inference, and result
// accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"k8s.io/utils/clock"

	"github.com/crimson-sun/vigil/internal/engine"
	"github.com/crimson-sun/vigil/internal/feed"
	"github.com/crimson-sun/vigil/internal/logging"
	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/telemetry"
)

var tracer = otel.Tracer("pipeline")

// Pipeline connects a feed source and an analyzer. It holds no per-request
// state, so one Pipeline serves concurrent callers.
type Pipeline struct {
	source     feed.Source
	analyzer   *engine.Analyzer
	workers    int
	previewLen int
	clock      clock.WithTicker
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds how many records a batch analyzes concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPreviewLength bounds the description preview carried in results.
func WithPreviewLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.previewLen = n
		}
	}
}

// WithClock replaces the wall clock driving watch cycles, for tests.
func WithClock(ck clock.WithTicker) Option {
	return func(p *Pipeline) {
		p.clock = ck
	}
}

// New creates a Pipeline over the given source and analyzer.
func New(source feed.Source, analyzer *engine.Analyzer, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:     source,
		analyzer:   analyzer,
		workers:    4,
		previewLen: model.DefaultPreviewLen,
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Health reports whether the pipeline can serve analyses.
type Health struct {
	ModelsLoaded bool   `json:"models_loaded"`
	ModelVersion string `json:"model_version,omitempty"`
}

// Ready reports model availability for health checks.
func (p *Pipeline) Ready() Health {
	if p.analyzer == nil {
		return Health{}
	}
	return Health{ModelsLoaded: true, ModelVersion: p.analyzer.ModelVersion()}
}

// AnalyzeOne validates and analyzes a single description.
func (p *Pipeline) AnalyzeOne(ctx context.Context, text string) (model.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return model.AnalysisResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return model.AnalysisResult{}, fmt.Errorf("pipeline: %w: description is empty", model.ErrValidation)
	}

	_, span := tracer.Start(ctx, "AnalyzeOne")
	defer span.End()

	risk, anom := p.analyzer.Analyze(text)
	span.SetAttributes(
		attribute.String("risk.tier", risk.Tier.String()),
		attribute.Bool("anomalous", anom.IsAnomalous),
	)

	telemetry.Analyses.WithLabelValues(risk.Tier.String()).Inc()
	if anom.IsAnomalous {
		telemetry.Anomalies.WithLabelValues(risk.Tier.String()).Inc()
	}

	return model.AnalysisResult{
		DescriptionPreview: model.Preview(text, p.previewLen),
		Risk:               risk,
		Anomaly:            anom,
	}, nil
}

// AnalyzeBatch fetches one window from the feed and analyzes every unique
// record. Records fail independently: a bad record contributes a RecordError
// to the summary instead of aborting the batch. When the feed fails partway,
// the records collected before the failure are still analyzed and returned
// alongside the error.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, window model.FetchWindow) (*model.BatchResult, error) {
	runID := shortRunID()
	log := slog.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "AnalyzeBatch")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID))

	res, fetchErr := p.source.Fetch(ctx, window)
	if fetchErr != nil && errors.Is(fetchErr, model.ErrValidation) {
		return nil, fetchErr
	}
	if res == nil {
		res = &feed.Result{}
	}
	if fetchErr != nil {
		log.Warn("feed fetch failed", logging.Err(fetchErr), "partial_records", len(res.Records))
	}

	unique, dups := dedupe(res.Records)

	batch := &model.BatchResult{RunID: runID, Window: window}
	batch.Summary.Fetched = res.Fetched
	batch.Summary.Dropped = res.Dropped
	batch.Summary.Duplicates = res.Duplicates + dups

	batch.Results, batch.Summary.Errors = p.analyzeAll(ctx, unique)
	batch.Summary.Analyzed = len(batch.Results)
	batch.Summary.HighRisk = lo.CountBy(batch.Results, func(r model.AnalysisResult) bool {
		return r.Risk.Tier == model.TierHigh
	})
	batch.Summary.Anomalous = lo.CountBy(batch.Results, func(r model.AnalysisResult) bool {
		return r.Anomaly.IsAnomalous
	})
	batch.Summary.Critical = lo.CountBy(batch.Results, func(r model.AnalysisResult) bool {
		return r.Risk.Tier == model.TierHigh && r.Anomaly.IsAnomalous
	})

	if fetchErr == nil {
		if err := ctx.Err(); err != nil {
			fetchErr = fmt.Errorf("pipeline: batch interrupted: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("fetched", batch.Summary.Fetched),
		attribute.Int("analyzed", batch.Summary.Analyzed),
		attribute.Int("critical", batch.Summary.Critical),
	)

	log.Info("batch analyzed",
		"fetched", batch.Summary.Fetched,
		"dropped", batch.Summary.Dropped,
		"duplicates", batch.Summary.Duplicates,
		"analyzed", batch.Summary.Analyzed,
		"high_risk", batch.Summary.HighRisk,
		"anomalous", batch.Summary.Anomalous,
		"critical", batch.Summary.Critical,
		"record_errors", len(batch.Summary.Errors))

	return batch, fetchErr
}

// analyzeAll fans records out to a bounded worker pool. Results keep record
// order. A record cancelled before its analysis started produces no entry;
// any other failure produces a RecordError.
func (p *Pipeline) analyzeAll(ctx context.Context, records []model.VulnerabilityRecord) ([]model.AnalysisResult, []model.RecordError) {
	if len(records) == 0 {
		return nil, nil
	}

	type slot struct {
		res  model.AnalysisResult
		err  error
		done bool
	}
	slots := make([]slot, len(records))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(p.workers, len(records)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := p.AnalyzeOne(ctx, records[i].RawDescription)
				res.SourceID = records[i].ID
				slots[i] = slot{res: res, err: err, done: true}
			}
		}()
	}

dispatch:
	for i := range records {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	var results []model.AnalysisResult
	var recErrs []model.RecordError
	for i, s := range slots {
		switch {
		case !s.done:
			// Never dispatched; the batch error reports the cancellation.
		case s.err == nil:
			results = append(results, s.res)
		case errors.Is(s.err, context.Canceled) || errors.Is(s.err, context.DeadlineExceeded):
			// Cancelled before analysis ran; not a record failure.
		default:
			stage := model.StageInfer
			if errors.Is(s.err, model.ErrValidation) {
				stage = model.StageNormalize
			}
			recErrs = append(recErrs, model.RecordError{ID: records[i].ID, Stage: stage, Err: s.err})
			telemetry.RecordErrors.WithLabelValues(string(stage)).Inc()
		}
	}
	return results, recErrs
}

func shortRunID() string {
	return uuid.NewString()[:8]
}
