package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/vigil/internal/artifact"
	"github.com/crimson-sun/vigil/internal/artifact/artifacttest"
	"github.com/crimson-sun/vigil/internal/engine"
	"github.com/crimson-sun/vigil/internal/feed"
	"github.com/crimson-sun/vigil/internal/model"
)

// stubSource returns canned feed results and records every window it is
// asked for. A fetch func, when set, overrides the canned response.
type stubSource struct {
	mu      sync.Mutex
	res     *feed.Result
	err     error
	windows []model.FetchWindow
	fetch   func(ctx context.Context, window model.FetchWindow) (*feed.Result, error)
}

func (s *stubSource) Fetch(ctx context.Context, window model.FetchWindow) (*feed.Result, error) {
	s.mu.Lock()
	s.windows = append(s.windows, window)
	fn := s.fetch
	res, err := s.res, s.err
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, window)
	}
	return res, err
}

func (s *stubSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *stubSource) lastWindow() model.FetchWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[len(s.windows)-1]
}

func record(id, text string) model.VulnerabilityRecord {
	return model.VulnerabilityRecord{
		ID:             id,
		RawDescription: text,
		PublishedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newTestPipeline(t *testing.T, src feed.Source, opts ...Option) *Pipeline {
	t.Helper()
	path := artifacttest.BuildBundle(t, t.TempDir())
	bundle, err := artifact.Open(path)
	require.NoError(t, err)
	return New(src, engine.New(bundle), opts...)
}

func testWindow() model.FetchWindow {
	return model.FetchWindow{
		Since: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
}

func sourceIDs(results []model.AnalysisResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.SourceID
	}
	return ids
}

func TestAnalyzeOne(t *testing.T) {
	p := newTestPipeline(t, &stubSource{})

	res, err := p.AnalyzeOne(context.Background(), artifacttest.TextHighRisk)
	require.NoError(t, err)

	assert.Equal(t, model.TierHigh, res.Risk.Tier)
	assert.InDelta(t, artifacttest.HighRiskConfidence, res.Risk.Confidence, 1e-9)
	assert.False(t, res.Anomaly.IsAnomalous)
	assert.Equal(t, artifacttest.TextHighRisk, res.DescriptionPreview)
	assert.Empty(t, res.SourceID)
}

func TestAnalyzeOne_RejectsEmptyDescription(t *testing.T) {
	p := newTestPipeline(t, &stubSource{})

	for _, text := range []string{"", "   ", "\n\t "} {
		res, err := p.AnalyzeOne(context.Background(), text)
		require.ErrorIs(t, err, model.ErrValidation)
		assert.Zero(t, res)
	}
}

func TestAnalyzeOne_TruncatesPreview(t *testing.T) {
	p := newTestPipeline(t, &stubSource{}, WithPreviewLength(10))

	res, err := p.AnalyzeOne(context.Background(), artifacttest.TextHighRisk)
	require.NoError(t, err)

	assert.Equal(t, artifacttest.TextHighRisk[:10]+"...", res.DescriptionPreview)
}

func TestAnalyzeOne_ContextCanceled(t *testing.T) {
	p := newTestPipeline(t, &stubSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.AnalyzeOne(ctx, artifacttest.TextHighRisk)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeBatch_AnalyzesUniqueRecordsInOrder(t *testing.T) {
	src := &stubSource{res: &feed.Result{
		Records: []model.VulnerabilityRecord{
			record("CVE-2024-0001", artifacttest.TextHighRisk),
			record("CVE-2024-0002", artifacttest.TextLowRisk),
			record("CVE-2024-0001", artifacttest.TextHighRisk), // repeat past the source's own dedup
			record("CVE-2024-0003", artifacttest.TextMediumRisk),
		},
		Fetched:    6,
		Dropped:    1,
		Duplicates: 1,
	}}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())
	require.NoError(t, err)

	assert.Equal(t, 6, batch.Summary.Fetched)
	assert.Equal(t, 1, batch.Summary.Dropped)
	assert.Equal(t, 2, batch.Summary.Duplicates, "feed duplicates plus batch duplicates")
	assert.Equal(t, 3, batch.Summary.Analyzed)
	assert.Empty(t, batch.Summary.Errors)

	assert.Equal(t, []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"}, sourceIDs(batch.Results))
	assert.NotEmpty(t, batch.RunID)
	assert.Equal(t, testWindow(), batch.Window)
}

func TestAnalyzeBatch_CountsRiskCategories(t *testing.T) {
	src := &stubSource{res: &feed.Result{
		Records: []model.VulnerabilityRecord{
			record("CVE-2024-0010", artifacttest.TextHighRisk),
			record("CVE-2024-0011", artifacttest.TextCritical),
			record("CVE-2024-0012", artifacttest.TextAnomalous),
			record("CVE-2024-0013", artifacttest.TextLowRisk),
		},
		Fetched: 4,
	}}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Summary.Analyzed)
	assert.Equal(t, 2, batch.Summary.HighRisk)
	assert.Equal(t, 2, batch.Summary.Anomalous)
	assert.Equal(t, 1, batch.Summary.Critical, "critical means high risk and anomalous at once")
}

func TestAnalyzeBatch_RecordFailuresAreIsolated(t *testing.T) {
	src := &stubSource{res: &feed.Result{
		Records: []model.VulnerabilityRecord{
			record("CVE-2024-0020", artifacttest.TextHighRisk),
			record("CVE-2024-0021", "   "),
			record("CVE-2024-0022", artifacttest.TextLowRisk),
		},
		Fetched: 3,
	}}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())
	require.NoError(t, err, "a bad record must not fail the batch")

	assert.Equal(t, []string{"CVE-2024-0020", "CVE-2024-0022"}, sourceIDs(batch.Results))
	assert.Equal(t, 2, batch.Summary.Analyzed)

	require.Len(t, batch.Summary.Errors, 1)
	recErr := batch.Summary.Errors[0]
	assert.Equal(t, "CVE-2024-0021", recErr.ID)
	assert.Equal(t, model.StageNormalize, recErr.Stage)
	assert.ErrorIs(t, recErr.Err, model.ErrValidation)
}

func TestAnalyzeBatch_PropagatesWindowValidation(t *testing.T) {
	src := &stubSource{err: fmt.Errorf("feed: %w: window is inverted", model.ErrValidation)}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())

	assert.Nil(t, batch)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAnalyzeBatch_PartialFeedFailure(t *testing.T) {
	src := &stubSource{
		res: &feed.Result{
			Records: []model.VulnerabilityRecord{
				record("CVE-2024-0030", artifacttest.TextHighRisk),
				record("CVE-2024-0031", artifacttest.TextLowRisk),
			},
			Fetched: 2,
		},
		err: fmt.Errorf("nvd: %w: status 503", model.ErrFeedUnavailable),
	}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())

	require.ErrorIs(t, err, model.ErrFeedUnavailable)
	require.NotNil(t, batch, "records collected before the failure are still analyzed")
	assert.Equal(t, 2, batch.Summary.Analyzed)
	assert.Equal(t, []string{"CVE-2024-0030", "CVE-2024-0031"}, sourceIDs(batch.Results))
}

func TestAnalyzeBatch_FeedFailureWithoutRecords(t *testing.T) {
	src := &stubSource{err: errors.New("connection refused")}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())

	assert.EqualError(t, err, "connection refused")
	require.NotNil(t, batch)
	assert.Zero(t, batch.Summary.Analyzed)
	assert.Empty(t, batch.Results)
}

func TestAnalyzeBatch_InterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// The source cancels the context as it returns, simulating a deadline
	// that expires between the fetch and the analysis fan-out.
	src := &stubSource{}
	src.fetch = func(context.Context, model.FetchWindow) (*feed.Result, error) {
		cancel()
		return &feed.Result{
			Records: []model.VulnerabilityRecord{
				record("CVE-2024-0040", artifacttest.TextHighRisk),
				record("CVE-2024-0041", artifacttest.TextLowRisk),
			},
			Fetched: 2,
		}, nil
	}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(ctx, testWindow())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "interrupted")

	require.NotNil(t, batch, "partial accounting survives the interruption")
	assert.Equal(t, 2, batch.Summary.Fetched)
	assert.Empty(t, batch.Results)
	assert.Empty(t, batch.Summary.Errors, "cancelled records are not record failures")
}

func TestAnalyzeBatch_ManyRecordsKeepFeedOrder(t *testing.T) {
	texts := []string{
		artifacttest.TextHighRisk,
		artifacttest.TextMediumRisk,
		artifacttest.TextLowRisk,
		artifacttest.TextAnomalous,
	}
	var records []model.VulnerabilityRecord
	var want []string
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("CVE-2024-%04d", 100+i)
		records = append(records, record(id, texts[i%len(texts)]))
		want = append(want, id)
	}
	src := &stubSource{res: &feed.Result{Records: records, Fetched: len(records)}}
	p := newTestPipeline(t, src, WithWorkers(8))

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())
	require.NoError(t, err)

	assert.Equal(t, want, sourceIDs(batch.Results))
}

func TestReady(t *testing.T) {
	p := newTestPipeline(t, &stubSource{})

	h := p.Ready()
	assert.True(t, h.ModelsLoaded)
	assert.Equal(t, artifacttest.Version, h.ModelVersion)

	empty := New(&stubSource{}, nil)
	assert.False(t, empty.Ready().ModelsLoaded)
}

func TestAnalyzeBatch_EmptyFeed(t *testing.T) {
	src := &stubSource{res: &feed.Result{}}
	p := newTestPipeline(t, src)

	batch, err := p.AnalyzeBatch(context.Background(), testWindow())
	require.NoError(t, err)

	assert.Empty(t, batch.Results)
	assert.Zero(t, batch.Summary.Analyzed)
	assert.Empty(t, batch.Summary.Errors)
	assert.False(t, strings.Contains(batch.RunID, "-"), "run id is the short uuid prefix")
}
