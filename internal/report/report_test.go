package report

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/vigil/internal/model"
)

func TestMain(m *testing.M) {
	// Stable output regardless of the terminal running the tests.
	color.NoColor = true
	os.Exit(m.Run())
}

func result(id string, tier model.RiskTier, conf float64, anomalous bool) model.AnalysisResult {
	score := 0.12
	if anomalous {
		score = -0.31
	}
	return model.AnalysisResult{
		SourceID:           id,
		DescriptionPreview: "buffer overflow in parser",
		Risk:               model.RiskAssessment{Tier: tier, Confidence: conf},
		Anomaly:            model.AnomalyAssessment{IsAnomalous: anomalous, Score: score},
	}
}

func testBatch() *model.BatchResult {
	batch := &model.BatchResult{
		RunID: "1a2b3c4d",
		Window: model.FetchWindow{
			Since:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Until:      time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			MaxResults: 10,
		},
		Results: []model.AnalysisResult{
			result("CVE-2024-0001", model.TierHigh, 0.775, true),
			result("CVE-2024-0002", model.TierHigh, 0.775, false),
			result("CVE-2024-0003", model.TierLow, 0.70, true),
			result("CVE-2024-0004", model.TierLow, 0.70, false),
		},
	}
	batch.Summary = model.BatchSummary{
		Fetched:    6,
		Dropped:    1,
		Duplicates: 1,
		Analyzed:   4,
		HighRisk:   2,
		Anomalous:  2,
		Critical:   1,
		Errors: []model.RecordError{
			{ID: "CVE-2024-0005", Stage: model.StageNormalize, Err: fmt.Errorf("description is empty")},
		},
	}
	return batch
}

func TestRender_HeaderAndSummary(t *testing.T) {
	out := Render(testBatch())

	assert.Contains(t, out, "CVE RISK & ANOMALY REPORT")
	assert.Contains(t, out, "Run:     1a2b3c4d")
	assert.Contains(t, out, "Window:  2024-05-01T00:00:00Z to 2024-05-02T00:00:00Z (max 10)")
	assert.Contains(t, out, "Fetched:        6")
	assert.Contains(t, out, "Duplicates:     1")
	assert.Contains(t, out, "Critical:       1")
	assert.Contains(t, out, "Record errors:  1")
}

func TestRender_CategorizedSections(t *testing.T) {
	out := Render(testBatch())

	// Sections appear in triage order.
	crit := strings.Index(out, "CRITICAL (high risk + anomalous)")
	high := strings.Index(out, "HIGH RISK")
	anom := strings.Index(out, "ANOMALOUS")
	errs := strings.Index(out, "RECORD ERRORS")
	require.True(t, crit >= 0 && high >= 0 && anom >= 0 && errs >= 0, "missing section:\n%s", out)
	assert.Less(t, crit, high)
	assert.Less(t, high, anom)
	assert.Less(t, anom, errs)

	assert.Contains(t, out, "  CVE-2024-0001  HIGH (77.5%)  anomaly -0.310  buffer overflow in parser")
	assert.Contains(t, out, "  CVE-2024-0002  HIGH (77.5%)  buffer overflow in parser")
	assert.Contains(t, out, "  CVE-2024-0003  LOW (70.0%)  anomaly -0.310")
	assert.Contains(t, out, "  CVE-2024-0005  normalize: description is empty")
}

func TestRender_OmitsEmptySections(t *testing.T) {
	batch := &model.BatchResult{
		RunID: "deadbeef",
		Results: []model.AnalysisResult{
			result("CVE-2024-0010", model.TierLow, 0.70, false),
		},
	}
	batch.Summary.Analyzed = 1

	out := Render(batch)

	assert.Contains(t, out, "SUMMARY")
	assert.NotContains(t, out, "CRITICAL")
	assert.NotContains(t, out, "HIGH RISK")
	assert.NotContains(t, out, "ANOMALOUS")
	assert.NotContains(t, out, "RECORD ERRORS")
	assert.NotContains(t, out, "(max", "unlimited windows carry no cap note")
}

func TestRender_CapsLongListings(t *testing.T) {
	batch := &model.BatchResult{RunID: "cafe0123"}
	for i := 0; i < 15; i++ {
		batch.Results = append(batch.Results,
			result(fmt.Sprintf("CVE-2024-%04d", i), model.TierHigh, 0.775, false))
	}
	batch.Summary.Analyzed = 15
	batch.Summary.HighRisk = 15

	out := Render(batch)

	assert.Equal(t, 10, strings.Count(out, "HIGH (77.5%)"))
	assert.Contains(t, out, "... and 5 more")
	assert.Contains(t, out, "High risk:      15")
}
