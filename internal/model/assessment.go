package model

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
)

// RiskTier is the classifier's discrete output.
type RiskTier int

const (
	TierLow RiskTier = iota
	TierMedium
	TierHigh
)

var (
	TierNames = []string{
		"LOW",
		"MEDIUM",
		"HIGH",
	}
	TierColor = []func(a ...interface{}) string{
		color.New(color.FgBlue).SprintFunc(),
		color.New(color.FgYellow).SprintFunc(),
		color.New(color.FgHiRed).SprintFunc(),
	}
)

// NewRiskTier parses a tier name as emitted by the offline trainer.
func NewRiskTier(name string) (RiskTier, error) {
	for i, n := range TierNames {
		if name == n {
			return RiskTier(i), nil
		}
	}
	return TierLow, fmt.Errorf("model: unknown risk tier: %s", name)
}

func (t RiskTier) String() string {
	if t < 0 || int(t) >= len(TierNames) {
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
	return TierNames[t]
}

// Colorized returns the tier name wrapped in ANSI color for terminal reports.
func (t RiskTier) Colorized() string {
	if t < 0 || int(t) >= len(TierColor) {
		return t.String()
	}
	return TierColor[t](t.String())
}

func (t RiskTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *RiskTier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	tier, err := NewRiskTier(s)
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// RiskAssessment is the classifier's output for one description.
// Confidence is the maximum class-membership probability over the tier
// distribution; it is always the probability of the reported tier.
type RiskAssessment struct {
	Tier       RiskTier `json:"tier"`
	Confidence float64  `json:"confidence"`
}

// AnomalyAssessment is the anomaly scorer's output for one description.
// Lower (more negative) scores indicate greater deviation from the training
// distribution. IsAnomalous is true iff Score falls below the frozen decision
// boundary carried in the model artifact.
type AnomalyAssessment struct {
	IsAnomalous bool    `json:"is_anomalous"`
	Score       float64 `json:"score"`
}

// AnalysisResult is the per-description aggregate returned by the pipeline.
// Caller-owned; no lifecycle beyond a single request or batch.
type AnalysisResult struct {
	SourceID           string            `json:"source_id,omitempty"`
	DescriptionPreview string            `json:"description_preview"`
	Risk               RiskAssessment    `json:"risk"`
	Anomaly            AnomalyAssessment `json:"anomaly"`
}

// BatchSummary carries the ingestion and categorization counts for one batch.
// Critical counts records that are both HIGH tier and anomalous.
type BatchSummary struct {
	Fetched    int           `json:"fetched"`
	Dropped    int           `json:"dropped"`
	Duplicates int           `json:"duplicates"`
	Analyzed   int           `json:"analyzed"`
	HighRisk   int           `json:"high_risk"`
	Anomalous  int           `json:"anomalous"`
	Critical   int           `json:"critical"`
	Errors     []RecordError `json:"errors,omitempty"`
}

// BatchResult is the output of one feed-driven pipeline run. Results keep the
// feed's return order.
type BatchResult struct {
	RunID   string           `json:"run_id"`
	Window  FetchWindow      `json:"window"`
	Results []AnalysisResult `json:"results"`
	Summary BatchSummary     `json:"summary"`
}
