package vigil

import "github.com/crimson-sun/vigil/internal/model"

// Result is one description's assessment.
// This is the stable public type — internal representations may evolve
// independently without breaking consumers.
type Result struct {
	SourceID     string  `json:"source_id,omitempty"` // upstream identifier, e.g. "CVE-2024-12345"
	Preview      string  `json:"preview"`             // first line of the description, truncated
	Tier         string  `json:"tier"`                // LOW, MEDIUM, or HIGH
	Confidence   float64 `json:"confidence"`          // winning tier's probability, in [0,1]
	IsAnomalous  bool    `json:"is_anomalous"`        // true when the score crosses the frozen boundary
	AnomalyScore float64 `json:"anomaly_score"`       // lower (more negative) = more unusual
}

// RecordFailure describes one record a batch could not analyze.
type RecordFailure struct {
	ID      string `json:"id,omitempty"`
	Stage   string `json:"stage"` // fetch, normalize, or infer
	Message string `json:"message"`
}

// Summary carries one batch's ingestion and categorization counts.
type Summary struct {
	Fetched    int             `json:"fetched"`
	Dropped    int             `json:"dropped"`
	Duplicates int             `json:"duplicates"`
	Analyzed   int             `json:"analyzed"`
	HighRisk   int             `json:"high_risk"`
	Anomalous  int             `json:"anomalous"`
	Critical   int             `json:"critical"` // both HIGH and anomalous
	Failures   []RecordFailure `json:"failures,omitempty"`
}

// BatchResult is one feed-driven analysis run. Results keep the feed's
// return order.
type BatchResult struct {
	RunID   string   `json:"run_id"`
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// Health reports model availability.
type Health struct {
	ModelsLoaded bool   `json:"models_loaded"`
	ModelVersion string `json:"model_version,omitempty"`
}

func resultFrom(r model.AnalysisResult) Result {
	return Result{
		SourceID:     r.SourceID,
		Preview:      r.DescriptionPreview,
		Tier:         r.Risk.Tier.String(),
		Confidence:   r.Risk.Confidence,
		IsAnomalous:  r.Anomaly.IsAnomalous,
		AnomalyScore: r.Anomaly.Score,
	}
}

func batchFrom(b *model.BatchResult) *BatchResult {
	out := &BatchResult{
		RunID:   b.RunID,
		Results: make([]Result, len(b.Results)),
		Summary: Summary{
			Fetched:    b.Summary.Fetched,
			Dropped:    b.Summary.Dropped,
			Duplicates: b.Summary.Duplicates,
			Analyzed:   b.Summary.Analyzed,
			HighRisk:   b.Summary.HighRisk,
			Anomalous:  b.Summary.Anomalous,
			Critical:   b.Summary.Critical,
		},
	}
	for i, r := range b.Results {
		out.Results[i] = resultFrom(r)
	}
	for _, re := range b.Summary.Errors {
		out.Summary.Failures = append(out.Summary.Failures, RecordFailure{
			ID:      re.ID,
			Stage:   string(re.Stage),
			Message: re.Err.Error(),
		})
	}
	return out
}
