package model

import "time"

// VulnerabilityRecord is the normalized form of one feed entry, produced by
// the feed client and consumed by the pipeline. Immutable once constructed.
type VulnerabilityRecord struct {
	ID             string    // stable upstream identifier (e.g. "CVE-2024-12345")
	RawDescription string    // primary English description text
	PublishedAt    time.Time // upstream publication timestamp (UTC)
}

// FetchWindow bounds one feed query. Parameters only — each invocation is
// independent and no cross-call state is kept.
type FetchWindow struct {
	Since      time.Time `json:"since"`
	Until      time.Time `json:"until"`
	MaxResults int       `json:"max_results"`
}

// FeatureVector is a fixed-length TF-IDF weight vector over the frozen
// vocabulary. Produced once per description, never mutated afterwards.
type FeatureVector []float64
