// Package artifacttest builds small hand-verified model bundles for tests.
//
// The fixture models share an 11-term vocabulary and are wired so that a few
// canonical descriptions produce known outcomes:
//
//	TextHighRisk   -> HIGH   (confidence 0.775), not anomalous
//	TextMediumRisk -> MEDIUM (confidence 0.45),  not anomalous
//	TextLowRisk    -> LOW    (confidence 0.70),  not anomalous
//	TextAnomalous  -> LOW    (confidence 0.70),  anomalous
//	TextCritical   -> HIGH   (confidence 0.775), anomalous
//
// The risk trees split on the "overflow", "injection", and "execution"
// columns; the isolation tree sends any description containing
// "steganographic" to a singleton leaf at depth one.
package artifacttest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/crimson-sun/vigil/internal/artifact"
)

// Version is the manifest version fixture bundles carry.
const Version = "1.0.0"

// TrainedAt is the training timestamp fixture bundles carry.
var TrainedAt = time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)

// Canonical descriptions with precomputed outcomes.
const (
	TextHighRisk   = "Buffer overflow in network service allows remote code execution"
	TextMediumRisk = "SQL injection attack"
	TextLowRisk    = "completely unrelated text"
	TextAnomalous  = "Steganographic channel in the buffer"
	TextCritical   = "Steganographic buffer overflow allows remote code execution"
)

// Confidences the fixture classifier reports for the canonical descriptions.
const (
	HighRiskConfidence   = 0.775
	MediumRiskConfidence = 0.45
	LowRiskConfidence    = 0.70
)

const featureModel = `{
	"vocabulary": {
		"buffer": 0, "overflow": 1, "network": 2, "service": 3, "allows": 4,
		"remote": 5, "code": 6, "execution": 7, "sql": 8, "injection": 9,
		"steganographic": 10
	},
	"idf": [1.2, 1.4, 1.0, 1.0, 1.1, 1.3, 1.3, 1.5, 1.6, 1.7, 2.5],
	"stop_words": ["in", "the", "a", "an", "of", "to", "and"],
	"lowercase": true,
	"strip_accents": true,
	"sublinear_tf": false,
	"norm": "l2",
	"min_token_len": 2
}`

const riskClassifier = `{
	"classes": ["HIGH", "LOW", "MEDIUM"],
	"num_features": 11,
	"trees": [
		{
			"leaf": false, "feature": 1, "threshold": 0,
			"left": {
				"leaf": false, "feature": 9, "threshold": 0,
				"left":  {"leaf": true, "probs": [0.05, 0.80, 0.15]},
				"right": {"leaf": true, "probs": [0.30, 0.10, 0.60]}
			},
			"right": {"leaf": true, "probs": [0.85, 0.05, 0.10]}
		},
		{
			"leaf": false, "feature": 7, "threshold": 0,
			"left":  {"leaf": true, "probs": [0.10, 0.60, 0.30]},
			"right": {"leaf": true, "probs": [0.70, 0.05, 0.25]}
		}
	]
}`

const anomalyDetector = `{
	"sample_size": 8,
	"num_features": 11,
	"offset": -0.5,
	"trees": [
		{
			"leaf": false, "feature": 10, "threshold": 0,
			"left": {
				"leaf": false, "feature": 0, "threshold": 0,
				"left": {
					"leaf": false, "feature": 8, "threshold": 0,
					"left":  {"leaf": true, "size": 4},
					"right": {"leaf": true, "size": 3}
				},
				"right": {"leaf": true, "size": 4}
			},
			"right": {"leaf": true, "size": 1}
		}
	]
}`

// FeatureModelJSON returns a fresh copy of the fixture TF-IDF export.
func FeatureModelJSON() []byte { return []byte(featureModel) }

// RiskClassifierJSON returns a fresh copy of the fixture forest export.
func RiskClassifierJSON() []byte { return []byte(riskClassifier) }

// AnomalyDetectorJSON returns a fresh copy of the fixture isolation forest.
func AnomalyDetectorJSON() []byte { return []byte(anomalyDetector) }

// BuildBundle writes a complete fixture bundle under dir and returns its
// path.
func BuildBundle(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "vigil.db")
	err := artifact.Build(path, artifact.Input{
		Version:         Version,
		TrainedAt:       TrainedAt,
		FeatureModel:    FeatureModelJSON(),
		RiskClassifier:  RiskClassifierJSON(),
		AnomalyDetector: AnomalyDetectorJSON(),
	})
	if err != nil {
		t.Fatalf("build fixture bundle: %v", err)
	}
	return path
}
