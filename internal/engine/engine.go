// Package engine runs the frozen model bundle over description text.
package engine

import (
	"sync"

	"github.com/crimson-sun/vigil/internal/artifact"
	"github.com/crimson-sun/vigil/internal/model"
)

// Analyzer applies the bundled models to descriptions. The models are
// read-only after load, so one Analyzer serves any number of goroutines.
type Analyzer struct {
	bundle *artifact.Bundle
}

// New wraps a loaded bundle.
func New(bundle *artifact.Bundle) *Analyzer {
	return &Analyzer{bundle: bundle}
}

// ModelVersion reports the loaded bundle version.
func (a *Analyzer) ModelVersion() string {
	return a.bundle.Manifest.Version
}

// Analyze extracts features once, then runs risk classification and anomaly
// scoring concurrently over the shared vector. Inference is deterministic:
// equal text yields equal assessments.
func (a *Analyzer) Analyze(text string) (model.RiskAssessment, model.AnomalyAssessment) {
	vec := a.bundle.Vectorizer.Transform(text)

	var (
		risk model.RiskAssessment
		anom model.AnomalyAssessment
		wg   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		risk = a.bundle.Classifier.Classify(vec)
	}()
	go func() {
		defer wg.Done()
		anom = a.bundle.Anomaly.Score(vec)
	}()
	wg.Wait()

	return risk, anom
}
