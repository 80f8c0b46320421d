// Package artifact loads frozen model bundles. A bundle is a single bolt
// file carrying the feature model, risk classifier, anomaly detector, and a
// manifest with digests; loading is all or nothing.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"

	"github.com/crimson-sun/vigil/internal/engine/anomaly"
	"github.com/crimson-sun/vigil/internal/engine/classifier"
	"github.com/crimson-sun/vigil/internal/engine/vectorizer"
	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/telemetry"
)

const (
	bucketManifest       = "manifest"
	bucketFeatureModel   = "feature_model"
	bucketRiskClassifier = "risk_classifier"
	bucketAnomaly        = "anomaly_detector"
	dataKey              = "data"
)

var artifactBuckets = []string{bucketFeatureModel, bucketRiskClassifier, bucketAnomaly}

// Bundle is a fully loaded, validated model set. Open parses every artifact
// and cross-checks dimensions, so a Bundle in hand is immutable and safe for
// concurrent use.
type Bundle struct {
	Manifest   Manifest
	Vectorizer *vectorizer.Model
	Classifier *classifier.Model
	Anomaly    *anomaly.Model
}

// Open loads and validates the bundle at path. The file is read once and
// closed before returning; the models live in memory afterwards. A missing,
// corrupt, or incompatible artifact fails the whole load with
// model.ErrModelUnavailable.
func Open(path string) (*Bundle, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, oops.With("path", path).
			Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "open model bundle")
	}
	defer db.Close()

	blobs := make(map[string][]byte, len(artifactBuckets)+1)
	err = db.View(func(tx *bolt.Tx) error {
		for _, name := range append([]string{bucketManifest}, artifactBuckets...) {
			b := tx.Bucket([]byte(name))
			if b == nil {
				return oops.With("bucket", name).Wrapf(model.ErrModelUnavailable, "artifact missing")
			}
			data := b.Get([]byte(dataKey))
			if len(data) == 0 {
				return oops.With("bucket", name).Wrapf(model.ErrModelUnavailable, "artifact empty")
			}
			// Bolt pages are only valid inside the transaction.
			blobs[name] = bytes.Clone(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(blobs[bucketManifest], &m); err != nil {
		return nil, oops.Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "parse manifest")
	}
	if err := m.CheckVersion(); err != nil {
		return nil, oops.Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "manifest rejected")
	}

	for _, name := range artifactBuckets {
		want, ok := m.Digests[name]
		if !ok {
			return nil, oops.With("bucket", name).
				Wrapf(model.ErrModelUnavailable, "manifest lists no digest")
		}
		if got := sha256Hex(blobs[name]); got != want {
			return nil, oops.With("bucket", name).With("want", want).With("got", got).
				Wrapf(model.ErrModelUnavailable, "artifact digest mismatch")
		}
	}

	vec, err := vectorizer.Parse(blobs[bucketFeatureModel])
	if err != nil {
		return nil, oops.Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "load feature model")
	}
	cls, err := classifier.Parse(blobs[bucketRiskClassifier])
	if err != nil {
		return nil, oops.Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "load risk classifier")
	}
	anom, err := anomaly.Parse(blobs[bucketAnomaly])
	if err != nil {
		return nil, oops.Wrapf(fmt.Errorf("%w: %w", model.ErrModelUnavailable, err), "load anomaly detector")
	}

	if cls.NumFeatures() != vec.Dim() {
		return nil, oops.With("vectorizer_dim", vec.Dim()).With("classifier_dim", cls.NumFeatures()).
			Wrapf(model.ErrModelUnavailable, "risk classifier dimension mismatch")
	}
	if anom.NumFeatures() != vec.Dim() {
		return nil, oops.With("vectorizer_dim", vec.Dim()).With("anomaly_dim", anom.NumFeatures()).
			Wrapf(model.ErrModelUnavailable, "anomaly detector dimension mismatch")
	}

	telemetry.ModelsLoaded.Set(1)
	slog.Info("model bundle loaded",
		"path", path,
		"version", m.Version,
		"trained_at", m.TrainedAt,
		"features", vec.Dim())

	return &Bundle{Manifest: m, Vectorizer: vec, Classifier: cls, Anomaly: anom}, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
