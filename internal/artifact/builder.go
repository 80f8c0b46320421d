package artifact

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/samber/oops"
	bolt "go.etcd.io/bbolt"

	"github.com/crimson-sun/vigil/internal/engine/anomaly"
	"github.com/crimson-sun/vigil/internal/engine/classifier"
	"github.com/crimson-sun/vigil/internal/engine/vectorizer"
)

// Input carries the raw artifact blobs for one bundle build.
type Input struct {
	Version         string
	TrainedAt       time.Time
	FeatureModel    []byte
	RiskClassifier  []byte
	AnomalyDetector []byte
}

// Build validates the artifacts and writes them as a new bundle at path.
// Every model must parse and agree on feature dimensionality before a byte
// is written, so a bundle on disk is always loadable by the same binary.
func Build(path string, in Input) error {
	if _, err := version.NewVersion(in.Version); err != nil {
		return oops.With("version", in.Version).Wrapf(err, "parse bundle version")
	}

	vec, err := vectorizer.Parse(in.FeatureModel)
	if err != nil {
		return oops.Wrapf(err, "feature model rejected")
	}
	cls, err := classifier.Parse(in.RiskClassifier)
	if err != nil {
		return oops.Wrapf(err, "risk classifier rejected")
	}
	anom, err := anomaly.Parse(in.AnomalyDetector)
	if err != nil {
		return oops.Wrapf(err, "anomaly detector rejected")
	}

	if cls.NumFeatures() != vec.Dim() || anom.NumFeatures() != vec.Dim() {
		return oops.With("vectorizer_dim", vec.Dim()).
			With("classifier_dim", cls.NumFeatures()).
			With("anomaly_dim", anom.NumFeatures()).
			Errorf("models disagree on feature dimensionality")
	}

	manifest := Manifest{
		Version:   in.Version,
		TrainedAt: in.TrainedAt.UTC(),
		Digests: map[string]string{
			bucketFeatureModel:   sha256Hex(in.FeatureModel),
			bucketRiskClassifier: sha256Hex(in.RiskClassifier),
			bucketAnomaly:        sha256Hex(in.AnomalyDetector),
		},
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return oops.Wrapf(err, "encode manifest")
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return oops.With("path", path).Wrapf(err, "create model bundle")
	}

	blobs := map[string][]byte{
		bucketManifest:       manifestJSON,
		bucketFeatureModel:   in.FeatureModel,
		bucketRiskClassifier: in.RiskClassifier,
		bucketAnomaly:        in.AnomalyDetector,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for name, blob := range blobs {
			b, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return oops.With("bucket", name).Wrapf(err, "create bucket")
			}
			if err := b.Put([]byte(dataKey), blob); err != nil {
				return oops.With("bucket", name).Wrapf(err, "write artifact")
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	return db.Close()
}
