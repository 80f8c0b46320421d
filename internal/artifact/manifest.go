package artifact

import (
	"time"

	"github.com/hashicorp/go-version"
	"github.com/samber/oops"
)

// supportedVersions pins the bundle layout range this binary understands.
// Major version 2 is reserved for a breaking artifact format change.
var supportedVersions = version.MustConstraints(version.NewConstraint(">= 1.0, < 2.0"))

// Manifest describes one model bundle: its version, training provenance, and
// the expected digest of every artifact blob.
type Manifest struct {
	Version   string            `json:"version"`
	TrainedAt time.Time         `json:"trained_at"`
	Digests   map[string]string `json:"digests"` // bucket name -> hex sha256
}

// CheckVersion reports whether the bundle version parses and falls inside
// the supported range.
func (m Manifest) CheckVersion() error {
	v, err := version.NewVersion(m.Version)
	if err != nil {
		return oops.With("version", m.Version).Wrapf(err, "parse bundle version")
	}
	if !supportedVersions.Check(v) {
		return oops.With("version", m.Version).
			With("supported", supportedVersions.String()).
			Errorf("unsupported bundle version")
	}
	return nil
}
