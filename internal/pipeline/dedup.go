package pipeline

import (
	"github.com/samber/lo"

	"github.com/crimson-sun/vigil/internal/model"
)

// dedupe keeps the first occurrence of each record ID, preserving feed
// order, and reports how many records were discarded. The feed already
// deduplicates within one fetch; this guards the whole batch regardless of
// which source produced it.
func dedupe(records []model.VulnerabilityRecord) ([]model.VulnerabilityRecord, int) {
	if len(records) == 0 {
		return nil, 0
	}
	unique := lo.UniqBy(records, func(r model.VulnerabilityRecord) string {
		return r.ID
	})
	return unique, len(records) - len(unique)
}
