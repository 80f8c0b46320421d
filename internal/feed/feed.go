// Package feed defines the source abstraction for vulnerability records and
// the shared window rules every provider enforces.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/vigil/internal/model"
)

// Source is a provider of vulnerability records.
type Source interface {
	// Fetch retrieves records published inside the window. Implementations
	// return whatever they collected alongside the error, so a failure
	// mid-pagination still yields the earlier pages.
	Fetch(ctx context.Context, window model.FetchWindow) (*Result, error)
}

// Result carries fetched records plus ingest accounting. The counters cover
// what the provider saw, not what the caller keeps: Fetched is the raw
// upstream count, Dropped the malformed or non-English entries discarded
// during normalization, Duplicates the IDs already seen on an earlier page.
type Result struct {
	Records    []model.VulnerabilityRecord
	Fetched    int
	Dropped    int
	Duplicates int
}

// MaxWindow is the widest publication range a single fetch may cover.
const MaxWindow = 120 * 24 * time.Hour

// ValidateWindow rejects inverted or oversized fetch windows.
func ValidateWindow(w model.FetchWindow) error {
	if w.Since.IsZero() || w.Until.IsZero() {
		return fmt.Errorf("feed: %w: window bounds must be set", model.ErrValidation)
	}
	if w.Until.Before(w.Since) {
		return fmt.Errorf("feed: %w: window ends %s before it starts %s",
			model.ErrValidation, w.Until.Format(time.RFC3339), w.Since.Format(time.RFC3339))
	}
	if w.Until.Sub(w.Since) > MaxWindow {
		return fmt.Errorf("feed: %w: window spans %s, maximum is %s",
			model.ErrValidation, w.Until.Sub(w.Since), MaxWindow)
	}
	return nil
}
