// Package output defines where analysis results go once the pipeline is done
// with them.
package output

import (
	"context"

	"github.com/crimson-sun/vigil/internal/model"
)

// Output is a destination for analysis results. Implementations own their
// buffering; Close flushes whatever is pending.
type Output interface {
	Write(ctx context.Context, result model.AnalysisResult) error
	Close() error
}
