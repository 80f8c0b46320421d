package multi

import (
	"context"
	"errors"

	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/output"
)

// Multi fans out analysis results to multiple output.Output implementations.
// Each Write call delivers the result to every wrapped output sequentially.
// If one output fails, the remaining outputs still receive the result.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi that fans out to the given outputs.
func New(outputs ...output.Output) *Multi {
	return &Multi{outputs: outputs}
}

// Write delivers the result to every wrapped output. Errors are collected
// but do not prevent delivery to subsequent outputs.
func (m *Multi) Write(ctx context.Context, result model.AnalysisResult) error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped output, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
