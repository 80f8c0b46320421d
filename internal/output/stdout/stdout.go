// Package stdout streams analysis results as NDJSON, one result per line.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/crimson-sun/vigil/internal/model"
)

// Output writes JSON-encoded analysis results to w.
type Output struct {
	enc *json.Encoder
}

// New creates an Output writing to w, typically os.Stdout. With pretty set,
// results are indented instead of single-line.
func New(w io.Writer, pretty bool) *Output {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc}
}

func (o *Output) Write(_ context.Context, result model.AnalysisResult) error {
	if err := o.enc.Encode(result); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
