// Package anomaly scores feature vectors with a frozen isolation forest.
// Scores are calibrated so negatives mark anomalies, mirroring the offline
// trainer's decision function.
package anomaly

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/crimson-sun/vigil/internal/model"
)

// Node is one isolation-tree node. Leaves record how many training samples
// reached them; deeper subtrees below a leaf are summarized by that size.
type Node struct {
	Leaf      bool    `json:"leaf"`
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
	Size      int     `json:"size,omitempty"`
}

// Model is a frozen isolation forest. Inference only; safe for concurrent
// use.
type Model struct {
	trees       []*Node
	sampleSize  int
	numFeatures int
	offset      float64
}

type modelFile struct {
	Trees       []*Node  `json:"trees"`
	SampleSize  int      `json:"sample_size"`
	NumFeatures int      `json:"num_features"`
	Offset      *float64 `json:"offset"`
}

// Parse loads a Model from its JSON export. The offset is the frozen
// decision boundary and must be present; trees are walked up front so a
// corrupt forest fails at load time.
func Parse(data []byte) (*Model, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("anomaly: %w", err)
	}

	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("anomaly: model carries no trees")
	}
	if f.SampleSize < 2 {
		return nil, fmt.Errorf("anomaly: invalid sample size %d", f.SampleSize)
	}
	if f.NumFeatures <= 0 {
		return nil, fmt.Errorf("anomaly: invalid feature count %d", f.NumFeatures)
	}
	if f.Offset == nil {
		return nil, fmt.Errorf("anomaly: model missing decision offset")
	}

	for i, root := range f.Trees {
		if err := validateNode(root, f.NumFeatures); err != nil {
			return nil, fmt.Errorf("anomaly: tree %d: %w", i, err)
		}
	}

	return &Model{
		trees:       f.Trees,
		sampleSize:  f.SampleSize,
		numFeatures: f.NumFeatures,
		offset:      *f.Offset,
	}, nil
}

func validateNode(n *Node, numFeatures int) error {
	if n == nil {
		return fmt.Errorf("missing node")
	}
	if n.Leaf {
		if n.Size < 1 {
			return fmt.Errorf("leaf with size %d", n.Size)
		}
		return nil
	}
	if n.Feature < 0 || n.Feature >= numFeatures {
		return fmt.Errorf("split on feature %d, want [0,%d)", n.Feature, numFeatures)
	}
	if err := validateNode(n.Left, numFeatures); err != nil {
		return err
	}
	return validateNode(n.Right, numFeatures)
}

// NumFeatures returns the feature vector length the forest expects.
func (m *Model) NumFeatures() int {
	return m.numFeatures
}

// Score returns the calibrated anomaly assessment for x. The raw isolation
// score s in (0, 1] is mapped to -s - offset, so shorter average paths give
// lower scores and IsAnomalous holds exactly when the score is negative.
func (m *Model) Score(x model.FeatureVector) model.AnomalyAssessment {
	if len(x) != m.numFeatures {
		panic(fmt.Sprintf("anomaly: feature vector has %d entries, model wants %d",
			len(x), m.numFeatures))
	}

	var total float64
	for _, root := range m.trees {
		total += pathLength(root, x)
	}
	avg := total / float64(len(m.trees))

	s := math.Pow(2, -avg/cFactor(m.sampleSize))
	score := -s - m.offset
	return model.AnomalyAssessment{IsAnomalous: score < 0, Score: score}
}

// pathLength is the isolation depth of x in one tree: edges walked to reach
// a leaf, plus the unsuccessful-search estimate for the samples pooled there.
func pathLength(n *Node, x model.FeatureVector) float64 {
	var depth float64
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	if n.Size > 1 {
		depth += cFactor(n.Size)
	}
	return depth
}

const eulerGamma = 0.5772156649015329

// cFactor is the average path length of an unsuccessful binary search over n
// points, the standard isolation forest normalizer.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
}
