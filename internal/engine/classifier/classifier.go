// Package classifier scores feature vectors against a frozen random-forest
// risk model exported at training time.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/crimson-sun/vigil/internal/model"
)

// Node is one decision-tree node in the exported forest. Leaves carry a
// class probability distribution; internal nodes split on a single feature.
type Node struct {
	Leaf      bool      `json:"leaf"`
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *Node     `json:"left,omitempty"`
	Right     *Node     `json:"right,omitempty"`
	Probs     []float64 `json:"probs,omitempty"`
}

// Model is a frozen random forest over risk tiers. Inference only; safe for
// concurrent use.
type Model struct {
	tiers       []model.RiskTier // tiers[i] is the tier scored by column i of a leaf distribution
	numFeatures int
	trees       []*Node
}

type modelFile struct {
	Classes     []string `json:"classes"`
	NumFeatures int      `json:"num_features"`
	Trees       []*Node  `json:"trees"`
}

// Parse loads a Model from its JSON export. Every tree is walked up front so
// a corrupt forest fails at load time, not mid-inference.
func Parse(data []byte) (*Model, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	if f.NumFeatures <= 0 {
		return nil, fmt.Errorf("classifier: invalid feature count %d", f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("classifier: model carries no trees")
	}
	if len(f.Classes) != len(model.TierNames) {
		return nil, fmt.Errorf("classifier: model enumerates %d classes, want %d",
			len(f.Classes), len(model.TierNames))
	}

	tiers := make([]model.RiskTier, len(f.Classes))
	seen := make(map[model.RiskTier]bool)
	for i, name := range f.Classes {
		tier, err := model.NewRiskTier(name)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		if seen[tier] {
			return nil, fmt.Errorf("classifier: class %s listed twice", name)
		}
		seen[tier] = true
		tiers[i] = tier
	}

	for i, root := range f.Trees {
		if err := validateNode(root, f.NumFeatures, len(f.Classes)); err != nil {
			return nil, fmt.Errorf("classifier: tree %d: %w", i, err)
		}
	}

	return &Model{
		tiers:       tiers,
		numFeatures: f.NumFeatures,
		trees:       f.Trees,
	}, nil
}

func validateNode(n *Node, numFeatures, numClasses int) error {
	if n == nil {
		return fmt.Errorf("missing node")
	}
	if n.Leaf {
		if len(n.Probs) != numClasses {
			return fmt.Errorf("leaf carries %d probabilities, want %d", len(n.Probs), numClasses)
		}
		var sum float64
		for _, p := range n.Probs {
			if p < 0 {
				return fmt.Errorf("negative leaf probability %v", p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("leaf probabilities sum to %v", sum)
		}
		return nil
	}
	if n.Feature < 0 || n.Feature >= numFeatures {
		return fmt.Errorf("split on feature %d, want [0,%d)", n.Feature, numFeatures)
	}
	if err := validateNode(n.Left, numFeatures, numClasses); err != nil {
		return err
	}
	return validateNode(n.Right, numFeatures, numClasses)
}

// NumFeatures returns the feature vector length the forest expects.
func (m *Model) NumFeatures() int {
	return m.numFeatures
}

// Probabilities returns the forest-averaged tier distribution for x, indexed
// by RiskTier. The vector length is checked against the model at load time
// by the artifact store; a mismatch here is a programming error and panics.
func (m *Model) Probabilities(x model.FeatureVector) []float64 {
	if len(x) != m.numFeatures {
		panic(fmt.Sprintf("classifier: feature vector has %d entries, model wants %d",
			len(x), m.numFeatures))
	}

	acc := make([]float64, len(m.tiers))
	for _, root := range m.trees {
		leaf := descend(root, x)
		for i, p := range leaf.Probs {
			acc[i] += p
		}
	}

	inv := 1 / float64(len(m.trees))
	probs := make([]float64, len(model.TierNames))
	for i, tier := range m.tiers {
		probs[tier] = acc[i] * inv
	}
	return probs
}

// Classify returns the argmax tier with its probability as the confidence.
// Ties resolve to the lowest tier so uncertainty never inflates risk.
func (m *Model) Classify(x model.FeatureVector) model.RiskAssessment {
	probs := m.Probabilities(x)
	best := model.TierLow
	for tier := model.TierMedium; tier <= model.TierHigh; tier++ {
		if probs[tier] > probs[best] {
			best = tier
		}
	}
	return model.RiskAssessment{Tier: best, Confidence: probs[best]}
}

func descend(n *Node, x model.FeatureVector) *Node {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}
