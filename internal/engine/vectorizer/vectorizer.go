// Package vectorizer turns description text into fixed-length TF-IDF feature
// vectors using a frozen vocabulary exported at training time.
package vectorizer

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/crimson-sun/vigil/internal/model"
)

// Model is a frozen TF-IDF transform. All fields are fixed at parse time;
// Transform never mutates state, so a Model is safe for concurrent use.
type Model struct {
	vocabulary   map[string]int
	idf          []float64
	stopWords    map[string]struct{}
	lowercase    bool
	stripAccents bool
	sublinearTF  bool
	l2norm       bool
	minTokenLen  int
}

// modelFile is the JSON export layout produced by the training pipeline.
type modelFile struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf"`
	StopWords    []string       `json:"stop_words"`
	Lowercase    bool           `json:"lowercase"`
	StripAccents bool           `json:"strip_accents"`
	SublinearTF  bool           `json:"sublinear_tf"`
	Norm         string         `json:"norm"`
	MinTokenLen  int            `json:"min_token_len"`
}

// Parse loads a Model from its JSON export, verifying the vocabulary maps
// bijectively onto the idf columns.
func Parse(data []byte) (*Model, error) {
	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vectorizer: %w", err)
	}

	if len(f.Vocabulary) == 0 {
		return nil, fmt.Errorf("vectorizer: empty vocabulary")
	}
	if len(f.IDF) != len(f.Vocabulary) {
		return nil, fmt.Errorf("vectorizer: %d idf weights for %d vocabulary terms",
			len(f.IDF), len(f.Vocabulary))
	}

	seen := make([]bool, len(f.IDF))
	for term, idx := range f.Vocabulary {
		if idx < 0 || idx >= len(f.IDF) {
			return nil, fmt.Errorf("vectorizer: term %q maps to column %d, want [0,%d)",
				term, idx, len(f.IDF))
		}
		if seen[idx] {
			return nil, fmt.Errorf("vectorizer: column %d assigned to multiple terms", idx)
		}
		seen[idx] = true
	}

	var l2 bool
	switch f.Norm {
	case "l2":
		l2 = true
	case "", "none":
	default:
		return nil, fmt.Errorf("vectorizer: unsupported norm %q", f.Norm)
	}

	minLen := f.MinTokenLen
	if minLen <= 0 {
		minLen = 2
	}

	stop := make(map[string]struct{}, len(f.StopWords))
	for _, w := range f.StopWords {
		stop[w] = struct{}{}
	}

	return &Model{
		vocabulary:   f.Vocabulary,
		idf:          f.IDF,
		stopWords:    stop,
		lowercase:    f.Lowercase,
		stripAccents: f.StripAccents,
		sublinearTF:  f.SublinearTF,
		l2norm:       l2,
		minTokenLen:  minLen,
	}, nil
}

// Dim returns the feature vector length.
func (m *Model) Dim() int {
	return len(m.idf)
}

// Transform maps text to its TF-IDF vector over the frozen vocabulary.
// Out-of-vocabulary tokens contribute nothing, and identical text always
// yields an identical vector.
func (m *Model) Transform(text string) model.FeatureVector {
	counts := make(map[int]int)
	for _, tok := range tokenize(text, m.lowercase, m.stripAccents, m.minTokenLen) {
		if _, stopped := m.stopWords[tok]; stopped {
			continue
		}
		if idx, ok := m.vocabulary[tok]; ok {
			counts[idx]++
		}
	}

	vec := make(model.FeatureVector, len(m.idf))
	for idx, n := range counts {
		tf := float64(n)
		if m.sublinearTF {
			tf = 1 + math.Log(tf)
		}
		vec[idx] = tf * m.idf[idx]
	}

	if m.l2norm {
		normalizeL2(vec)
	}
	return vec
}

// normalizeL2 scales vec to unit length in place. The zero vector is left
// untouched.
func normalizeL2(vec model.FeatureVector) {
	var ss float64
	for _, v := range vec {
		ss += v * v
	}
	if ss == 0 {
		return
	}
	inv := 1 / math.Sqrt(ss)
	for i := range vec {
		vec[i] *= inv
	}
}
