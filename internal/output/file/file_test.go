package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/vigil/internal/model"
)

func testResult(id string) model.AnalysisResult {
	return model.AnalysisResult{
		SourceID:           id,
		DescriptionPreview: "Buffer overflow in network service allows remote code execution",
		Risk:               model.RiskAssessment{Tier: model.TierHigh, Confidence: 0.78},
		Anomaly:            model.AnomalyAssessment{IsAnomalous: false, Score: 0.06},
	}
}

func TestWrite_ProducesValidNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, out.Write(context.Background(), testResult("CVE-2024-0001")))
	}
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		var res model.AnalysisResult
		require.NoError(t, json.Unmarshal([]byte(line), &res))
		assert.Equal(t, "CVE-2024-0001", res.SourceID)
		assert.Equal(t, model.TierHigh, res.Risk.Tier)
	}
}

func TestRotation_TriggersAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.jsonl")

	// Each line is well over 100 bytes, so rotation fires after ~1 line.
	out, err := New(path, WithMaxSize(200))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, out.Write(context.Background(), testResult("CVE-2024-0002")))
	}
	require.NoError(t, out.Close())

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size(), "current file should have data after rotation")
}

func TestClose_FlushesBufferedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	require.NoError(t, out.Write(context.Background(), testResult("CVE-2024-0003")))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestWrite_ConcurrentWritersSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	out, err := New(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, out.Write(context.Background(), testResult("CVE-2024-0004")))
		}()
	}
	wg.Wait()
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 50)
}
