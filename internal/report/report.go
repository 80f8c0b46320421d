// Package report renders batch results as plain-text triage reports for
// terminals.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/crimson-sun/vigil/internal/model"
)

const (
	width = 80

	// maxListed bounds each section's listing; the summary still carries the
	// full counts.
	maxListed = 10
)

var (
	rule    = strings.Repeat("=", width)
	subrule = strings.Repeat("-", width)
)

// Render returns the triage report for one batch: a header with the run ID
// and window, the summary counts, and categorized record sections. Tier names
// are colorized when the terminal supports it.
func Render(batch *model.BatchResult) string {
	var b strings.Builder

	b.WriteString(rule + "\n")
	b.WriteString("CVE RISK & ANOMALY REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Run:     %s\n", batch.RunID)
	fmt.Fprintf(&b, "Window:  %s to %s%s\n",
		batch.Window.Since.UTC().Format(time.RFC3339),
		batch.Window.Until.UTC().Format(time.RFC3339),
		maxSuffix(batch.Window.MaxResults))
	b.WriteString("\n")

	writeSummary(&b, batch.Summary)

	critical := lo.Filter(batch.Results, func(r model.AnalysisResult, _ int) bool {
		return r.Risk.Tier == model.TierHigh && r.Anomaly.IsAnomalous
	})
	highRisk := lo.Filter(batch.Results, func(r model.AnalysisResult, _ int) bool {
		return r.Risk.Tier == model.TierHigh
	})
	anomalous := lo.Filter(batch.Results, func(r model.AnalysisResult, _ int) bool {
		return r.Anomaly.IsAnomalous
	})

	writeSection(&b, "CRITICAL (high risk + anomalous)", critical)
	writeSection(&b, "HIGH RISK", highRisk)
	writeSection(&b, "ANOMALOUS", anomalous)
	writeErrors(&b, batch.Summary.Errors)

	b.WriteString(rule + "\n")
	return b.String()
}

func maxSuffix(max int) string {
	if max <= 0 {
		return ""
	}
	return fmt.Sprintf(" (max %d)", max)
}

func writeSummary(b *strings.Builder, s model.BatchSummary) {
	b.WriteString("SUMMARY\n")
	b.WriteString(subrule + "\n")
	fmt.Fprintf(b, "%-16s%d\n", "Fetched:", s.Fetched)
	fmt.Fprintf(b, "%-16s%d\n", "Dropped:", s.Dropped)
	fmt.Fprintf(b, "%-16s%d\n", "Duplicates:", s.Duplicates)
	fmt.Fprintf(b, "%-16s%d\n", "Analyzed:", s.Analyzed)
	fmt.Fprintf(b, "%-16s%d\n", "High risk:", s.HighRisk)
	fmt.Fprintf(b, "%-16s%d\n", "Anomalous:", s.Anomalous)
	fmt.Fprintf(b, "%-16s%d\n", "Critical:", s.Critical)
	fmt.Fprintf(b, "%-16s%d\n", "Record errors:", len(s.Errors))
	b.WriteString("\n")
}

func writeSection(b *strings.Builder, title string, results []model.AnalysisResult) {
	if len(results) == 0 {
		return
	}
	b.WriteString(title + "\n")
	b.WriteString(subrule + "\n")
	for _, r := range results[:min(len(results), maxListed)] {
		b.WriteString(line(r) + "\n")
	}
	if len(results) > maxListed {
		fmt.Fprintf(b, "  ... and %d more\n", len(results)-maxListed)
	}
	b.WriteString("\n")
}

func writeErrors(b *strings.Builder, errs []model.RecordError) {
	if len(errs) == 0 {
		return
	}
	b.WriteString("RECORD ERRORS\n")
	b.WriteString(subrule + "\n")
	for _, re := range errs[:min(len(errs), maxListed)] {
		fmt.Fprintf(b, "  %s  %s: %v\n", re.ID, re.Stage, re.Err)
	}
	if len(errs) > maxListed {
		fmt.Fprintf(b, "  ... and %d more\n", len(errs)-maxListed)
	}
	b.WriteString("\n")
}

func line(r model.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("  ")
	if r.SourceID != "" {
		b.WriteString(r.SourceID + "  ")
	}
	fmt.Fprintf(&b, "%s (%.1f%%)", r.Risk.Tier.Colorized(), r.Risk.Confidence*100)
	if r.Anomaly.IsAnomalous {
		fmt.Fprintf(&b, "  anomaly %.3f", r.Anomaly.Score)
	}
	if r.DescriptionPreview != "" {
		b.WriteString("  " + r.DescriptionPreview)
	}
	return b.String()
}
