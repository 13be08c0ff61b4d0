package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mhcp0001/NescordBot-sub000/internal/search"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
	"github.com/mhcp0001/NescordBot-sub000/internal/telemetry"
)

// VerifyRenderer displays consistency verification and repair results.
type VerifyRenderer struct {
	out    io.Writer
	styles Styles
}

// NewVerifyRenderer creates a verification report renderer.
func NewVerifyRenderer(out io.Writer, noColor bool) *VerifyRenderer {
	return &VerifyRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays a verification report.
func (r *VerifyRenderer) Render(report *syncer.ConsistencyReport) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Consistency Check"))
	_, _ = fmt.Fprintf(r.out, "  Checked: %d notes, %d vector docs in %s\n",
		report.CheckedNotes, report.CheckedDocs, report.Duration.Round(time.Millisecond))

	if report.IsClean() {
		_, _ = fmt.Fprintf(r.out, "  Result:  %s\n", r.styles.Success.Render("consistent"))
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  Result:  %s\n\n",
		r.styles.Error.Render(fmt.Sprintf("%d inconsistencies", len(report.Inconsistencies))))

	for _, inc := range report.Inconsistencies {
		id := inc.NoteID
		if id == "" {
			id = inc.DocID
		}
		_, _ = fmt.Fprintf(r.out, "    %-19s %s", inc.Kind, id)
		if inc.Detail != "" {
			_, _ = fmt.Fprintf(r.out, "  %s", r.styles.Dim.Render(inc.Detail))
		}
		_, _ = fmt.Fprintln(r.out)
	}
	return nil
}

// RenderJSON outputs a verification report as JSON.
func (r *VerifyRenderer) RenderJSON(report *syncer.ConsistencyReport) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// RenderRepair displays the result of a repair pass.
func (r *VerifyRenderer) RenderRepair(result *syncer.RepairResult) error {
	line := fmt.Sprintf("Repair: %d resynced", result.Resynced)
	if result.OrphansRemoved > 0 {
		line += fmt.Sprintf(", %d orphans removed", result.OrphansRemoved)
	}
	if result.OrphansFlagged > 0 {
		line += fmt.Sprintf(", %d orphans left for review", result.OrphansFlagged)
	}
	if result.Failed > 0 {
		line += r.styles.Error.Render(fmt.Sprintf(", %d failed", result.Failed))
	}
	_, _ = fmt.Fprintln(r.out, line)

	for _, o := range result.Outcomes {
		if o.Status == syncer.OutcomeSynced || o.Status == syncer.OutcomeAlreadySynced {
			continue
		}
		_, _ = fmt.Fprintf(r.out, "  %s %s: %s\n",
			r.styles.Warning.Render(string(o.Status)), o.NoteID, o.Reason)
	}
	return nil
}

// SearchRenderer displays search results and query history.
type SearchRenderer struct {
	out    io.Writer
	styles Styles
}

// NewSearchRenderer creates a search result renderer.
func NewSearchRenderer(out io.Writer, noColor bool) *SearchRenderer {
	return &SearchRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays ranked results for a query.
func (r *SearchRenderer) Render(query string, results []*search.Result) error {
	if len(results) == 0 {
		_, _ = fmt.Fprintf(r.out, "No results for %q\n", query)
		return nil
	}

	header := fmt.Sprintf("%d results for %q", len(results), query)
	if len(results) == 1 {
		header = fmt.Sprintf("1 result for %q", query)
	}
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(header))

	for i, res := range results {
		title := res.Title
		if title == "" {
			title = res.NoteID
		}
		_, _ = fmt.Fprintf(r.out, "  %2d. %s  %s %s\n",
			i+1,
			r.styles.Header.Render(title),
			r.styles.Dim.Render(fmt.Sprintf("%.3f", res.Score)),
			r.styles.Stage.Render(string(res.Source)))

		if meta := resultMeta(res); meta != "" {
			_, _ = fmt.Fprintf(r.out, "      %s\n", r.styles.Label.Render(meta))
		}
		if res.Excerpt != "" {
			_, _ = fmt.Fprintf(r.out, "      %s\n", res.Excerpt)
		}
		_, _ = fmt.Fprintln(r.out)
	}
	return nil
}

// RenderJSON outputs results as JSON.
func (r *SearchRenderer) RenderJSON(results []*search.Result) error {
	if results == nil {
		results = []*search.Result{}
	}
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

// RenderHistory displays recent searches, newest first.
func (r *SearchRenderer) RenderHistory(entries []*store.SearchHistoryEntry) error {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(r.out, "No searches recorded")
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Recent Searches"))
	for _, e := range entries {
		count := fmt.Sprintf("%d results", e.ResultsCount)
		switch {
		case e.ResultsCount == 0:
			count = r.styles.Warning.Render("0 results")
		case e.ResultsCount == 1:
			count = "1 result"
		}
		_, _ = fmt.Fprintf(r.out, "  %-16s %q  %s (%dms)\n",
			formatTime(e.Timestamp), e.Query, count, e.ExecutionTimeMS)
	}
	return nil
}

// historyEntryJSON fixes the JSON field names for history output.
type historyEntryJSON struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	Query           string    `json:"query"`
	ResultsCount    int       `json:"results_count"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}

// RenderHistoryJSON outputs history entries as JSON.
func (r *SearchRenderer) RenderHistoryJSON(entries []*store.SearchHistoryEntry) error {
	rows := make([]historyEntryJSON, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyEntryJSON{
			ID:              e.ID,
			UserID:          e.UserID,
			Query:           e.Query,
			ResultsCount:    e.ResultsCount,
			ExecutionTimeMS: e.ExecutionTimeMS,
			Timestamp:       e.Timestamp,
		})
	}
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

func resultMeta(res *search.Result) string {
	var parts []string
	if len(res.Tags) > 0 {
		parts = append(parts, "tags: "+strings.Join(res.Tags, ", "))
	}
	if res.ContentType != "" {
		parts = append(parts, res.ContentType)
	}
	if !res.UpdatedAt.IsZero() {
		parts = append(parts, formatTime(res.UpdatedAt))
	}
	return strings.Join(parts, " | ")
}

// MetricsRenderer displays aggregated query telemetry.
type MetricsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewMetricsRenderer creates a telemetry snapshot renderer.
func NewMetricsRenderer(out io.Writer, noColor bool) *MetricsRenderer {
	return &MetricsRenderer{out: out, styles: GetStyles(noColor)}
}

// latencyBucketOrder fixes the display order of histogram rows.
var latencyBucketOrder = []telemetry.LatencyBucket{
	telemetry.BucketUnder10ms,
	telemetry.BucketUnder50ms,
	telemetry.BucketUnder100ms,
	telemetry.BucketUnder500ms,
	telemetry.BucketSlow,
}

func bucketLabel(b telemetry.LatencyBucket) string {
	switch b {
	case telemetry.BucketUnder10ms:
		return "<10ms"
	case telemetry.BucketUnder50ms:
		return "<50ms"
	case telemetry.BucketUnder100ms:
		return "<100ms"
	case telemetry.BucketUnder500ms:
		return "<500ms"
	case telemetry.BucketSlow:
		return ">=500ms"
	default:
		return string(b)
	}
}

// Render displays a metrics snapshot.
func (r *MetricsRenderer) Render(s *telemetry.Snapshot) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Query Metrics"))

	_, _ = fmt.Fprintf(r.out, "  Total queries: %d (hybrid %d, vector %d, keyword %d)\n",
		s.TotalQueries,
		s.QueryTypeCounts[telemetry.QueryTypeHybrid],
		s.QueryTypeCounts[telemetry.QueryTypeVector],
		s.QueryTypeCounts[telemetry.QueryTypeKeyword])

	zero := fmt.Sprintf("%d (%.1f%%)", s.ZeroResultCount, s.ZeroResultPercentage())
	if s.ZeroResultCount > 0 {
		zero = r.styles.Warning.Render(zero)
	}
	_, _ = fmt.Fprintf(r.out, "  Zero results:  %s\n", zero)

	if len(s.LatencyDistribution) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n  Latency:\n")
		var max int64
		for _, n := range s.LatencyDistribution {
			if n > max {
				max = n
			}
		}
		for _, b := range latencyBucketOrder {
			n, ok := s.LatencyDistribution[b]
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(r.out, "    %-8s %s %d\n",
				bucketLabel(b), r.styles.Sparkline.Render(bar(n, max, 24)), n)
		}
	}

	if len(s.TopTerms) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n  Top terms:\n")
		for _, tc := range s.TopTerms {
			_, _ = fmt.Fprintf(r.out, "    %-20s %d\n", tc.Term, tc.Count)
		}
	}

	if len(s.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n  Zero-result queries:\n")
		for _, q := range s.ZeroResultQueries {
			_, _ = fmt.Fprintf(r.out, "    %q\n", q)
		}
	}
	return nil
}

// RenderJSON outputs a metrics snapshot as JSON.
func (r *MetricsRenderer) RenderJSON(s *telemetry.Snapshot) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(s)
}

// bar renders a horizontal bar scaled against max, with a minimum of
// one block for any nonzero count.
func bar(n, max int64, width int) string {
	if n <= 0 || max <= 0 || width <= 0 {
		return ""
	}
	w := int(n * int64(width) / max)
	if w < 1 {
		w = 1
	}
	return strings.Repeat("█", w)
}
