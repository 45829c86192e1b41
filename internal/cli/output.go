// Package cli writes command output for Kotae in text or JSON form.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputAnswer prints only the joined passage text, as the dialogue agent receives it.
	OutputAnswer OutputFormat = "answer"
)

// noAnswer is printed in text mode when nothing was retrieved.
const noAnswer = "No relevant passages found."

// ParseOutputFormat returns s as an OutputFormat if it is one of allowed.
func ParseOutputFormat(s string, allowed ...OutputFormat) (OutputFormat, error) {
	names := make([]string, len(allowed))
	for i, f := range allowed {
		if string(f) == s {
			return f, nil
		}
		names[i] = string(f)
	}
	return "", fmt.Errorf("unknown output format %q; use %s", s, strings.Join(names, ", "))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w. OutputAnswer writes the
// answer built from the results.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputAnswer:
		return WriteAnswer(w, search.AnswerFrom(response), OutputText)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (k=%d, namespace %s)\n\n",
		response.Total, response.QueryTime, response.K, response.Namespace)
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %s\n", result.Rank, result.Score, result.ID)
		if src := sourceLine(result.Metadata); src != "" {
			fmt.Fprintf(w, "Source: %s\n", src)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Snippet(result.Text, 300))
	}
}

// sourceLine formats the title and page of a result, when present.
func sourceLine(meta map[string]interface{}) string {
	title, _ := meta["title"].(string)
	if title == "" {
		title, _ = meta["source"].(string)
	}
	if title == "" {
		return ""
	}
	switch page := meta["page"].(type) {
	case float64:
		return fmt.Sprintf("%s, page %d", title, int(page))
	case int:
		return fmt.Sprintf("%s, page %d", title, page)
	}
	return title
}

// WriteAnswer writes an answer. Text output is the response itself, or a
// notice when it is null.
func WriteAnswer(w io.Writer, answer *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, answer)
	}
	if answer.Response == nil {
		_, err := fmt.Fprintln(w, noAnswer)
		return err
	}
	_, err := fmt.Fprintln(w, *answer.Response)
	return err
}

// WriteIngestionReport writes the outcome of an ingestion run.
func WriteIngestionReport(w io.Writer, report *models.IngestionReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if report.Skipped {
		fmt.Fprintf(w, "Ingestion skipped for %s/%s: %s\n", report.Index, report.Namespace, report.SkipReason)
		return nil
	}
	fmt.Fprintf(w, "Ingested %s/%s in %s\n", report.Index, report.Namespace, report.Duration.Round(time.Millisecond))
	if report.IndexCreated {
		fmt.Fprintln(w, "  index created")
	}
	fmt.Fprintf(w, "  documents: %d\n  chunks:    %d\n  upserted:  %d\n", report.Documents, report.Chunks, report.Upserted)
	if report.FailedBatches > 0 {
		fmt.Fprintf(w, "  failed batches: %d\n", report.FailedBatches)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  failed file: %s: %s\n", f.Path, f.Error)
	}
	return nil
}

// WriteStatus writes index and ingestion status.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	ready := "yes"
	if !st.Ready {
		ready = "no"
	}
	fmt.Fprintf(w, "Ready:           %s\n", ready)
	if st.Reason != "" {
		fmt.Fprintf(w, "Reason:          %s\n", st.Reason)
	}
	fmt.Fprintf(w, "Store:           %s\n", st.StoreType)
	fmt.Fprintf(w, "Index:           %s (namespace %s)\n", st.Index, st.Namespace)
	fmt.Fprintf(w, "Dimension:       %d (%s)\n", st.Dimension, st.Metric)
	fmt.Fprintf(w, "Embedding model: %s\n", st.EmbeddingModel)
	fmt.Fprintf(w, "Vectors:         %d\n", st.VectorCount)
	if st.Ingesting {
		fmt.Fprintln(w, "Ingestion:       running")
	}
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "Disk usage:      %s\n", formatBytes(st.DiskUsageBytes))
	}
	if r := st.LastRun; r != nil {
		fmt.Fprintf(w, "Last run:        %s at %s", r.Status, r.StartedAt.Format(time.RFC3339))
		if r.Stale {
			fmt.Fprint(w, " (stale)")
		}
		fmt.Fprintln(w)
		if r.Error != "" {
			fmt.Fprintf(w, "Last error:      %s\n", r.Error)
		}
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
