// Package cli formats query results, sync results and status for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per hit.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text, compact or json)", s)
	}
}

// WriteQueryResults writes a query response to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteQueryResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		writeQueryResultsCompact(w, response)
		return nil
	default:
		writeQueryResultsText(w, response)
		return nil
	}
}

func writeQueryResultsText(w io.Writer, response *models.QueryResponse) {
	if response.Results.NoMatch() || len(response.Results) == 0 {
		fmt.Fprintf(w, "\n%s (%dms)\n", models.NoMatchMessage, response.QueryTime)
		return
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for rank, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %d\n", rank+1, result.Score, result.ID)
		if result.Metadata != nil {
			if result.Metadata.Source != "" {
				fmt.Fprintf(w, "Source: %s (chunk %d)\n", result.Metadata.Source, result.Metadata.ChunkIndex)
			}
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(result.Metadata.Text, 300))
		}
		fmt.Fprintln(w)
	}
}

func writeQueryResultsCompact(w io.Writer, response *models.QueryResponse) {
	if response.Results.NoMatch() || len(response.Results) == 0 {
		fmt.Fprintln(w, models.NoMatchMessage)
		return
	}
	for _, result := range response.Results {
		source, text := "", ""
		if result.Metadata != nil {
			source = result.Metadata.Source
			text = strings.Join(strings.Fields(result.Metadata.Text), " ")
		}
		fmt.Fprintf(w, "%.4f\t%d\t%s\t%s\n", result.Score, result.ID, source, utils.Truncate(text, 80))
	}
}

// WriteSyncResult writes the outcome of a build or sync.
func WriteSyncResult(w io.Writer, result *indexer.SyncResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "Sync %s: %d files (%d added, %d changed, %d removed, %d skipped), %d vectors\n",
		result.Mode, result.Files, result.Added, result.Changed, result.Removed, result.Skipped, result.Vectors)
	return nil
}

// WriteStatus writes catalog and store status.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "Documents:   %d\n", status.Documents)
	fmt.Fprintf(w, "Chunks:      %d\n", status.Chunks)
	if s := status.Store; s != nil {
		fmt.Fprintf(w, "Store:       %s (%s)\n", s.State, s.Directory)
		fmt.Fprintf(w, "Vectors:     %d\n", s.Vectors)
		fmt.Fprintf(w, "Dimensions:  %d\n", s.Dimensions)
		fmt.Fprintf(w, "Next ID:     %d\n", s.NextID)
		fmt.Fprintf(w, "Model:       %s\n", s.Model)
		fmt.Fprintf(w, "Index type:  %s\n", s.IndexType)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:  %s\n", FormatBytes(*status.DiskUsageBytes))
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
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

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
