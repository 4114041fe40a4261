// Package cli renders search results and status reports for the shirabe
// command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/search"
	"github.com/hyperjump/shirabe/internal/storage"
	"github.com/hyperjump/shirabe/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// FormatFor returns OutputJSON when asJSON is set.
func FormatFor(asJSON bool) OutputFormat {
	if asJSON {
		return OutputJSON
	}
	return OutputText
}

// StatusReport is what the status command prints. Its JSON shape matches
// the server's status endpoint so either source decodes into it.
type StatusReport struct {
	Engine         search.Status  `json:"engine"`
	Documents      *int64         `json:"documents,omitempty"`
	LastBuild      *storage.Build `json:"last_build,omitempty"`
	DiskUsageBytes *int64         `json:"disk_usage_bytes,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
}

// WriteSearchResults writes search results to w in the given format. The
// response metric decides how the score column is labelled.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	label := scoreLabel(response.Metric)
	for i, result := range response.Results {
		fmt.Fprintf(w, "%2d. %-10s %s %.4f\n", i+1, result.DocID, label, result.Score)
		if result.Title != "" {
			fmt.Fprintf(w, "    %s\n", utils.Truncate(result.Title, 120))
		}
	}
	if len(response.Results) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func scoreLabel(metric string) string {
	switch metric {
	case "l2":
		return "distance"
	case "cosine":
		return "similarity"
	default:
		return "score"
	}
}

// WriteStatus writes a status report to w in the given format.
func WriteStatus(w io.Writer, report *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	st := report.Engine
	fmt.Fprintln(w, "Index")
	if st.Loaded {
		fmt.Fprintf(w, "  generation:    %s\n", st.Generation)
		fmt.Fprintf(w, "  metric:        %s\n", st.Metric)
		fmt.Fprintf(w, "  vectors:       %d\n", st.Size)
		fmt.Fprintf(w, "  corpus digest: %s\n", st.CorpusDigest)
		if st.BuiltAt != nil {
			fmt.Fprintf(w, "  built at:      %s\n", st.BuiltAt.Format(time.RFC3339))
		}
	} else {
		fmt.Fprintln(w, "  not loaded")
	}
	fmt.Fprintf(w, "  model:         %s (%d dims)\n", st.ModelID, st.Dimension)
	if st.Poisoned {
		fmt.Fprintf(w, "  FAILED:        %s\n", st.Failure)
	}

	if report.Documents != nil {
		fmt.Fprintf(w, "Documents:       %d\n", *report.Documents)
	}
	if b := report.LastBuild; b != nil {
		fmt.Fprintf(w, "Last build:      %s %s, %d vectors in %s\n",
			b.CreatedAt.Format(time.RFC3339), b.Metric, b.Count, b.Duration.Round(time.Millisecond))
	}
	if report.DiskUsageBytes != nil {
		fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(*report.DiskUsageBytes))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
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
