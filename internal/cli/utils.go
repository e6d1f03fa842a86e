// Package cli provides output helpers for the kotae command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/service"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat returns the format named by s.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteContext writes the chunks retrieved for a question. Text output shows
// each chunk with its rank, position and score.
func WriteContext(w io.Writer, rc *models.RetrievalContext, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rc)
	}
	fmt.Fprintf(w, "\nDocument %s: %d chunks in %dms\n\n", rc.DocumentID, len(rc.Chunks), rc.QueryTime)
	for i, ch := range rc.Chunks {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Chunk: %d | Score: %.4f\n\n", i+1, ch.Position, ch.Score)
		fmt.Fprintf(w, "%s\n\n", ch.Content)
	}
	return nil
}

// WriteDocuments writes the document list. Text output is a table.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tFILE\tSIZE\tCHUNKS\tUPLOADED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, utils.Truncate(d.Title, 40), utils.Truncate(d.FileName, 30),
			utils.FormatBytes(d.FileSize), d.ChunkCount, d.UploadDate.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// WriteDocument writes one document record.
func WriteDocument(w io.Writer, d *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, d)
	}
	fmt.Fprintf(w, "ID:          %s\n", d.ID)
	fmt.Fprintf(w, "Title:       %s\n", d.Title)
	if d.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", d.Description)
	}
	fmt.Fprintf(w, "File:        %s (%s)\n", d.FileName, utils.FormatBytes(d.FileSize))
	fmt.Fprintf(w, "Chunks:      %d\n", d.ChunkCount)
	fmt.Fprintf(w, "Uploaded:    %s\n", d.UploadDate.Format("2006-01-02 15:04:05 MST"))
	return nil
}

// WriteStatus writes the service status.
func WriteStatus(w io.Writer, st *service.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:      %d\n", st.Documents)
	fmt.Fprintf(w, "Cached indexes: %d\n", st.CachedIndexes)
	fmt.Fprintf(w, "Disk usage:     %s\n", utils.FormatBytes(st.DiskUsageBytes))
	fmt.Fprintf(w, "Data dir:       %s (%s)\n", st.DataDir, st.StorageBackend)
	fmt.Fprintf(w, "Embedding:      %s %s (%d dims)\n", st.EmbeddingProvider, st.EmbeddingModel, st.Dimensions)
	fmt.Fprintf(w, "Index type:     %s\n", st.IndexType)
	fmt.Fprintf(w, "Chunking:       %s %d/%d\n", st.ChunkStrategy, st.ChunkSize, st.ChunkOverlap)
	fmt.Fprintf(w, "Default k:      %d\n", st.DefaultK)
	fmt.Fprintf(w, "Max upload:     %d MB\n", st.MaxFileSizeMB)
	return nil
}
