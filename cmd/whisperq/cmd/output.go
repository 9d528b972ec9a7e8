package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/whisperq/pkg/models"
)

// printStructured writes v as JSON or YAML. YAML goes through the JSON
// encoding so field names and nulls match the record file.
func printStructured(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if outputFormat == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func printRecord(w io.Writer, rec models.JobRecord) error {
	if outputFormat != "table" {
		return printStructured(w, rec)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("Job ID", rec.JobID)
	table.Append("Status", string(rec.Status))
	if rec.Status == models.JobStatusUnknown {
		table.Render()
		return nil
	}
	table.Append("Remote Job ID", orDash(rec.RemoteJobID))
	table.Append("Source", orDash(rec.Source))
	table.Append("Created At", formatTime(rec.CreatedAt))
	table.Append("Updated At", formatTime(rec.UpdatedAt))
	for _, name := range []string{models.ArtifactSRT, models.ArtifactVTT, models.ArtifactSegments} {
		if loc, ok := rec.ResultLocations[name]; ok {
			table.Append("Result ("+name+")", loc)
		}
	}
	if rec.Error != "" {
		table.Append("Error", rec.Error)
	}
	return table.Render()
}

func printRecords(w io.Writer, records []models.JobRecord) error {
	if outputFormat != "table" {
		return printStructured(w, records)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "Status", "Source", "Created", "Updated", "Error")
	for _, rec := range records {
		table.Append(
			rec.JobID,
			string(rec.Status),
			truncate(orDash(rec.Source), 48),
			formatTime(rec.CreatedAt),
			formatTime(rec.UpdatedAt),
			truncate(orDash(rec.Error), 60),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal jobs: %d\n", len(records))
	return err
}

func printHistory(w io.Writer, entries []models.HistoryEntry) error {
	if outputFormat != "table" {
		return printStructured(w, entries)
	}

	// one line per entry, oldest first
	for _, e := range entries {
		parts := []string{e.Timestamp.Local().Format(time.RFC3339)}
		if e.HTTPStatus != 0 {
			parts = append(parts, fmt.Sprintf("http=%d", e.HTTPStatus))
		}
		if e.RemoteStatus != "" {
			parts = append(parts, "status="+e.RemoteStatus)
		}
		if e.Error != "" {
			parts = append(parts, "error="+e.Error)
		}
		if len(e.Response) > 0 {
			parts = append(parts, string(e.Response))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return nil
}
