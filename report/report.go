// Package report writes per-file size summaries as CSV or JSON.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gocarina/gocsv"
	leanify "github.com/samghub/Leanify"
	"github.com/samghub/Leanify/driver"
)

// Entry is one line of the report.
type Entry struct {
	Path         string `csv:"path" json:"path"`
	Format       string `csv:"format" json:"format"`
	OriginalSize int    `csv:"original_size" json:"original_size"`
	NewSize      int    `csv:"new_size" json:"new_size"`
	Saved        int    `csv:"saved" json:"saved"`
}

// FromResults converts driver results to report entries.
func FromResults(results []driver.Result) []Entry {
	entries := make([]Entry, 0, len(results))
	for _, result := range results {
		entries = append(entries, Entry{
			Path:         result.Path,
			Format:       result.Format.String(),
			OriginalSize: result.OriginalSize,
			NewSize:      result.NewSize,
			Saved:        result.Saved(),
		})
	}
	return entries
}

// WriteCSV writes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	return gocsv.Marshal(entries, w)
}

// WriteJSON writes entries as an indented JSON array.
func WriteJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}

// WriteFile writes entries to path, choosing the encoding from the file
// extension: ".json" for JSON and ".csv" for CSV.
func WriteFile(path string, entries []Entry) error {
	var write func(io.Writer, []Entry) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		write = WriteJSON
	case ".csv":
		write = WriteCSV
	default:
		return leanify.ErrInvalidConfig.WithMessage(
			fmt.Sprintf("can't tell report format from %q, use .csv or .json", path))
	}

	file, err := os.Create(path)
	if err != nil {
		return leanify.ErrIOFailed.Wrap(err)
	}
	if err := write(file, entries); err != nil {
		file.Close()
		return leanify.ErrIOFailed.Wrap(err)
	}
	if err := file.Close(); err != nil {
		return leanify.ErrIOFailed.Wrap(err)
	}
	return nil
}
