// Package output renders reports as JSON or CSV artifacts and as console lines.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/shadowprobe/internal/probe"
)

// Format selects an artifact encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var csvHeader = []string{"site", "url", "status", "found", "reason"}

// FormatFor picks the format from a file extension. Anything but .csv is JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Encode writes results to w in format f.
func Encode(w io.Writer, f Format, results []probe.Result) error {
	if f == FormatCSV {
		return EncodeCSV(w, results)
	}
	return EncodeJSON(w, results)
}

// EncodeJSON writes results as an indented JSON array. Absent status and
// reason values are written as null.
func EncodeJSON(w io.Writer, results []probe.Result) error {
	if results == nil {
		results = []probe.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}

// EncodeCSV writes a header row and one row per result. Absent status and
// reason values are written as empty fields; found is "true" or "false".
func EncodeCSV(w io.Writer, results []probe.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, res := range results {
		row := []string{res.Site, res.URL, res.StatusText(), strconv.FormatBool(res.Found), res.ReasonText()}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
