package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	formatCSV  = "csv"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatCSV, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// readPoints loads numeric rows from a CSV file. A first row that does not
// parse as numbers is taken as a header and skipped.
func readPoints(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pts, err := parsePoints(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

func parsePoints(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var pts [][]float64
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		p, err := parseRow(row)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		return nil, errors.New("no data rows")
	}
	return pts, nil
}

func parseRow(row []string) ([]float64, error) {
	p := make([]float64, len(row))
	for i, field := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		p[i] = v
	}
	return p, nil
}

// openOutput returns path for writing, or w when path is empty.
func openOutput(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// writeReport encodes report as JSON or YAML, or calls writeCSV for CSV.
func writeReport(w io.Writer, format string, report any, writeCSV func(*csv.Writer) error) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	case formatCSV:
		cw := csv.NewWriter(w)
		if err := writeCSV(cw); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// parseCandidates parses "a,b,c".
func parseCandidates(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("candidate %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseGrid parses "lo:hi:n".
func parseGrid(s string) (lo, hi float64, n int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("grid %q: want lo:hi:n", s)
	}
	if lo, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return 0, 0, 0, fmt.Errorf("grid %q: %w", s, err)
	}
	if hi, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, 0, 0, fmt.Errorf("grid %q: %w", s, err)
	}
	if n, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, fmt.Errorf("grid %q: %w", s, err)
	}
	return lo, hi, n, nil
}
