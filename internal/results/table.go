package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// RowWriter is the sink interface for poll rows. The CSV table writer is the
// durable default; additional sinks (GreptimeDB) can be fanned out to.
type RowWriter interface {
	WriteRow(Row) error
}

// MultiRowWriter fans a row out to several writers.
type MultiRowWriter []RowWriter

func (m MultiRowWriter) WriteRow(r Row) error {
	for _, w := range m {
		if err := w.WriteRow(r); err != nil {
			return err
		}
	}
	return nil
}

// TableWriter appends rows to a CSV results table, creating the file with
// its header on first use. Every row is flushed immediately so concurrent
// readers see complete lines.
type TableWriter struct {
	file *os.File
	csv  *csv.Writer
}

// NewTableWriter opens (or creates) the results table at path.
func NewTableWriter(path string) (*TableWriter, error) {
	f, info, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	w := &TableWriter{file: f, csv: csv.NewWriter(f)}
	if info.Size() == 0 {
		header := append([]string{"timestamp"}, Columns...)
		if err := w.csv.Write(header); err != nil {
			f.Close()
			return nil, err
		}
		w.csv.Flush()
	}
	return w, w.csv.Error()
}

// WriteRow appends one row. Absent values become empty cells.
func (w *TableWriter) WriteRow(r Row) error {
	rec := make([]string, 0, len(Columns)+1)
	rec = append(rec, r.Timestamp.UTC().Format(time.RFC3339))
	for _, v := range r.Values {
		if v == nil {
			rec = append(rec, "")
		} else {
			rec = append(rec, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	if err := w.csv.Write(rec); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close closes the underlying file.
func (w *TableWriter) Close() error {
	w.csv.Flush()
	return w.file.Close()
}

// ReadTable reads a results table back. Malformed or torn rows (a writer may
// be mid-append) are skipped, never an error.
func ReadTable(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	var rows []Row
	for i, rec := range recs {
		if i == 0 || len(rec) != len(Columns)+1 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			continue
		}
		row := NewRow(ts)
		for j, cell := range rec[1:] {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue
			}
			row.Values[j] = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LastRow returns the most recent complete row, if any.
func LastRow(path string) (Row, bool) {
	rows, err := ReadTable(path)
	if err != nil || len(rows) == 0 {
		return Row{}, false
	}
	return rows[len(rows)-1], true
}

// HealthWriter appends rows to the health table. Same append-only discipline
// as TableWriter, different file and a different concurrent producer.
type HealthWriter struct {
	file *os.File
	csv  *csv.Writer
}

var healthHeader = []string{"timestamp", "cpu_millis", "mem_bytes", "restarts", "event", "error_lines"}

// NewHealthWriter opens (or creates) the health table at path.
func NewHealthWriter(path string) (*HealthWriter, error) {
	f, info, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	w := &HealthWriter{file: f, csv: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := w.csv.Write(healthHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.csv.Flush()
	}
	return w, w.csv.Error()
}

// WriteRow appends one health sample.
func (w *HealthWriter) WriteRow(h HealthRow) error {
	rec := []string{
		h.Timestamp.UTC().Format(time.RFC3339),
		strconv.FormatInt(h.CPUMillis, 10),
		strconv.FormatInt(h.MemBytes, 10),
		strconv.Itoa(h.Restarts),
		h.Event,
		strconv.Itoa(h.ErrorLines),
	}
	if err := w.csv.Write(rec); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close closes the underlying file.
func (w *HealthWriter) Close() error {
	w.csv.Flush()
	return w.file.Close()
}

// ReadHealthTable reads the health table back, skipping malformed rows.
func ReadHealthTable(path string) ([]HealthRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read health table %s: %w", path, err)
	}
	var rows []HealthRow
	for i, rec := range recs {
		if i == 0 || len(rec) != len(healthHeader) {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			continue
		}
		mem, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			continue
		}
		restarts, err := strconv.Atoi(rec[3])
		if err != nil {
			continue
		}
		lines, err := strconv.Atoi(rec[5])
		if err != nil {
			continue
		}
		rows = append(rows, HealthRow{
			Timestamp:  ts,
			CPUMillis:  cpu,
			MemBytes:   mem,
			Restarts:   restarts,
			Event:      rec[4],
			ErrorLines: lines,
		})
	}
	return rows, nil
}

// LastHealthRow returns the most recent complete health sample, if any.
func LastHealthRow(path string) (HealthRow, bool) {
	rows, err := ReadHealthTable(path)
	if err != nil || len(rows) == 0 {
		return HealthRow{}, false
	}
	return rows[len(rows)-1], true
}

func openAppend(path string) (*os.File, os.FileInfo, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}
