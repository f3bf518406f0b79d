// Package export writes and reads scenario records as CSV and Arrow IPC files.
//
// The CSV layout keeps the column names of the analysis tooling: ID, alpha,
// one baseline column per threshold column, <column>_perturbation labels,
// num_valid_plans, and per strategy <Prefix>Plan_ID, <Prefix>Plan_success and
// <Prefix>Plan_margins. Extra delta, severity, outcome and tie columns let the
// file read back without the experiment.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

// ErrHeader is returned when a CSV header does not have the expected layout.
var ErrHeader = errors.New("q2s: unexpected results header")

const (
	suffixPerturbation = "_perturbation"
	suffixDelta        = "_delta"
	suffixSeverity     = "_severity"
)

// Header returns the CSV header for columns.
func Header(columns []string) []string {
	h := []string{"ID", "alpha"}
	h = append(h, columns...)
	for _, suffix := range []string{suffixPerturbation, suffixDelta, suffixSeverity} {
		for _, c := range columns {
			h = append(h, c+suffix)
		}
	}
	h = append(h, "perturbation_score", "num_valid_plans")
	for _, k := range strategy.Kinds {
		p := k.ColumnPrefix() + "Plan"
		h = append(h, p+"_ID", p+"_success", p+"_margins", p+"_outcome", p+"_ties")
	}
	return h
}

// CSVWriter writes records as CSV rows. It is a simulation.Sink.
type CSVWriter struct {
	w       *csv.Writer
	columns []string
	header  bool
	rows    int
}

// NewCSVWriter returns a writer for records over columns. The header is
// written with the first row, or by Flush when no row was written.
func NewCSVWriter(w io.Writer, columns []string) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w), columns: columns}
}

// Write converts r to a record and writes it.
func (cw *CSVWriter) Write(r simulation.Result) error {
	return cw.WriteRecord(r.Record(cw.columns))
}

// WriteRecord writes one record.
func (cw *CSVWriter) WriteRecord(rec simulation.Record) error {
	if err := cw.writeHeader(); err != nil {
		return err
	}
	if len(rec.Settings) != len(cw.columns) {
		return fmt.Errorf("scenario %d has %d settings, want %d", rec.ID, len(rec.Settings), len(cw.columns))
	}
	row := make([]string, 0, len(Header(cw.columns)))
	row = append(row, strconv.Itoa(rec.ID), formatFloat(rec.Alpha))
	for _, s := range rec.Settings {
		row = append(row, formatFloat(s.Baseline))
	}
	for _, s := range rec.Settings {
		row = append(row, s.Level)
	}
	for _, s := range rec.Settings {
		row = append(row, formatFloat(s.Delta))
	}
	for _, s := range rec.Settings {
		row = append(row, strconv.Itoa(s.Score))
	}
	row = append(row, strconv.Itoa(rec.PerturbationScore), strconv.Itoa(rec.ValidPlans))
	for _, k := range strategy.Kinds {
		sr, _ := rec.Strategy(k)
		margin := ""
		if sr.Margin != nil {
			margin = formatFloat(*sr.Margin)
		}
		success := "0"
		if sr.Success {
			success = "1"
		}
		row = append(row, sr.PlanID, success, margin, string(sr.Outcome), strconv.Itoa(sr.Ties))
	}
	if err := cw.w.Write(row); err != nil {
		return err
	}
	cw.rows++
	return nil
}

// Rows returns the number of data rows written.
func (cw *CSVWriter) Rows() int { return cw.rows }

// Flush writes the header if needed and flushes buffered rows.
func (cw *CSVWriter) Flush() error {
	if err := cw.writeHeader(); err != nil {
		return err
	}
	cw.w.Flush()
	return cw.w.Error()
}

func (cw *CSVWriter) writeHeader() error {
	if cw.header {
		return nil
	}
	cw.header = true
	return cw.w.Write(Header(cw.columns))
}

// WriteCSV writes records over columns to w.
func WriteCSV(w io.Writer, columns []string, records []simulation.Record) error {
	cw := NewCSVWriter(w, columns)
	for _, rec := range records {
		if err := cw.WriteRecord(rec); err != nil {
			return err
		}
	}
	return cw.Flush()
}

// ReadCSV reads records written by CSVWriter and returns them with the
// threshold column labels.
func ReadCSV(r io.Reader) ([]simulation.Record, []string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	columns, err := columnsOf(header)
	if err != nil {
		return nil, nil, err
	}
	want := Header(columns)
	if len(header) != len(want) {
		return nil, nil, fmt.Errorf("%w: %d fields, want %d", ErrHeader, len(header), len(want))
	}
	for i := range want {
		if header[i] != want[i] {
			return nil, nil, fmt.Errorf("%w: field %d is %q, want %q", ErrHeader, i+1, header[i], want[i])
		}
	}

	var records []simulation.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row, columns)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, columns, nil
}

// columnsOf recovers the threshold columns: the fields between alpha and the
// first perturbation field.
func columnsOf(header []string) ([]string, error) {
	if len(header) < 2 || header[0] != "ID" || header[1] != "alpha" {
		return nil, fmt.Errorf("%w: must start with ID,alpha", ErrHeader)
	}
	var columns []string
	for _, f := range header[2:] {
		if strings.HasSuffix(f, suffixPerturbation) {
			break
		}
		columns = append(columns, f)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no threshold columns", ErrHeader)
	}
	return columns, nil
}

type rowParser struct {
	row []string
	pos int
	err error
}

func (p *rowParser) next() string {
	v := p.row[p.pos]
	p.pos++
	return v
}

func (p *rowParser) int() int {
	v := p.next()
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", p.pos, err)
	}
	return n
}

func (p *rowParser) float() float64 {
	v := p.next()
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %d: %w", p.pos, err)
	}
	return f
}

func parseRow(row []string, columns []string) (simulation.Record, error) {
	p := &rowParser{row: row}
	n := len(columns)
	rec := simulation.Record{
		ID:       p.int(),
		Alpha:    p.float(),
		Settings: make([]simulation.ColumnSetting, n),
	}
	for j := range columns {
		rec.Settings[j].Column = columns[j]
		rec.Settings[j].Baseline = p.float()
	}
	for j := range columns {
		rec.Settings[j].Level = p.next()
	}
	for j := range columns {
		rec.Settings[j].Delta = p.float()
	}
	for j := range columns {
		rec.Settings[j].Score = p.int()
	}
	rec.PerturbationScore = p.int()
	rec.ValidPlans = p.int()
	for _, k := range strategy.Kinds {
		sr := simulation.StrategyRecord{Strategy: k.String(), PlanID: p.next()}
		sr.Success = p.next() == "1"
		if m := p.next(); m != "" {
			v, err := strconv.ParseFloat(m, 64)
			if err != nil && p.err == nil {
				p.err = fmt.Errorf("field %d: %w", p.pos, err)
			}
			sr.Margin = &v
		}
		sr.Outcome = simulation.Outcome(p.next())
		sr.Ties = p.int()
		rec.Strategies = append(rec.Strategies, sr)
	}
	return rec, p.err
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
