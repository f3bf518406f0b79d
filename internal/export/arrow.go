package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/q2s/internal/simulation"
	"github.com/nvandessel/q2s/internal/strategy"
)

// ArrowBatchSize is the number of rows per Arrow record batch.
const ArrowBatchSize = 4096

// ArrowSchema returns the schema of the Arrow export for columns. Column
// fields are named <column>.<field> and strategy fields <strategy>.<field>.
func ArrowSchema(columns []string) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "alpha", Type: arrow.PrimitiveTypes.Float64},
	}
	for _, c := range columns {
		fields = append(fields,
			arrow.Field{Name: c + ".baseline", Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: c + ".level", Type: arrow.BinaryTypes.String},
			arrow.Field{Name: c + ".delta", Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: c + ".severity", Type: arrow.PrimitiveTypes.Int64},
		)
	}
	fields = append(fields,
		arrow.Field{Name: "perturbation_score", Type: arrow.PrimitiveTypes.Int64},
		arrow.Field{Name: "valid_plans", Type: arrow.PrimitiveTypes.Int64},
	)
	for _, k := range strategy.Kinds {
		s := k.String()
		fields = append(fields,
			arrow.Field{Name: s + ".plan_id", Type: arrow.BinaryTypes.String, Nullable: true},
			arrow.Field{Name: s + ".success", Type: arrow.FixedWidthTypes.Boolean},
			arrow.Field{Name: s + ".margin", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			arrow.Field{Name: s + ".outcome", Type: arrow.BinaryTypes.String},
			arrow.Field{Name: s + ".ties", Type: arrow.PrimitiveTypes.Int64},
		)
	}
	md := arrow.NewMetadata([]string{"q2s.columns"}, []string{joinColumns(columns)})
	return arrow.NewSchema(fields, &md)
}

// WriteArrow writes records over columns to an Arrow IPC file at path.
func WriteArrow(path string, columns []string, records []simulation.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	schema := ArrowSchema(columns)
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for start := 0; start < len(records); start += ArrowBatchSize {
		end := min(start+ArrowBatchSize, len(records))
		for _, rec := range records[start:end] {
			if err := appendRecord(b, rec, len(columns)); err != nil {
				w.Close()
				return err
			}
		}
		batch := b.NewRecord()
		err := w.Write(batch)
		batch.Release()
		if err != nil {
			w.Close()
			return fmt.Errorf("writing record batch: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return f.Close()
}

func appendRecord(b *array.RecordBuilder, rec simulation.Record, ncols int) error {
	if len(rec.Settings) != ncols {
		return fmt.Errorf("scenario %d has %d settings, want %d", rec.ID, len(rec.Settings), ncols)
	}
	i := 0
	next := func() array.Builder {
		f := b.Field(i)
		i++
		return f
	}
	next().(*array.Int64Builder).Append(int64(rec.ID))
	next().(*array.Float64Builder).Append(rec.Alpha)
	for _, s := range rec.Settings {
		next().(*array.Float64Builder).Append(s.Baseline)
		next().(*array.StringBuilder).Append(s.Level)
		next().(*array.Float64Builder).Append(s.Delta)
		next().(*array.Int64Builder).Append(int64(s.Score))
	}
	next().(*array.Int64Builder).Append(int64(rec.PerturbationScore))
	next().(*array.Int64Builder).Append(int64(rec.ValidPlans))
	for _, k := range strategy.Kinds {
		sr, _ := rec.Strategy(k)
		plan := next().(*array.StringBuilder)
		if sr.PlanID == "" {
			plan.AppendNull()
		} else {
			plan.Append(sr.PlanID)
		}
		next().(*array.BooleanBuilder).Append(sr.Success)
		margin := next().(*array.Float64Builder)
		if sr.Margin == nil {
			margin.AppendNull()
		} else {
			margin.Append(*sr.Margin)
		}
		next().(*array.StringBuilder).Append(string(sr.Outcome))
		next().(*array.Int64Builder).Append(int64(sr.Ties))
	}
	return nil
}

// ReadArrow reads an Arrow IPC file written by WriteArrow.
func ReadArrow(path string) ([]simulation.Record, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, nil, fmt.Errorf("opening arrow reader: %w", err)
	}
	defer r.Close()

	schema := r.Schema()
	idx := schema.Metadata().FindKey("q2s.columns")
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: arrow schema has no q2s.columns metadata", ErrHeader)
	}
	columns := splitColumns(schema.Metadata().Values()[idx])
	if !schema.Equal(ArrowSchema(columns)) {
		return nil, nil, fmt.Errorf("%w: arrow schema does not match columns %v", ErrHeader, columns)
	}

	var records []simulation.Record
	for n := 0; n < r.NumRecords(); n++ {
		batch, err := r.Record(n)
		if err != nil {
			return nil, nil, fmt.Errorf("reading record batch %d: %w", n, err)
		}
		for row := 0; row < int(batch.NumRows()); row++ {
			records = append(records, readRow(batch, row, columns))
		}
	}
	return records, columns, nil
}

func readRow(batch arrow.Record, row int, columns []string) simulation.Record {
	i := 0
	next := func() arrow.Array {
		c := batch.Column(i)
		i++
		return c
	}
	rec := simulation.Record{
		ID:       int(next().(*array.Int64).Value(row)),
		Alpha:    next().(*array.Float64).Value(row),
		Settings: make([]simulation.ColumnSetting, len(columns)),
	}
	for j, c := range columns {
		rec.Settings[j] = simulation.ColumnSetting{
			Column:   c,
			Baseline: next().(*array.Float64).Value(row),
			Level:    next().(*array.String).Value(row),
			Delta:    next().(*array.Float64).Value(row),
			Score:    int(next().(*array.Int64).Value(row)),
		}
	}
	rec.PerturbationScore = int(next().(*array.Int64).Value(row))
	rec.ValidPlans = int(next().(*array.Int64).Value(row))
	for _, k := range strategy.Kinds {
		sr := simulation.StrategyRecord{Strategy: k.String()}
		if plan := next().(*array.String); !plan.IsNull(row) {
			sr.PlanID = plan.Value(row)
		}
		sr.Success = next().(*array.Boolean).Value(row)
		if margin := next().(*array.Float64); !margin.IsNull(row) {
			m := margin.Value(row)
			sr.Margin = &m
		}
		sr.Outcome = simulation.Outcome(next().(*array.String).Value(row))
		sr.Ties = int(next().(*array.Int64).Value(row))
		rec.Strategies = append(rec.Strategies, sr)
	}
	return rec
}

// Column labels are stored newline separated.
func joinColumns(columns []string) string { return strings.Join(columns, "\n") }

func splitColumns(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
