package store

import (
	"context"

	"github.com/nvandessel/q2s/internal/simulation"
)

// DefaultFlushSize is how many records a RecordWriter buffers per transaction.
const DefaultFlushSize = 512

// RecordWriter is a simulation.Sink that stores results of one run in
// batched transactions. Call Flush after the run to store the remainder.
type RecordWriter struct {
	ctx     context.Context
	store   *ResultStore
	runID   string
	columns []string
	size    int
	buf     []simulation.Record
}

// Writer returns a RecordWriter for runID labelling settings with columns.
func (s *ResultStore) Writer(ctx context.Context, runID string, columns []string) *RecordWriter {
	return &RecordWriter{
		ctx:     ctx,
		store:   s,
		runID:   runID,
		columns: columns,
		size:    DefaultFlushSize,
		buf:     make([]simulation.Record, 0, DefaultFlushSize),
	}
}

// Write buffers r, storing the buffer when full.
func (w *RecordWriter) Write(r simulation.Result) error {
	w.buf = append(w.buf, r.Record(w.columns))
	if len(w.buf) >= w.size {
		return w.Flush()
	}
	return nil
}

// Flush stores buffered records.
func (w *RecordWriter) Flush() error {
	if err := w.store.SaveRecords(w.ctx, w.runID, w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}
