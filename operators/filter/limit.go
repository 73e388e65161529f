package filter

import (
	"io"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	_ = (operators.Operator)(&LimitExec{})
)

// LimitExec passes through at most count rows, then reports io.EOF.
// The offset is always zero.
type LimitExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	remaining uint64
	done      bool
}

func NewLimitExec(input operators.Operator, count uint64) (*LimitExec, error) {
	return &LimitExec{
		input:     input,
		schema:    input.Schema(),
		remaining: count,
	}, nil
}

func (l *LimitExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return &operators.RecordBatch{
			Schema:   l.schema,
			Columns:  []arrow.Array{},
			RowCount: 0,
		}, nil
	}
	if l.done || l.remaining == 0 {
		return nil, io.EOF
	}
	childN := n
	if uint64(n) >= l.remaining {
		childN = uint16(l.remaining)
	}
	childBatch, err := l.input.Next(childN)
	if err != nil {
		if err == io.EOF {
			l.done = true
		}
		return nil, err
	}
	// a child may hand back fewer or more rows than asked for
	if childBatch.RowCount > l.remaining {
		trimmed, err := truncateBatch(childBatch, l.remaining)
		if err != nil {
			return nil, err
		}
		childBatch = trimmed
	}
	l.remaining -= childBatch.RowCount
	if l.remaining == 0 {
		l.done = true
	}
	return childBatch, nil
}

func (l *LimitExec) Schema() *arrow.Schema {
	return l.schema
}

func (l *LimitExec) Close() error {
	return l.input.Close()
}

func truncateBatch(batch *operators.RecordBatch, rows uint64) (*operators.RecordBatch, error) {
	cols := make([]arrow.Array, len(batch.Columns))
	for i, col := range batch.Columns {
		cols[i] = operators.SliceArray(col, 0, int64(rows))
	}
	operators.ReleaseArrays(batch.Columns)
	return &operators.RecordBatch{
		Schema:   batch.Schema,
		Columns:  cols,
		RowCount: rows,
	}, nil
}
