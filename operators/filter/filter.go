package filter

import (
	"errors"
	"io"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&FilterExec{})
)

// FilterExec keeps only the rows for which the predicate evaluates to true.
// Predicate typing is checked at evaluation time, not at construction, so a
// filter over a missing column fails when the first batch is pulled.
type FilterExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	predicate Expr.Expression
	done      bool
}

func NewFilterExec(input operators.Operator, pred Expr.Expression) (*FilterExec, error) {
	return &FilterExec{
		input:     input,
		predicate: pred,
		schema:    input.Schema(),
	}, nil
}

func (f *FilterExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return nil, errors.New("must pass in wanted batch size > 0")
	}
	if f.done {
		return nil, io.EOF
	}
	childBatch, err := f.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.done = true
			return nil, io.EOF
		}
		return nil, err
	}
	booleanMask, err := Expr.EvalExpression(f.predicate, childBatch)
	if err != nil {
		return nil, err
	}
	boolArr, ok := booleanMask.(*array.Boolean)
	if !ok {
		return nil, errors.New("predicate did not evaluate to boolean array")
	}
	filteredCol := make([]arrow.Array, len(childBatch.Columns))
	for i, col := range childBatch.Columns {
		filteredCol[i], err = operators.ApplyBooleanMask(col, boolArr)
		if err != nil {
			return nil, err
		}
	}
	booleanMask.Release()
	operators.ReleaseArrays(childBatch.Columns)
	size := uint64(filteredCol[0].Len())

	return &operators.RecordBatch{
		Schema:   childBatch.Schema,
		Columns:  filteredCol,
		RowCount: size,
	}, nil
}

func (f *FilterExec) Schema() *arrow.Schema {
	return f.schema
}

func (f *FilterExec) Close() error {
	return f.input.Close()
}
