package project

import (
	"errors"
	"io"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	_ = (operators.Operator)(&ProjectionExec{})
)

// ProjectionExec evaluates one expression per output column against each
// batch pulled from its child. Pure column selections take a pruning fast
// path instead of re-evaluating anything.
type ProjectionExec struct {
	input  operators.Operator
	schema *arrow.Schema
	exprs  []Expr.Expression
	done   bool
}

func NewProjectionExec(input operators.Operator, exprs []Expr.Expression) (*ProjectionExec, error) {
	if len(exprs) == 0 {
		return nil, ErrEmptyColumnsToProject
	}
	fields := make([]arrow.Field, len(exprs))
	for i, e := range exprs {
		dt, err := Expr.ExprDataType(e, input.Schema())
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{
			Name:     Expr.OutputName(e),
			Type:     dt,
			Nullable: true,
		}
	}
	return &ProjectionExec{
		input:  input,
		schema: arrow.NewSchema(fields, nil),
		exprs:  exprs,
	}, nil
}

func (p *ProjectionExec) Next(n uint16) (*operators.RecordBatch, error) {
	if p.done {
		return nil, io.EOF
	}
	childBatch, err := p.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.done = true
		}
		return nil, err
	}
	if names, pure := columnOnly(p.exprs); pure {
		newSchema, cols, err := ProjectSchemaFilterDown(childBatch.Schema, childBatch.Columns, names...)
		if err != nil {
			return nil, err
		}
		operators.ReleaseArrays(childBatch.Columns)
		return &operators.RecordBatch{
			Schema:   newSchema,
			Columns:  cols,
			RowCount: childBatch.RowCount,
		}, nil
	}
	out := make([]arrow.Array, len(p.exprs))
	for i, e := range p.exprs {
		arr, err := Expr.EvalExpression(e, childBatch)
		if err != nil {
			operators.ReleaseArrays(out[:i])
			return nil, err
		}
		out[i] = arr
	}
	operators.ReleaseArrays(childBatch.Columns)
	return &operators.RecordBatch{
		Schema:   p.schema,
		Columns:  out,
		RowCount: childBatch.RowCount,
	}, nil
}

func (p *ProjectionExec) Schema() *arrow.Schema {
	return p.schema
}

func (p *ProjectionExec) Close() error {
	return p.input.Close()
}

func columnOnly(exprs []Expr.Expression) ([]string, bool) {
	names := make([]string, len(exprs))
	for i, e := range exprs {
		col, ok := e.(*Expr.ColumnResolve)
		if !ok {
			return nil, false
		}
		names[i] = col.Name
	}
	return names, true
}
