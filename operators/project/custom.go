package project

import (
	"errors"
	"fmt"
	"io"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&InMemorySource{})
)

var (
	ErrInvalidInMemoryDataType = func(Type any) error {
		return fmt.Errorf("%T is not a supported in memory dataType for InMemorySource", Type)
	}
	ErrEmptyColumnsToProject = errors.New("no columns passed in")
	ErrProjectColumnNotFound = errors.New("invalid column passed in to be pruned")
)

// InMemorySource serves host-native Go slices as record batches. Each call
// to Next slices out up to n rows until the columns are exhausted.
type InMemorySource struct {
	schema  *arrow.Schema
	columns []arrow.Array
	pos     uint64
}

func NewInMemorySource(names []string, columns []any) (*InMemorySource, error) {
	if len(names) != len(columns) {
		return nil, operators.ErrInvalidSchema("number of column names and columns do not match")
	}
	fields := make([]arrow.Field, 0, len(names))
	arrays := make([]arrow.Array, 0, len(names))
	for i, col := range columns {
		field, arr, err := unpackColumn(names[i], col)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		arrays = append(arrays, arr)
	}
	return &InMemorySource{
		schema:  arrow.NewSchema(fields, nil),
		columns: arrays,
	}, nil
}

func (ms *InMemorySource) Next(n uint16) (*operators.RecordBatch, error) {
	if len(ms.columns) == 0 {
		return nil, io.EOF
	}
	total := uint64(ms.columns[0].Len())
	if ms.pos >= total {
		return nil, io.EOF
	}
	toRead := uint64(n)
	if total-ms.pos < toRead {
		toRead = total - ms.pos
	}
	out := make([]arrow.Array, len(ms.columns))
	for i, col := range ms.columns {
		out[i] = array.NewSlice(col, int64(ms.pos), int64(ms.pos+toRead))
	}
	ms.pos += toRead
	return &operators.RecordBatch{
		Schema:   ms.schema,
		Columns:  out,
		RowCount: toRead,
	}, nil
}

func (ms *InMemorySource) Schema() *arrow.Schema {
	return ms.schema
}

func (ms *InMemorySource) Close() error {
	operators.ReleaseArrays(ms.columns)
	ms.columns = nil
	return nil
}

func unpackColumn(name string, col any) (arrow.Field, arrow.Array, error) {
	field := arrow.Field{Name: name, Nullable: true}
	mem := memory.DefaultAllocator
	switch data := col.(type) {
	case []int:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range data {
			b.Append(int64(v))
		}
		return field, b.NewArray(), nil
	case []int32:
		field.Type = arrow.PrimitiveTypes.Int32
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []int64:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []uint32:
		field.Type = arrow.PrimitiveTypes.Uint32
		b := array.NewUint32Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []uint64:
		field.Type = arrow.PrimitiveTypes.Uint64
		b := array.NewUint64Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []float32:
		field.Type = arrow.PrimitiveTypes.Float32
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []float64:
		field.Type = arrow.PrimitiveTypes.Float64
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []string:
		field.Type = arrow.BinaryTypes.String
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []bool:
		field.Type = arrow.FixedWidthTypes.Boolean
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	}
	return arrow.Field{}, nil, ErrInvalidInMemoryDataType(col)
}

// ProjectSchemaFilterDown keeps only the requested columns, in the order
// they were requested, with the schema realigned to match.
func ProjectSchemaFilterDown(schema *arrow.Schema, cols []arrow.Array, keepCols ...string) (*arrow.Schema, []arrow.Array, error) {
	if len(keepCols) == 0 {
		return nil, nil, ErrEmptyColumnsToProject
	}
	fieldIndex := make(map[string]int)
	for i, f := range schema.Fields() {
		fieldIndex[f.Name] = i
	}
	newFields := make([]arrow.Field, 0, len(keepCols))
	newCols := make([]arrow.Array, 0, len(keepCols))
	for _, name := range keepCols {
		idx, exists := fieldIndex[name]
		if !exists {
			return nil, nil, ErrProjectColumnNotFound
		}
		newFields = append(newFields, schema.Field(idx))
		col := cols[idx]
		col.Retain()
		newCols = append(newCols, col)
	}
	return arrow.NewSchema(newFields, nil), newCols, nil
}
