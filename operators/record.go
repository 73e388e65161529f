package operators

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidSchema = func(info string) error {
		return fmt.Errorf("invalid schema was provided. context: %s", info)
	}
	ErrColumnNotFound = func(name string) error {
		return fmt.Errorf("column %s not found in record batch", name)
	}
)

// Operator is the physical execution primitive: a pull-based iterator over
// record batches. Call Close() after Next returns io.EOF to clean up.
type Operator interface {
	Next(uint16) (*RecordBatch, error)
	Schema() *arrow.Schema
	Close() error
}

// RecordBatch is a finite immutable block of columnar rows. Schema and
// Columns are always aligned by position.
type RecordBatch struct {
	Schema   *arrow.Schema
	Columns  []arrow.Array
	RowCount uint64
}

func (rb *RecordBatch) ColumnByName(name string) (arrow.Array, error) {
	for i, f := range rb.Schema.Fields() {
		if f.Name == name {
			return rb.Columns[i], nil
		}
	}
	return nil, ErrColumnNotFound(name)
}

func (rb *RecordBatch) NumRows() uint64 {
	return rb.RowCount
}

func (rb *RecordBatch) DeepEqual(other *RecordBatch) bool {
	if !rb.Schema.Equal(other.Schema) {
		return false
	}
	if len(rb.Columns) != len(other.Columns) {
		return false
	}
	for i := 0; i < len(rb.Columns); i++ {
		if !array.Equal(rb.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

// TotalRows sums row counts across a collected result.
func TotalRows(batches []*RecordBatch) uint64 {
	var n uint64
	for _, b := range batches {
		n += b.RowCount
	}
	return n
}

// EmptyBatch builds a zero-row batch with a typed zero-length column for
// every schema field.
func EmptyBatch(schema *arrow.Schema) *RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i := range cols {
		b := array.NewBuilder(mem, schema.Field(i).Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  cols,
		RowCount: 0,
	}
}

func ReleaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}

type SchemaBuilder struct {
	fields []arrow.Field
}

type RecordBatchBuilder struct {
	SchemaBuilder *SchemaBuilder
}

func NewRecordBatchBuilder() *RecordBatchBuilder {
	return &RecordBatchBuilder{
		SchemaBuilder: &SchemaBuilder{
			fields: make([]arrow.Field, 0, 10),
		},
	}
}

func (sb *SchemaBuilder) WithField(name string, dtype arrow.DataType, nullable bool) *SchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: nullable,
	})
	return sb
}

func (sb *SchemaBuilder) Build() *arrow.Schema {
	return arrow.NewSchema(sb.fields, nil)
}

func (rbb *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(rbb.SchemaBuilder.fields, nil)
}

// schema is always right in case of type mismatches
func (rbb *RecordBatchBuilder) validate(schema *arrow.Schema, columns []arrow.Array) error {
	if len(schema.Fields()) != len(columns) {
		return ErrInvalidSchema("schema fields and column count do not match")
	}
	var errs []string
	for i := 0; i < len(columns); i++ {
		field := schema.Field(i)
		colType := columns[i].DataType()
		if !arrow.TypeEqual(colType, field.Type) {
			errs = append(errs,
				fmt.Sprintf("type mismatch at position %d: column '%s' has type '%s', but schema expects '%s'",
					i, field.Name, colType, field.Type))
		}
	}
	if len(errs) > 0 {
		return ErrInvalidSchema(strings.Join(errs, " "))
	}
	return nil
}

func (rbb *RecordBatchBuilder) NewRecordBatch(schema *arrow.Schema, columns []arrow.Array) (*RecordBatch, error) {
	if err := rbb.validate(schema, columns); err != nil {
		return nil, err
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}

func (rbb *RecordBatchBuilder) GenIntArray(values ...int) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt32Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(int32(v))
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenInt64Array(values ...int64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenFloatArray(values ...float64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenStringArray(values ...string) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenBoolArray(values ...bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}
