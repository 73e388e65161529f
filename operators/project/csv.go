package project

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&CSVSource{})
)

// CSVSource streams rows out of a CSV document. The schema is inferred
// from the header plus the first data row, which is held back and replayed
// on the first call to Next.
type CSVSource struct {
	r            *csv.Reader
	schema       *arrow.Schema
	colPosition  map[string]int
	firstDataRow []string
	done         bool
}

func NewCSVSource(source io.Reader) (*CSVSource, error) {
	src := &CSVSource{
		r:           csv.NewReader(source),
		colPosition: make(map[string]int),
	}
	var err error
	src.schema, err = src.parseHeader()
	return src, err
}

func (csvS *CSVSource) Next(n uint16) (*operators.RecordBatch, error) {
	if csvS.done {
		return nil, io.EOF
	}
	builders := csvS.initBuilders()
	rowsRead := uint16(0)

	if csvS.firstDataRow != nil && rowsRead < n {
		if err := csvS.processRow(csvS.firstDataRow, builders); err != nil {
			return nil, err
		}
		csvS.firstDataRow = nil
		rowsRead++
	}
	for rowsRead < n {
		row, err := csvS.r.Read()
		if err == io.EOF {
			if rowsRead == 0 {
				csvS.done = true
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, err
		}
		if err := csvS.processRow(row, builders); err != nil {
			return nil, err
		}
		rowsRead++
	}

	columns := make([]arrow.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.NewArray()
		b.Release()
	}
	return &operators.RecordBatch{
		Schema:   csvS.schema,
		Columns:  columns,
		RowCount: uint64(rowsRead),
	}, nil
}

func (csvS *CSVSource) Schema() *arrow.Schema {
	return csvS.schema
}

func (csvS *CSVSource) Close() error {
	csvS.r = nil
	csvS.done = true
	return nil
}

func (csvS *CSVSource) initBuilders() []array.Builder {
	fields := csvS.schema.Fields()
	builders := make([]array.Builder, len(fields))
	for i, f := range fields {
		builders[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
	}
	return builders
}

func (csvS *CSVSource) processRow(content []string, builders []array.Builder) error {
	for i, f := range csvS.schema.Fields() {
		cell := content[csvS.colPosition[f.Name]]
		isNull := cell == "" || cell == "NULL"
		switch b := builders[i].(type) {
		case *array.Int64Builder:
			if isNull {
				b.AppendNull()
				break
			}
			v, err := strconv.ParseInt(cell, 10, 64)
			if err != nil {
				b.AppendNull()
				break
			}
			b.Append(v)
		case *array.Float64Builder:
			if isNull {
				b.AppendNull()
				break
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				b.AppendNull()
				break
			}
			b.Append(v)
		case *array.StringBuilder:
			if isNull {
				b.AppendNull()
				break
			}
			b.Append(cell)
		case *array.BooleanBuilder:
			if isNull {
				b.AppendNull()
				break
			}
			b.Append(cell == "true")
		default:
			return fmt.Errorf("unsupported Arrow type: %s", f.Type)
		}
	}
	return nil
}

// parseHeader reads the header plus one data row so cell samples can drive
// type inference.
func (csvS *CSVSource) parseHeader() (*arrow.Schema, error) {
	header, err := csvS.r.Read()
	if err != nil {
		return nil, err
	}
	firstDataRow, err := csvS.r.Read()
	if err != nil {
		return nil, err
	}
	csvS.firstDataRow = firstDataRow
	newFields := make([]arrow.Field, 0, len(header))
	for i, colName := range header {
		newFields = append(newFields, arrow.Field{
			Name:     colName,
			Type:     inferCellType(firstDataRow[i]),
			Nullable: true,
		})
		csvS.colPosition[colName] = i
	}
	return arrow.NewSchema(newFields, nil), nil
}

func inferCellType(sample string) arrow.DataType {
	sample = strings.TrimSpace(sample)
	if sample == "" || strings.EqualFold(sample, "NULL") {
		return arrow.BinaryTypes.String
	}
	if sample == "true" || sample == "false" {
		return arrow.FixedWidthTypes.Boolean
	}
	if _, err := strconv.ParseInt(sample, 10, 64); err == nil {
		return arrow.PrimitiveTypes.Int64
	}
	if _, err := strconv.ParseFloat(sample, 64); err == nil {
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.BinaryTypes.String
}
