package pretty

import (
	"fmt"
	"strings"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	ErrFormat = func(info string) error {
		return fmt.Errorf("cannot format result: %s", info)
	}
)

// Format renders collected batches as an ASCII table:
//
//	+----+-------+
//	| id | name  |
//	+----+-------+
//	| 1  | alice |
//	+----+-------+
//
// All batches must share the first batch's schema.
func Format(batches []*operators.RecordBatch) (string, error) {
	if len(batches) == 0 {
		return "", ErrFormat("no batches to display")
	}
	schema := batches[0].Schema
	if schema == nil || schema.NumFields() == 0 {
		return "", ErrFormat("result has no columns")
	}
	for _, b := range batches[1:] {
		if !schema.Equal(b.Schema) {
			return "", ErrFormat("batches disagree on schema")
		}
	}
	headers := make([]string, schema.NumFields())
	widths := make([]int, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		headers[i] = schema.Field(i).Name
		widths[i] = len(headers[i])
	}
	var rows [][]string
	for _, b := range batches {
		for r := 0; r < int(b.RowCount); r++ {
			row := make([]string, len(b.Columns))
			for c, col := range b.Columns {
				row[c] = cellValue(col, r)
				if len(row[c]) > widths[c] {
					widths[c] = len(row[c])
				}
			}
			rows = append(rows, row)
		}
	}

	var sb strings.Builder
	writeSeparator(&sb, widths)
	writeRow(&sb, headers, widths)
	writeSeparator(&sb, widths)
	for _, row := range rows {
		writeRow(&sb, row, widths)
	}
	writeSeparator(&sb, widths)
	return sb.String(), nil
}

// Print writes the formatted table to stdout.
func Print(batches []*operators.RecordBatch) error {
	out, err := Format(batches)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// ToColumns converts batches into host-native Go values keyed by column
// name. Nulls come back as untyped nil.
func ToColumns(batches []*operators.RecordBatch) (map[string][]any, error) {
	if len(batches) == 0 {
		return nil, ErrFormat("no batches to convert")
	}
	schema := batches[0].Schema
	out := make(map[string][]any, schema.NumFields())
	for i := 0; i < schema.NumFields(); i++ {
		out[schema.Field(i).Name] = []any{}
	}
	for _, b := range batches {
		if !schema.Equal(b.Schema) {
			return nil, ErrFormat("batches disagree on schema")
		}
		for c, col := range b.Columns {
			name := schema.Field(c).Name
			for r := 0; r < col.Len(); r++ {
				out[name] = append(out[name], hostValue(col, r))
			}
		}
	}
	return out, nil
}

func cellValue(col arrow.Array, row int) string {
	if col.IsNull(row) {
		return "NULL"
	}
	return col.ValueStr(row)
}

func hostValue(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row)
	case *array.Int8:
		return int64(arr.Value(row))
	case *array.Int16:
		return int64(arr.Value(row))
	case *array.Int32:
		return int64(arr.Value(row))
	case *array.Int64:
		return arr.Value(row)
	case *array.Uint8:
		return uint64(arr.Value(row))
	case *array.Uint16:
		return uint64(arr.Value(row))
	case *array.Uint32:
		return uint64(arr.Value(row))
	case *array.Uint64:
		return arr.Value(row)
	case *array.Float32:
		return float64(arr.Value(row))
	case *array.Float64:
		return arr.Value(row)
	case *array.String:
		return arr.Value(row)
	case *array.Binary:
		return arr.Value(row)
	default:
		return col.ValueStr(row)
	}
}

func writeRow(sb *strings.Builder, cells []string, widths []int) {
	for i, cell := range cells {
		sb.WriteString("| ")
		sb.WriteString(cell)
		sb.WriteString(strings.Repeat(" ", widths[i]-len(cell)+1))
	}
	sb.WriteString("|\n")
}

func writeSeparator(sb *strings.Builder, widths []int) {
	for _, w := range widths {
		sb.WriteByte('+')
		sb.WriteString(strings.Repeat("-", w+2))
	}
	sb.WriteString("+\n")
}
