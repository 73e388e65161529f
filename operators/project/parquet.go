package project

import (
	"context"
	"io"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

var (
	_ = (operators.Operator)(&ParquetSource{})
)

// ParquetSource streams record batches out of a parquet file. An optional
// column list is pushed down into the reader so untouched columns are never
// decoded.
type ParquetSource struct {
	schema     *arrow.Schema
	fileReader *file.Reader
	reader     pqarrow.RecordReader
	done       bool
}

func NewParquetSource(r parquet.ReaderAtSeeker, columns ...string) (*ParquetSource, error) {
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, err
	}
	arrowReader, err := pqarrow.NewFileReader(
		fileReader,
		pqarrow.ArrowReadProperties{Parallel: true},
		memory.NewGoAllocator(),
	)
	if err != nil {
		fileReader.Close()
		return nil, err
	}
	var colIndices []int
	if len(columns) > 0 {
		s, err := arrowReader.Schema()
		if err != nil {
			fileReader.Close()
			return nil, err
		}
		for _, col := range columns {
			idx := s.FieldIndices(col)
			if len(idx) == 0 {
				fileReader.Close()
				return nil, operators.ErrColumnNotFound(col)
			}
			colIndices = append(colIndices, idx...)
		}
	}
	rdr, err := arrowReader.GetRecordReader(context.TODO(), colIndices, nil)
	if err != nil {
		fileReader.Close()
		return nil, err
	}
	return &ParquetSource{
		schema:     rdr.Schema(),
		fileReader: fileReader,
		reader:     rdr,
	}, nil
}

func (ps *ParquetSource) Next(n uint16) (*operators.RecordBatch, error) {
	if ps.reader == nil || ps.done {
		return nil, io.EOF
	}
	mem := memory.NewGoAllocator()
	columns := make([]arrow.Array, len(ps.schema.Fields()))
	rows := 0
	for rows < int(n) {
		if !ps.reader.Next() {
			ps.done = true
			break
		}
		if err := ps.reader.Err(); err != nil {
			return nil, err
		}
		record := ps.reader.Record()
		for colIdx := 0; colIdx < int(record.NumCols()); colIdx++ {
			batchCol := record.Column(colIdx)
			if columns[colIdx] == nil {
				batchCol.Retain()
				columns[colIdx] = batchCol
				continue
			}
			combined, err := array.Concatenate([]arrow.Array{columns[colIdx], batchCol}, mem)
			if err != nil {
				return nil, err
			}
			columns[colIdx].Release()
			columns[colIdx] = combined
		}
		rows += int(record.NumRows())
		record.Release()
	}
	if rows == 0 {
		return nil, io.EOF
	}
	return &operators.RecordBatch{
		Schema:   ps.schema,
		Columns:  columns,
		RowCount: uint64(rows),
	}, nil
}

func (ps *ParquetSource) Schema() *arrow.Schema {
	return ps.schema
}

func (ps *ParquetSource) Close() error {
	if ps.reader != nil {
		ps.reader.Release()
		ps.reader = nil
	}
	if ps.fileReader != nil {
		err := ps.fileReader.Close()
		ps.fileReader = nil
		return err
	}
	return nil
}
