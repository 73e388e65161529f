package aggr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&SortExec{})
)

// SortExec materializes its entire input, sorts it once, then hands the
// sorted rows back out in caller-sized batches.
type SortExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	sortKeys []*Expr.SortSpec

	totalColumns   []arrow.Array
	consumedOffset uint64
	totalRows      uint64
	consumed       bool
	done           bool
}

func NewSortExec(child operators.Operator, sortKeys []*Expr.SortSpec) (*SortExec, error) {
	if len(sortKeys) == 0 {
		return nil, errors.New("sort requires at least one sort key")
	}
	return &SortExec{
		child:    child,
		schema:   child.Schema(),
		sortKeys: sortKeys,
	}, nil
}

func (s *SortExec) Next(n uint16) (*operators.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.consumed {
		if err := s.consumeAndSort(); err != nil {
			return nil, err
		}
	}
	if s.consumedOffset >= s.totalRows {
		s.done = true
		return nil, io.EOF
	}
	readSize := uint64(n)
	if remaining := s.totalRows - s.consumedOffset; remaining <= readSize {
		readSize = remaining
		s.done = true
	}
	resultColumns := make([]arrow.Array, len(s.totalColumns))
	for i, col := range s.totalColumns {
		resultColumns[i] = array.NewSlice(col, int64(s.consumedOffset), int64(s.consumedOffset+readSize))
	}
	s.consumedOffset += readSize
	return &operators.RecordBatch{
		Schema:   s.schema,
		Columns:  resultColumns,
		RowCount: readSize,
	}, nil
}

func (s *SortExec) Schema() *arrow.Schema {
	return s.schema
}

func (s *SortExec) Close() error {
	operators.ReleaseArrays(s.totalColumns)
	s.totalColumns = nil
	return s.child.Close()
}

// everything in memory for now, external merge is the obvious next step
func (s *SortExec) consumeAndSort() error {
	mem := memory.NewGoAllocator()
	allColumns := make([]arrow.Array, len(s.schema.Fields()))
	for {
		childBatch, err := s.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		for i := range childBatch.Columns {
			if allColumns[i] == nil {
				allColumns[i] = childBatch.Columns[i]
				continue
			}
			larger, err := array.Concatenate([]arrow.Array{allColumns[i], childBatch.Columns[i]}, mem)
			if err != nil {
				return err
			}
			allColumns[i].Release()
			childBatch.Columns[i].Release()
			allColumns[i] = larger
		}
	}
	s.consumed = true
	// an empty child still needs typed zero-length columns so sort keys
	// can be evaluated against them
	for i, arr := range allColumns {
		if arr == nil {
			b := array.NewBuilder(mem, s.schema.Field(i).Type)
			allColumns[i] = b.NewArray()
			b.Release()
		}
	}
	var count uint64
	if len(allColumns) > 0 {
		count = uint64(allColumns[0].Len())
	}
	idx, err := sortBatches(&operators.RecordBatch{
		Schema:   s.schema,
		Columns:  allColumns,
		RowCount: count,
	}, s.sortKeys)
	if err != nil {
		return err
	}
	idxArr := idxToArrowArray(idx, mem)
	defer idxArr.Release()
	for i := range allColumns {
		arr, err := compute.TakeArray(context.TODO(), allColumns[i], idxArr)
		if err != nil {
			return err
		}
		allColumns[i].Release()
		allColumns[i] = arr
	}
	s.totalColumns = allColumns
	s.totalRows = count
	return nil
}

func sortBatches(fullRC *operators.RecordBatch, sortKeys []*Expr.SortSpec) ([]uint64, error) {
	keyColumns := make([]arrow.Array, len(sortKeys))
	for i, sk := range sortKeys {
		arr, err := Expr.EvalExpression(sk.Expr, fullRC)
		if err != nil {
			return nil, fmt.Errorf("sort batches: failed to eval sort expression: %v", err)
		}
		keyColumns[i] = arr
	}
	defer operators.ReleaseArrays(keyColumns)
	idVector := make([]uint64, fullRC.RowCount)
	for i := range idVector {
		idVector[i] = uint64(i)
	}
	sortIndexVector(idVector, keyColumns, sortKeys)
	return idVector, nil
}

// sortIndexVector orders idVec lexicographically over the sort keys.
// Null placement follows NullsFirst and is not affected by Ascending.
func sortIndexVector(idVec []uint64, keyColumns []arrow.Array, sortKeys []*Expr.SortSpec) {
	sort.SliceStable(idVec, func(a, b int) bool {
		i := idVec[a]
		j := idVec[b]
		for k, col := range keyColumns {
			sk := sortKeys[k]
			nullI := col.IsNull(int(i))
			nullJ := col.IsNull(int(j))
			if nullI || nullJ {
				if nullI && nullJ {
					continue
				}
				if nullI {
					return sk.NullsFirst
				}
				return !sk.NullsFirst
			}
			cmp := compareArrowValues(col, i, j)
			if cmp == 0 {
				continue
			}
			if sk.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

// SortIndicesBy orders idx in place over the key columns. Window
// partitions use this to order rows without a full SortExec.
func SortIndicesBy(idx []uint64, keyCols []arrow.Array, keys []*Expr.SortSpec) {
	sortIndexVector(idx, keyCols, keys)
}

// EqualKeyRows reports whether two rows agree on every key column, with
// nulls only equal to nulls.
func EqualKeyRows(keyCols []arrow.Array, i, j uint64) bool {
	for _, col := range keyCols {
		nullI := col.IsNull(int(i))
		nullJ := col.IsNull(int(j))
		if nullI || nullJ {
			if nullI && nullJ {
				continue
			}
			return false
		}
		if compareArrowValues(col, i, j) != 0 {
			return false
		}
	}
	return true
}

func compareArrowValues(col arrow.Array, i, j uint64) int {
	switch arr := col.(type) {
	case *array.String:
		vi, vj := arr.Value(int(i)), arr.Value(int(j))
		switch {
		case vi < vj:
			return -1
		case vi > vj:
			return 1
		default:
			return 0
		}
	case *array.Int8:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Int16:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Int32:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Int64:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Uint8:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Uint16:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Uint32:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Uint64:
		return compareNumeric(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Float32:
		return compareFloat(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Float64:
		return compareFloat(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Timestamp:
		return compareNumeric(int64(arr.Value(int(i))), int64(arr.Value(int(j))))
	case *array.Date32:
		return compareNumeric(int32(arr.Value(int(i))), int32(arr.Value(int(j))))
	case *array.Date64:
		return compareNumeric(int64(arr.Value(int(i))), int64(arr.Value(int(j))))
	case *array.Time32:
		return compareNumeric(int32(arr.Value(int(i))), int32(arr.Value(int(j))))
	case *array.Time64:
		return compareNumeric(int64(arr.Value(int(i))), int64(arr.Value(int(j))))
	case *array.Binary:
		return bytes.Compare(arr.Value(int(i)), arr.Value(int(j)))
	case *array.Boolean:
		vi, vj := arr.Value(int(i)), arr.Value(int(j))
		if vi == vj {
			return 0
		}
		if !vi && vj {
			return -1
		}
		return 1
	default:
		// anything else orders by its formatted value, which is total
		return strings.Compare(col.ValueStr(int(i)), col.ValueStr(int(j)))
	}
}

func compareNumeric[T int64 | int32 | int16 | int8 | uint64 | uint32 | uint16 | uint8](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat[T float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func idxToArrowArray(v []uint64, mem memory.Allocator) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(v, nil)
	return b.NewArray()
}
