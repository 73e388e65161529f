package window

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"arrowframe/Expr"
	"arrowframe/operators"
	"arrowframe/operators/aggr"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&WindowExec{})
)

var (
	ErrBadWindowArgument = func(name, detail string) error {
		return fmt.Errorf("window function %s: %s", name, detail)
	}
)

// WindowExec appends one column per window call to its child's output.
// Input order is preserved: rows are partitioned and ordered internally
// but results land back on their original row positions.
type WindowExec struct {
	child  operators.Operator
	schema *arrow.Schema
	calls  []*Expr.WindowCall

	resultColumns []arrow.Array
	totalRows     uint64
	offset        uint64
	consumed      bool
	done          bool
}

func NewWindowExec(child operators.Operator, calls []*Expr.WindowCall) (*WindowExec, error) {
	if len(calls) == 0 {
		return nil, errors.New("window exec requires at least one window call")
	}
	childSchema := child.Schema()
	fields := make([]arrow.Field, 0, childSchema.NumFields()+len(calls))
	fields = append(fields, childSchema.Fields()...)
	for _, w := range calls {
		dt, err := Expr.ExprDataType(w, childSchema)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{
			Name:     Expr.OutputName(w),
			Type:     dt,
			Nullable: true,
		})
	}
	return &WindowExec{
		child:  child,
		schema: arrow.NewSchema(fields, nil),
		calls:  calls,
	}, nil
}

func (w *WindowExec) Next(n uint16) (*operators.RecordBatch, error) {
	if w.done {
		return nil, io.EOF
	}
	if !w.consumed {
		if err := w.consumeAndCompute(); err != nil {
			return nil, err
		}
	}
	if w.offset >= w.totalRows {
		w.done = true
		return nil, io.EOF
	}
	readSize := uint64(n)
	if remaining := w.totalRows - w.offset; remaining <= readSize {
		readSize = remaining
		w.done = true
	}
	out := make([]arrow.Array, len(w.resultColumns))
	for i, col := range w.resultColumns {
		out[i] = array.NewSlice(col, int64(w.offset), int64(w.offset+readSize))
	}
	w.offset += readSize
	return &operators.RecordBatch{
		Schema:   w.schema,
		Columns:  out,
		RowCount: readSize,
	}, nil
}

func (w *WindowExec) Schema() *arrow.Schema {
	return w.schema
}

func (w *WindowExec) Close() error {
	operators.ReleaseArrays(w.resultColumns)
	w.resultColumns = nil
	return w.child.Close()
}

func (w *WindowExec) consumeAndCompute() error {
	mem := memory.NewGoAllocator()
	childSchema := w.child.Schema()
	allColumns := make([]arrow.Array, childSchema.NumFields())
	for {
		childBatch, err := w.child.Next(math.MaxUint16)
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
	var totalRows uint64
	for i, arr := range allColumns {
		if arr == nil {
			b := array.NewBuilder(mem, childSchema.Field(i).Type)
			allColumns[i] = b.NewArray()
			b.Release()
		}
	}
	if len(allColumns) > 0 {
		totalRows = uint64(allColumns[0].Len())
	}
	full := &operators.RecordBatch{
		Schema:   childSchema,
		Columns:  allColumns,
		RowCount: totalRows,
	}
	results := make([]arrow.Array, 0, len(allColumns)+len(w.calls))
	results = append(results, allColumns...)
	for _, call := range w.calls {
		col, err := computeWindowColumn(call, full, mem)
		if err != nil {
			operators.ReleaseArrays(results[len(allColumns):])
			return err
		}
		results = append(results, col)
	}
	w.resultColumns = results
	w.totalRows = totalRows
	w.consumed = true
	return nil
}

// computeWindowColumn partitions the input, orders each partition, and
// evaluates the function. Results are written back by original row index.
func computeWindowColumn(call *Expr.WindowCall, full *operators.RecordBatch, mem memory.Allocator) (arrow.Array, error) {
	n := int(full.RowCount)

	partCols := make([]arrow.Array, len(call.PartitionBy))
	for i, e := range call.PartitionBy {
		arr, err := Expr.EvalExpression(e, full)
		if err != nil {
			return nil, err
		}
		partCols[i] = arr
	}
	defer operators.ReleaseArrays(partCols)

	orderCols := make([]arrow.Array, len(call.OrderBy))
	for i, sk := range call.OrderBy {
		arr, err := Expr.EvalExpression(sk.Expr, full)
		if err != nil {
			return nil, err
		}
		orderCols[i] = arr
	}
	defer operators.ReleaseArrays(orderCols)

	partitions := buildPartitions(partCols, n)
	for _, part := range partitions {
		if len(call.OrderBy) > 0 {
			aggr.SortIndicesBy(part, orderCols, call.OrderBy)
		}
	}

	switch call.Name {
	case "row_number", "rank", "dense_rank", "ntile":
		return computeRanking(call, partitions, orderCols, n, mem)
	case "percent_rank", "cume_dist":
		return computeDistribution(call, partitions, orderCols, n, mem)
	case "lag", "lead", "first_value", "last_value", "nth_value":
		return computeValueFunction(call, partitions, orderCols, full, n, mem)
	default:
		return nil, Expr.ErrUnresolvedWindowFunction(call.Name)
	}
}

// buildPartitions groups original row indices by partition key. With no
// partition keys the whole input is one partition.
func buildPartitions(partCols []arrow.Array, n int) [][]uint64 {
	if len(partCols) == 0 {
		all := make([]uint64, n)
		for i := range all {
			all[i] = uint64(i)
		}
		return [][]uint64{all}
	}
	index := make(map[string]int)
	var partitions [][]uint64
	for row := 0; row < n; row++ {
		key := partitionKey(partCols, row)
		at, seen := index[key]
		if !seen {
			at = len(partitions)
			index[key] = at
			partitions = append(partitions, nil)
		}
		partitions[at] = append(partitions[at], uint64(row))
	}
	return partitions
}

func partitionKey(cols []arrow.Array, row int) string {
	var key string
	for i, col := range cols {
		if i > 0 {
			key += "\x1f"
		}
		if col.IsNull(row) {
			key += "\x00null\x00"
			continue
		}
		key += col.ValueStr(row)
	}
	return key
}

func computeRanking(call *Expr.WindowCall, partitions [][]uint64, orderCols []arrow.Array, n int, mem memory.Allocator) (arrow.Array, error) {
	out := make([]int64, n)
	switch call.Name {
	case "row_number":
		for _, part := range partitions {
			for i, row := range part {
				out[row] = int64(i + 1)
			}
		}
	case "rank":
		for _, part := range partitions {
			rank := int64(1)
			for i, row := range part {
				if i > 0 && !aggr.EqualKeyRows(orderCols, part[i-1], row) {
					rank = int64(i + 1)
				}
				out[row] = rank
			}
		}
	case "dense_rank":
		for _, part := range partitions {
			rank := int64(1)
			for i, row := range part {
				if i > 0 && !aggr.EqualKeyRows(orderCols, part[i-1], row) {
					rank++
				}
				out[row] = rank
			}
		}
	case "ntile":
		buckets, err := constantIntArg(call, 0, "bucket count")
		if err != nil {
			return nil, err
		}
		if buckets < 1 {
			return nil, ErrBadWindowArgument(call.Name, "bucket count must be positive")
		}
		for _, part := range partitions {
			size := int64(len(part))
			base := size / buckets
			extra := size % buckets
			pos := int64(0)
			for b := int64(0); b < buckets && pos < size; b++ {
				width := base
				if b < extra {
					width++
				}
				for k := int64(0); k < width; k++ {
					out[part[pos]] = b + 1
					pos++
				}
			}
		}
	}
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(out, nil)
	return b.NewArray(), nil
}

func computeDistribution(call *Expr.WindowCall, partitions [][]uint64, orderCols []arrow.Array, n int, mem memory.Allocator) (arrow.Array, error) {
	out := make([]float64, n)
	for _, part := range partitions {
		size := len(part)
		// peer group boundaries drive both functions
		rank := 1
		lastPeer := make([]int, size)
		for i := 0; i < size; {
			j := i
			for j+1 < size && aggr.EqualKeyRows(orderCols, part[j+1], part[i]) {
				j++
			}
			for k := i; k <= j; k++ {
				lastPeer[k] = j
			}
			i = j + 1
		}
		for i, row := range part {
			if i > 0 && !aggr.EqualKeyRows(orderCols, part[i-1], row) {
				rank = i + 1
			}
			switch call.Name {
			case "percent_rank":
				if size == 1 {
					out[row] = 0
				} else {
					out[row] = float64(rank-1) / float64(size-1)
				}
			case "cume_dist":
				out[row] = float64(lastPeer[i]+1) / float64(size)
			}
		}
	}
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(out, nil)
	return b.NewArray(), nil
}

// computeValueFunction resolves each output row to a source row index (or
// null) and gathers values with a single take.
func computeValueFunction(call *Expr.WindowCall, partitions [][]uint64, orderCols []arrow.Array, full *operators.RecordBatch, n int, mem memory.Allocator) (arrow.Array, error) {
	if len(call.Args) == 0 {
		return nil, ErrBadWindowArgument(call.Name, "requires a value argument")
	}
	source, err := Expr.EvalExpression(call.Args[0], full)
	if err != nil {
		return nil, err
	}
	defer source.Release()

	takeFrom := make([]int64, n)
	valid := make([]bool, n)
	var defaults arrow.Array
	switch call.Name {
	case "lag", "lead":
		offset := int64(1)
		if len(call.Args) > 1 {
			offset, err = constantIntArg(call, 1, "offset")
			if err != nil {
				return nil, err
			}
		}
		if len(call.Args) > 2 {
			defaults, err = Expr.EvalExpression(call.Args[2], full)
			if err != nil {
				return nil, err
			}
			defer defaults.Release()
			if !arrow.TypeEqual(defaults.DataType(), source.DataType()) {
				return nil, ErrBadWindowArgument(call.Name,
					fmt.Sprintf("default value type %s does not match value type %s",
						defaults.DataType(), source.DataType()))
			}
		}
		if call.Name == "lead" {
			offset = -offset
		}
		for _, part := range partitions {
			for i, row := range part {
				src := int64(i) - offset
				if src >= 0 && src < int64(len(part)) {
					takeFrom[row] = int64(part[src])
					valid[row] = true
				}
			}
		}
	case "first_value":
		for _, part := range partitions {
			if len(part) == 0 {
				continue
			}
			first := int64(part[0])
			for _, row := range part {
				takeFrom[row] = first
				valid[row] = true
			}
		}
	case "last_value":
		// with an order-by the frame ends at the current row's last peer,
		// without one it covers the whole partition
		for _, part := range partitions {
			size := len(part)
			if size == 0 {
				continue
			}
			if call.Frame.End == Expr.UnboundedFollowing {
				last := int64(part[size-1])
				for _, row := range part {
					takeFrom[row] = last
					valid[row] = true
				}
				continue
			}
			for i := 0; i < size; {
				j := i
				for j+1 < size && aggr.EqualKeyRows(orderCols, part[j+1], part[i]) {
					j++
				}
				for k := i; k <= j; k++ {
					takeFrom[part[k]] = int64(part[j])
					valid[part[k]] = true
				}
				i = j + 1
			}
		}
	case "nth_value":
		nth, err := constantIntArg(call, 1, "n")
		if err != nil {
			return nil, err
		}
		if nth < 1 {
			return nil, ErrBadWindowArgument(call.Name, "n must be positive")
		}
		for _, part := range partitions {
			if int64(len(part)) < nth {
				continue
			}
			src := int64(part[nth-1])
			for _, row := range part {
				takeFrom[row] = src
				valid[row] = true
			}
		}
	}

	gather := source
	if defaults != nil {
		// out-of-frame rows read their default from the tail of a combined
		// array instead of going null
		combined, err := array.Concatenate([]arrow.Array{source, defaults}, mem)
		if err != nil {
			return nil, err
		}
		defer combined.Release()
		for i := 0; i < n; i++ {
			if !valid[i] {
				takeFrom[i] = int64(n + i)
				valid[i] = true
			}
		}
		gather = combined
	}

	idxB := array.NewInt64Builder(mem)
	defer idxB.Release()
	for i := 0; i < n; i++ {
		if !valid[i] {
			idxB.AppendNull()
			continue
		}
		idxB.Append(takeFrom[i])
	}
	idx := idxB.NewArray()
	defer idx.Release()
	return compute.TakeArray(context.TODO(), gather, idx)
}

// constantIntArg reads a literal integer argument, e.g. ntile's bucket
// count or lag's offset.
func constantIntArg(call *Expr.WindowCall, pos int, what string) (int64, error) {
	if len(call.Args) <= pos {
		return 0, ErrBadWindowArgument(call.Name, fmt.Sprintf("missing %s argument", what))
	}
	lit, ok := call.Args[pos].(*Expr.LiteralResolve)
	if !ok {
		return 0, ErrBadWindowArgument(call.Name, fmt.Sprintf("%s must be a literal", what))
	}
	switch v := lit.Value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, ErrBadWindowArgument(call.Name, fmt.Sprintf("%s must be an integer literal", what))
	}
}
