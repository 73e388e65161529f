package aggr

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&GroupByExec{})
	_ = (operators.Operator)(&GlobalAggrExec{})
)

const groupKeySep = "\x1f"
const groupKeyNull = "\x00null\x00"

// GroupByExec hashes every row into a group by its key-column values and
// runs one accumulator set per group. It is a pipeline breaker: the full
// input is consumed before the first output batch.
type GroupByExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	keyExprs []Expr.Expression
	aggCalls []*Expr.AggregateCall

	groups    map[string][]Accumulator
	order     []string // insertion order for deterministic-ish output
	keyValues []array.Builder

	resultColumns []arrow.Array
	totalRows     uint64
	offset        uint64
	consumed      bool
	done          bool
}

func NewGroupByExec(child operators.Operator, keyExprs []Expr.Expression, aggCalls []*Expr.AggregateCall) (*GroupByExec, error) {
	if len(keyExprs) == 0 {
		return nil, errors.New("group by requires at least one key expression")
	}
	schema, keyBuilders, err := buildGroupBySchema(child.Schema(), keyExprs, aggCalls)
	if err != nil {
		return nil, err
	}
	return &GroupByExec{
		child:     child,
		schema:    schema,
		keyExprs:  keyExprs,
		aggCalls:  aggCalls,
		groups:    make(map[string][]Accumulator),
		keyValues: keyBuilders,
	}, nil
}

func (g *GroupByExec) Next(n uint16) (*operators.RecordBatch, error) {
	if g.done {
		return nil, io.EOF
	}
	if !g.consumed {
		if err := g.consumeAll(); err != nil {
			return nil, err
		}
	}
	if g.offset >= g.totalRows {
		g.done = true
		return nil, io.EOF
	}
	readSize := uint64(n)
	if remaining := g.totalRows - g.offset; remaining <= readSize {
		readSize = remaining
		g.done = true
	}
	out := make([]arrow.Array, len(g.resultColumns))
	for i, col := range g.resultColumns {
		out[i] = array.NewSlice(col, int64(g.offset), int64(g.offset+readSize))
	}
	g.offset += readSize
	return &operators.RecordBatch{
		Schema:   g.schema,
		Columns:  out,
		RowCount: readSize,
	}, nil
}

func (g *GroupByExec) Schema() *arrow.Schema {
	return g.schema
}

func (g *GroupByExec) Close() error {
	operators.ReleaseArrays(g.resultColumns)
	g.resultColumns = nil
	return g.child.Close()
}

func (g *GroupByExec) consumeAll() error {
	for {
		childBatch, err := g.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := g.consumeBatch(childBatch); err != nil {
			return err
		}
		operators.ReleaseArrays(childBatch.Columns)
	}
	g.consumed = true
	return g.finalize()
}

func (g *GroupByExec) consumeBatch(batch *operators.RecordBatch) error {
	keyCols := make([]arrow.Array, len(g.keyExprs))
	for i, e := range g.keyExprs {
		arr, err := Expr.EvalExpression(e, batch)
		if err != nil {
			return err
		}
		keyCols[i] = arr
	}
	defer operators.ReleaseArrays(keyCols)

	aggCols := make([]arrow.Array, len(g.aggCalls))
	for i, call := range g.aggCalls {
		arr, err := Expr.EvalExpression(call.Args[0], batch)
		if err != nil {
			return err
		}
		aggCols[i] = arr
	}
	defer operators.ReleaseArrays(aggCols)

	// per-row key, then one mask per distinct key in this batch
	rowKeys := make([]string, batch.RowCount)
	batchOrder := make([]string, 0)
	rowsByKey := make(map[string][]int)
	for row := 0; row < int(batch.RowCount); row++ {
		key := buildRowKey(keyCols, row)
		rowKeys[row] = key
		if _, seen := rowsByKey[key]; !seen {
			batchOrder = append(batchOrder, key)
		}
		rowsByKey[key] = append(rowsByKey[key], row)
	}

	for _, key := range batchOrder {
		rows := rowsByKey[key]
		accs, known := g.groups[key]
		if !known {
			var err error
			accs, err = g.newGroup(key, keyCols, rows[0])
			if err != nil {
				return err
			}
		}
		mask := rowMask(int(batch.RowCount), rows)
		for i := range g.aggCalls {
			filtered, err := operators.ApplyBooleanMask(aggCols[i], mask)
			if err != nil {
				mask.Release()
				return err
			}
			if err := accs[i].Consume(filtered); err != nil {
				filtered.Release()
				mask.Release()
				return err
			}
			filtered.Release()
		}
		mask.Release()
	}
	return nil
}

func (g *GroupByExec) newGroup(key string, keyCols []arrow.Array, row int) ([]Accumulator, error) {
	accs := make([]Accumulator, len(g.aggCalls))
	for i, call := range g.aggCalls {
		acc, err := NewAccumulator(call)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
	}
	g.groups[key] = accs
	g.order = append(g.order, key)
	for i, col := range keyCols {
		if col.IsNull(row) {
			g.keyValues[i].AppendNull()
			continue
		}
		if err := g.keyValues[i].AppendValueFromString(col.ValueStr(row)); err != nil {
			return nil, err
		}
	}
	return accs, nil
}

func (g *GroupByExec) finalize() error {
	cols := make([]arrow.Array, 0, len(g.keyValues)+len(g.aggCalls))
	for _, kb := range g.keyValues {
		cols = append(cols, kb.NewArray())
		kb.Release()
	}
	for i, call := range g.aggCalls {
		b := array.NewBuilder(memory.DefaultAllocator, AccumulatorType(call))
		for _, key := range g.order {
			g.groups[key][i].AppendTo(b)
		}
		cols = append(cols, b.NewArray())
		b.Release()
	}
	g.resultColumns = cols
	g.totalRows = uint64(len(g.order))
	return nil
}

func buildGroupBySchema(childSchema *arrow.Schema, keyExprs []Expr.Expression, aggCalls []*Expr.AggregateCall) (*arrow.Schema, []array.Builder, error) {
	fields := make([]arrow.Field, 0, len(keyExprs)+len(aggCalls))
	keyBuilders := make([]array.Builder, len(keyExprs))
	for i, e := range keyExprs {
		dt, err := Expr.ExprDataType(e, childSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("group-by expr %s has invalid type: %w", e.String(), err)
		}
		fields = append(fields, arrow.Field{
			Name:     Expr.OutputName(e),
			Type:     dt,
			Nullable: true,
		})
		keyBuilders[i] = array.NewBuilder(memory.DefaultAllocator, dt)
	}
	for _, call := range aggCalls {
		if len(call.Args) != 1 {
			return nil, nil, fmt.Errorf("aggregate %s takes exactly one argument", call.Fn)
		}
		fields = append(fields, arrow.Field{
			Name:     Expr.OutputName(call),
			Type:     AccumulatorType(call),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil), keyBuilders, nil
}

func buildRowKey(cols []arrow.Array, row int) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		if col.IsNull(row) {
			parts[i] = groupKeyNull
			continue
		}
		parts[i] = col.ValueStr(row)
	}
	return strings.Join(parts, groupKeySep)
}

func rowMask(total int, rows []int) *array.Boolean {
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	next := 0
	for i := 0; i < total; i++ {
		if next < len(rows) && rows[next] == i {
			b.Append(true)
			next++
			continue
		}
		b.Append(false)
	}
	return b.NewBooleanArray()
}

// GlobalAggrExec handles aggregations with no grouping keys: the whole
// input reduces to a single output row.
type GlobalAggrExec struct {
	child        operators.Operator
	schema       *arrow.Schema
	aggCalls     []*Expr.AggregateCall
	accumulators []Accumulator
	done         bool
}

func NewGlobalAggrExec(child operators.Operator, aggCalls []*Expr.AggregateCall) (*GlobalAggrExec, error) {
	accs := make([]Accumulator, len(aggCalls))
	fields := make([]arrow.Field, len(aggCalls))
	for i, call := range aggCalls {
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("aggregate %s takes exactly one argument", call.Fn)
		}
		dt, err := Expr.ExprDataType(call.Args[0], child.Schema())
		if err != nil {
			return nil, err
		}
		if call.Fn != Expr.AggrCount && call.Fn != Expr.AggrApproxDistinct && !validAggrType(dt) {
			return nil, ErrInvalidAggrColumnType(dt)
		}
		acc, err := NewAccumulator(call)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
		fields[i] = arrow.Field{
			Name:     Expr.OutputName(call),
			Type:     AccumulatorType(call),
			Nullable: true,
		}
	}
	return &GlobalAggrExec{
		child:        child,
		schema:       arrow.NewSchema(fields, nil),
		aggCalls:     aggCalls,
		accumulators: accs,
	}, nil
}

func (a *GlobalAggrExec) Next(n uint16) (*operators.RecordBatch, error) {
	if a.done {
		return nil, io.EOF
	}
	for {
		childBatch, err := a.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for i, call := range a.aggCalls {
			col, err := Expr.EvalExpression(call.Args[0], childBatch)
			if err != nil {
				return nil, err
			}
			if err := a.accumulators[i].Consume(col); err != nil {
				col.Release()
				return nil, err
			}
			col.Release()
		}
		operators.ReleaseArrays(childBatch.Columns)
	}
	resultColumns := make([]arrow.Array, len(a.accumulators))
	for i, acc := range a.accumulators {
		b := array.NewBuilder(memory.DefaultAllocator, AccumulatorType(a.aggCalls[i]))
		acc.AppendTo(b)
		resultColumns[i] = b.NewArray()
		b.Release()
	}
	a.done = true
	return &operators.RecordBatch{
		Schema:   a.schema,
		Columns:  resultColumns,
		RowCount: 1,
	}, nil
}

func (a *GlobalAggrExec) Schema() *arrow.Schema {
	return a.schema
}

func (a *GlobalAggrExec) Close() error {
	return a.child.Close()
}
