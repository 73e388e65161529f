package aggr

import (
	"errors"
	"io"
	"testing"

	"arrowframe/Expr"
	"arrowframe/operators"
	"arrowframe/operators/project"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

func salesSource(t *testing.T) operators.Operator {
	t.Helper()
	src, err := project.NewInMemorySource(
		[]string{"region", "amount"},
		[]any{
			[]string{"west", "east", "west", "east", "north"},
			[]float64{30.0, 10.0, 20.0, 40.0, 25.0},
		})
	if err != nil {
		t.Fatalf("failed to create in-memory source: %v", err)
	}
	return src
}

func drainAll(t *testing.T, op operators.Operator) []*operators.RecordBatch {
	t.Helper()
	var out []*operators.RecordBatch
	for {
		batch, err := op.Next(1024)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected error while draining: %v", err)
		}
		out = append(out, batch)
	}
}

func floatColumn(t *testing.T, batches []*operators.RecordBatch, name string) []float64 {
	t.Helper()
	var out []float64
	for _, b := range batches {
		raw, err := b.ColumnByName(name)
		if err != nil {
			t.Fatalf("column %s missing: %v", name, err)
		}
		col := raw.(*array.Float64)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
	}
	return out
}

func TestSortExec(t *testing.T) {
	t.Run("ascending by default", func(t *testing.T) {
		s, err := NewSortExec(salesSource(t), []*Expr.SortSpec{Expr.OrderBy(Expr.Col("amount"))})
		if err != nil {
			t.Fatalf("failed to create sort exec: %v", err)
		}
		defer s.Close()

		got := floatColumn(t, drainAll(t, s), "amount")
		expected := []float64{10.0, 20.0, 25.0, 30.0, 40.0}
		for i, want := range expected {
			if got[i] != want {
				t.Fatalf("row %d expected %v got %v", i, want, got[i])
			}
		}
	})

	t.Run("descending", func(t *testing.T) {
		s, err := NewSortExec(salesSource(t), []*Expr.SortSpec{Expr.OrderBy(Expr.Col("amount"), false)})
		if err != nil {
			t.Fatalf("failed to create sort exec: %v", err)
		}
		defer s.Close()

		got := floatColumn(t, drainAll(t, s), "amount")
		if got[0] != 40.0 || got[4] != 10.0 {
			t.Fatalf("descending sort out of order: %v", got)
		}
	})

	t.Run("secondary key breaks ties", func(t *testing.T) {
		s, err := NewSortExec(salesSource(t), []*Expr.SortSpec{
			Expr.OrderBy(Expr.Col("region")),
			Expr.OrderBy(Expr.Col("amount"), false),
		})
		if err != nil {
			t.Fatalf("failed to create sort exec: %v", err)
		}
		defer s.Close()

		batches := drainAll(t, s)
		amounts := floatColumn(t, batches, "amount")
		// east desc, then north, then west desc
		expected := []float64{40.0, 10.0, 25.0, 30.0, 20.0}
		for i, want := range expected {
			if amounts[i] != want {
				t.Fatalf("row %d expected %v got %v", i, want, amounts[i])
			}
		}
	})

	t.Run("empty input yields no rows", func(t *testing.T) {
		src, err := project.NewInMemorySource(
			[]string{"region", "amount"},
			[]any{[]string{}, []float64{}})
		if err != nil {
			t.Fatalf("failed to create in-memory source: %v", err)
		}
		s, err := NewSortExec(src, []*Expr.SortSpec{Expr.OrderBy(Expr.Col("amount"))})
		if err != nil {
			t.Fatalf("failed to create sort exec: %v", err)
		}
		defer s.Close()

		if got := operators.TotalRows(drainAll(t, s)); got != 0 {
			t.Fatalf("expected 0 rows from an empty child, got %d", got)
		}
	})

	t.Run("binary keys order bytewise", func(t *testing.T) {
		mem := memory.NewGoAllocator()
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		b.AppendValues([][]byte{{0x02}, {0x00, 0x01}, {0x01}}, nil)
		col := b.NewArray()
		b.Release()
		defer col.Release()

		idx := []uint64{0, 1, 2}
		SortIndicesBy(idx, []arrow.Array{col}, []*Expr.SortSpec{Expr.OrderBy(Expr.Col("v"))})
		if idx[0] != 1 || idx[1] != 2 || idx[2] != 0 {
			t.Fatalf("binary ordering wrong: %v", idx)
		}
	})

	t.Run("nulls placement follows the key option", func(t *testing.T) {
		mem := memory.NewGoAllocator()
		b := array.NewFloat64Builder(mem)
		b.AppendValues([]float64{2.0, 0, 1.0}, []bool{true, false, true})
		col := b.NewArray()
		b.Release()

		schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Float64, Nullable: true}}, nil)
		rbb := operators.NewRecordBatchBuilder()
		batch, err := rbb.NewRecordBatch(schema, []arrow.Array{col})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}

		idx := []uint64{0, 1, 2}
		SortIndicesBy(idx, batch.Columns, []*Expr.SortSpec{Expr.OrderBy(Expr.Col("v"), true, false)})
		// nulls last: 1.0, 2.0, null
		if idx[0] != 2 || idx[1] != 0 || idx[2] != 1 {
			t.Fatalf("nulls-last ordering wrong: %v", idx)
		}

		idx = []uint64{0, 1, 2}
		SortIndicesBy(idx, batch.Columns, []*Expr.SortSpec{Expr.OrderBy(Expr.Col("v"))})
		// defaults put nulls first
		if idx[0] != 1 {
			t.Fatalf("nulls-first ordering wrong: %v", idx)
		}
	})
}

func TestGroupByExec(t *testing.T) {
	t.Run("sum per group", func(t *testing.T) {
		g, err := NewGroupByExec(salesSource(t),
			[]Expr.Expression{Expr.Col("region")},
			[]*Expr.AggregateCall{Expr.NewAggregateCall(Expr.AggrSum, []Expr.Expression{Expr.Col("amount")}, false)})
		if err != nil {
			t.Fatalf("failed to create group by exec: %v", err)
		}
		defer g.Close()

		batches := drainAll(t, g)
		if got := operators.TotalRows(batches); got != 3 {
			t.Fatalf("expected 3 groups, got %d", got)
		}
		regions, err := batches[0].ColumnByName("region")
		if err != nil {
			t.Fatalf("region column missing: %v", err)
		}
		sums := floatColumn(t, batches, "sum(amount)")
		byRegion := map[string]float64{}
		regCol := regions.(*array.String)
		for i := 0; i < regCol.Len(); i++ {
			byRegion[regCol.Value(i)] = sums[i]
		}
		if byRegion["west"] != 50.0 || byRegion["east"] != 50.0 || byRegion["north"] != 25.0 {
			t.Fatalf("group sums wrong: %v", byRegion)
		}
	})

	t.Run("count distinct", func(t *testing.T) {
		src, err := project.NewInMemorySource(
			[]string{"k", "v"},
			[]any{
				[]string{"a", "a", "a", "b"},
				[]int64{1, 1, 2, 7},
			})
		if err != nil {
			t.Fatalf("failed to create in-memory source: %v", err)
		}
		g, err := NewGroupByExec(src,
			[]Expr.Expression{Expr.Col("k")},
			[]*Expr.AggregateCall{Expr.NewAggregateCall(Expr.AggrCount, []Expr.Expression{Expr.Col("v")}, true)})
		if err != nil {
			t.Fatalf("failed to create group by exec: %v", err)
		}
		defer g.Close()

		batches := drainAll(t, g)
		keys, err := batches[0].ColumnByName("k")
		if err != nil {
			t.Fatalf("k column missing: %v", err)
		}
		counts, err := batches[0].ColumnByName("count(DISTINCT v)")
		if err != nil {
			t.Fatalf("count column missing: %v", err)
		}
		keyCol := keys.(*array.String)
		cntCol := counts.(*array.Int64)
		got := map[string]int64{}
		for i := 0; i < keyCol.Len(); i++ {
			got[keyCol.Value(i)] = cntCol.Value(i)
		}
		if got["a"] != 2 || got["b"] != 1 {
			t.Fatalf("distinct counts wrong: %v", got)
		}
	})
}

func TestGlobalAggrExec(t *testing.T) {
	g, err := NewGlobalAggrExec(salesSource(t), []*Expr.AggregateCall{
		Expr.NewAggregateCall(Expr.AggrSum, []Expr.Expression{Expr.Col("amount")}, false),
		Expr.NewAggregateCall(Expr.AggrCount, []Expr.Expression{Expr.Col("amount")}, false),
		Expr.NewAggregateCall(Expr.AggrMin, []Expr.Expression{Expr.Col("amount")}, false),
	})
	if err != nil {
		t.Fatalf("failed to create global aggr exec: %v", err)
	}
	defer g.Close()

	batches := drainAll(t, g)
	if got := operators.TotalRows(batches); got != 1 {
		t.Fatalf("global aggregate must yield a single row, got %d", got)
	}
	sums, err := batches[0].ColumnByName("sum(amount)")
	if err != nil {
		t.Fatalf("sum column missing: %v", err)
	}
	if v := sums.(*array.Float64).Value(0); v != 125.0 {
		t.Fatalf("expected sum 125, got %v", v)
	}
	counts, err := batches[0].ColumnByName("count(amount)")
	if err != nil {
		t.Fatalf("count column missing: %v", err)
	}
	if v := counts.(*array.Int64).Value(0); v != 5 {
		t.Fatalf("expected count 5, got %v", v)
	}
	mins, err := batches[0].ColumnByName("min(amount)")
	if err != nil {
		t.Fatalf("min column missing: %v", err)
	}
	if v := mins.(*array.Float64).Value(0); v != 10.0 {
		t.Fatalf("expected min 10, got %v", v)
	}
}
