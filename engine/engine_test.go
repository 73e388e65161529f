package engine

import (
	"sync"
	"testing"

	"arrowframe/Expr"
	"arrowframe/operators"
	"arrowframe/operators/project"
	"arrowframe/plan"

	"github.com/apache/arrow/go/v17/arrow/array"
)

func numbersScan(t *testing.T) *plan.Scan {
	t.Helper()
	names := []string{"n"}
	columns := []any{[]int64{5, 3, 8, 1, 9, 2}}
	probe, err := project.NewInMemorySource(names, columns)
	if err != nil {
		t.Fatalf("failed to create probe source: %v", err)
	}
	schema := probe.Schema()
	probe.Close()
	return plan.NewScan("numbers", schema, func() (operators.Operator, error) {
		return project.NewInMemorySource(names, columns)
	})
}

func TestCollect(t *testing.T) {
	eng := New()

	t.Run("drains the whole plan", func(t *testing.T) {
		p := plan.NewFilter(numbersScan(t),
			Expr.NewBinaryExpr(Expr.Col("n"), Expr.GreaterThan, Expr.Lit(int64(4))))
		batches, err := eng.Collect(p)
		if err != nil {
			t.Fatalf("collect failed: %v", err)
		}
		if got := operators.TotalRows(batches); got != 3 {
			t.Fatalf("expected 3 rows, got %d", got)
		}
	})

	t.Run("plans re-execute from fresh sources", func(t *testing.T) {
		p := numbersScan(t)
		for i := 0; i < 3; i++ {
			batches, err := eng.Collect(p)
			if err != nil {
				t.Fatalf("collect %d failed: %v", i, err)
			}
			if got := operators.TotalRows(batches); got != 6 {
				t.Fatalf("collect %d expected 6 rows, got %d", i, got)
			}
		}
	})

	t.Run("operator errors surface with no partial results", func(t *testing.T) {
		p := plan.NewFilter(numbersScan(t),
			Expr.NewBinaryExpr(Expr.Col("ghost"), Expr.Equal, Expr.Lit(int64(0))))
		batches, err := eng.Collect(p)
		if err == nil {
			t.Fatalf("expected error for unknown column, got nil")
		}
		if batches != nil {
			t.Fatalf("failed collect must not return batches")
		}
	})

	t.Run("concurrent collects all finish", func(t *testing.T) {
		p := numbersScan(t)
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(at int) {
				defer wg.Done()
				_, errs[at] = eng.Collect(p)
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			if err != nil {
				t.Fatalf("collect %d failed: %v", i, err)
			}
		}
	})
}

func TestCompile(t *testing.T) {
	t.Run("sort plus limit pipeline", func(t *testing.T) {
		p := plan.NewLimit(
			plan.NewSort(numbersScan(t), []*Expr.SortSpec{Expr.OrderBy(Expr.Col("n"))}),
			2)
		batches, err := New().Collect(p)
		if err != nil {
			t.Fatalf("collect failed: %v", err)
		}
		if got := operators.TotalRows(batches); got != 2 {
			t.Fatalf("expected 2 rows, got %d", got)
		}
		col, err := batches[0].ColumnByName("n")
		if err != nil {
			t.Fatalf("n column missing: %v", err)
		}
		ns := col.(*array.Int64)
		if ns.Value(0) != 1 || ns.Value(1) != 2 {
			t.Fatalf("expected the two smallest values, got %d %d", ns.Value(0), ns.Value(1))
		}
	})

	t.Run("unknown node types are rejected", func(t *testing.T) {
		if _, err := Compile(nil); err == nil {
			t.Fatalf("expected error for unknown plan node, got nil")
		}
	})
}

func TestExplain(t *testing.T) {
	eng := New()
	p := plan.NewLimit(numbersScan(t), 3)

	t.Run("plain explain renders without executing", func(t *testing.T) {
		batches, err := eng.Explain(p, false, false)
		if err != nil {
			t.Fatalf("explain failed: %v", err)
		}
		if operators.TotalRows(batches) != 1 {
			t.Fatalf("expected one explain row, got %d", operators.TotalRows(batches))
		}
		types, err := batches[0].ColumnByName("plan_type")
		if err != nil {
			t.Fatalf("plan_type column missing: %v", err)
		}
		if types.(*array.String).Value(0) != "logical_plan" {
			t.Fatalf("expected logical_plan row, got %s", types.(*array.String).Value(0))
		}
	})

	t.Run("analyze appends execution stats", func(t *testing.T) {
		batches, err := eng.Explain(p, false, true)
		if err != nil {
			t.Fatalf("explain analyze failed: %v", err)
		}
		if operators.TotalRows(batches) != 2 {
			t.Fatalf("expected logical_plan and analyze rows, got %d", operators.TotalRows(batches))
		}
	})
}
