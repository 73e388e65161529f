package filter

import (
	"errors"
	"io"
	"testing"

	"arrowframe/Expr"
	"arrowframe/operators"
	"arrowframe/operators/project"

	"github.com/apache/arrow/go/v17/arrow/array"
)

func peopleSource(t *testing.T) operators.Operator {
	t.Helper()
	src, err := project.NewInMemorySource(
		[]string{"id", "name", "age"},
		[]any{
			[]int64{1, 2, 3, 4, 5},
			[]string{"ana", "bo", "cy", "dee", "ed"},
			[]int64{34, 19, 27, 41, 15},
		})
	if err != nil {
		t.Fatalf("failed to create in-memory source: %v", err)
	}
	return src
}

func drain(t *testing.T, op operators.Operator, n uint16) []*operators.RecordBatch {
	t.Helper()
	var out []*operators.RecordBatch
	for {
		batch, err := op.Next(n)
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected error while draining: %v", err)
		}
		out = append(out, batch)
	}
}

func TestFilterExec(t *testing.T) {
	t.Run("greater-than predicate keeps matching rows", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(Expr.Col("age"), Expr.GreaterThan, Expr.Lit(int64(20)))
		f, err := NewFilterExec(peopleSource(t), pred)
		if err != nil {
			t.Fatalf("failed to create filter exec: %v", err)
		}
		defer f.Close()

		batches := drain(t, f, 100)
		if got := operators.TotalRows(batches); got != 3 {
			t.Fatalf("expected 3 rows, got %d", got)
		}
		names, err := batches[0].ColumnByName("name")
		if err != nil {
			t.Fatalf("name column missing: %v", err)
		}
		strCol := names.(*array.String)
		expected := []string{"ana", "cy", "dee"}
		for i, want := range expected {
			if strCol.Value(i) != want {
				t.Fatalf("row %d expected %q got %q", i, want, strCol.Value(i))
			}
		}
	})

	t.Run("predicate matching nothing yields empty batches", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(Expr.Col("age"), Expr.GreaterThan, Expr.Lit(int64(100)))
		f, err := NewFilterExec(peopleSource(t), pred)
		if err != nil {
			t.Fatalf("failed to create filter exec: %v", err)
		}
		defer f.Close()

		if got := operators.TotalRows(drain(t, f, 100)); got != 0 {
			t.Fatalf("expected 0 rows, got %d", got)
		}
	})

	t.Run("missing predicate column fails at pull time", func(t *testing.T) {
		pred := Expr.NewBinaryExpr(Expr.Col("height"), Expr.GreaterThan, Expr.Lit(int64(0)))
		f, err := NewFilterExec(peopleSource(t), pred)
		if err != nil {
			t.Fatalf("construction should not validate the predicate: %v", err)
		}
		defer f.Close()

		if _, err := f.Next(100); err == nil {
			t.Fatalf("expected unknown-column error, got nil")
		}
	})

	t.Run("schema passes through unchanged", func(t *testing.T) {
		src := peopleSource(t)
		pred := Expr.NewBinaryExpr(Expr.Col("id"), Expr.Equal, Expr.Lit(int64(1)))
		f, err := NewFilterExec(src, pred)
		if err != nil {
			t.Fatalf("failed to create filter exec: %v", err)
		}
		defer f.Close()
		if !f.Schema().Equal(src.Schema()) {
			t.Fatalf("filter must not change the schema")
		}
	})
}

func TestLimitExec(t *testing.T) {
	t.Run("bounds total rows", func(t *testing.T) {
		l, err := NewLimitExec(peopleSource(t), 3)
		if err != nil {
			t.Fatalf("failed to create limit exec: %v", err)
		}
		defer l.Close()

		batches := drain(t, l, 100)
		if got := operators.TotalRows(batches); got != 3 {
			t.Fatalf("expected 3 rows, got %d", got)
		}
		ids, err := batches[0].ColumnByName("id")
		if err != nil {
			t.Fatalf("id column missing: %v", err)
		}
		idCol := ids.(*array.Int64)
		if idCol.Value(idCol.Len()-1) != 3 {
			t.Fatalf("limit should keep the first rows, last id was %d", idCol.Value(idCol.Len()-1))
		}
	})

	t.Run("count larger than input is a no-op", func(t *testing.T) {
		l, err := NewLimitExec(peopleSource(t), 1000)
		if err != nil {
			t.Fatalf("failed to create limit exec: %v", err)
		}
		defer l.Close()
		if got := operators.TotalRows(drain(t, l, 2)); got != 5 {
			t.Fatalf("expected all 5 rows, got %d", got)
		}
	})

	t.Run("zero count yields nothing", func(t *testing.T) {
		l, err := NewLimitExec(peopleSource(t), 0)
		if err != nil {
			t.Fatalf("failed to create limit exec: %v", err)
		}
		defer l.Close()
		if _, err := l.Next(10); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF for zero limit, got %v", err)
		}
	})
}
