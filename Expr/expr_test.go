package Expr

import (
	"testing"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func testBatch(t *testing.T) *operators.RecordBatch {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	rbb.SchemaBuilder.
		WithField("id", arrow.PrimitiveTypes.Int64, true).
		WithField("name", arrow.BinaryTypes.String, true).
		WithField("score", arrow.PrimitiveTypes.Float64, true)
	batch, err := rbb.NewRecordBatch(rbb.Schema(), []arrow.Array{
		rbb.GenInt64Array(1, 2, 3, 4),
		rbb.GenStringArray("ana", "bo", "cy", "dee"),
		rbb.GenFloatArray(10.5, 20.0, 7.25, 30.0),
	})
	if err != nil {
		t.Fatalf("failed to build test batch: %v", err)
	}
	return batch
}

func TestEvalColumn(t *testing.T) {
	batch := testBatch(t)

	t.Run("existing column resolves", func(t *testing.T) {
		arr, err := EvalExpression(Col("name"), batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		strCol, ok := arr.(*array.String)
		if !ok {
			t.Fatalf("expected String column, got %T", arr)
		}
		if strCol.Value(2) != "cy" {
			t.Fatalf("expected cy got %s", strCol.Value(2))
		}
	})

	t.Run("missing column fails", func(t *testing.T) {
		if _, err := EvalExpression(Col("nope"), batch); err == nil {
			t.Fatalf("expected error for missing column, got nil")
		}
	})
}

func TestEvalBinary(t *testing.T) {
	batch := testBatch(t)

	t.Run("comparison produces boolean mask", func(t *testing.T) {
		pred := NewBinaryExpr(Col("score"), GreaterThan, Lit(10.0))
		arr, err := EvalExpression(pred, batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		mask, ok := arr.(*array.Boolean)
		if !ok {
			t.Fatalf("expected Boolean column, got %T", arr)
		}
		expected := []bool{true, true, false, true}
		for i, want := range expected {
			if mask.Value(i) != want {
				t.Fatalf("index %d expected %v got %v", i, want, mask.Value(i))
			}
		}
	})

	t.Run("arithmetic keeps numeric type", func(t *testing.T) {
		sum := NewBinaryExpr(Col("score"), Addition, Lit(1.0))
		arr, err := EvalExpression(sum, batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		vals, ok := arr.(*array.Float64)
		if !ok {
			t.Fatalf("expected Float64 column, got %T", arr)
		}
		if vals.Value(0) != 11.5 {
			t.Fatalf("expected 11.5 got %v", vals.Value(0))
		}
	})

	t.Run("mismatched types are rejected", func(t *testing.T) {
		bad := NewBinaryExpr(Col("name"), Equal, Lit(int64(3)))
		if _, err := EvalExpression(bad, batch); err == nil {
			t.Fatalf("expected comparison type error, got nil")
		}
	})
}

func TestOrderByDefaults(t *testing.T) {
	t.Run("no options means ascending nulls first", func(t *testing.T) {
		spec := OrderBy(Col("id"))
		if !spec.Ascending || !spec.NullsFirst {
			t.Fatalf("expected asc+nullsFirst defaults, got asc=%v nullsFirst=%v", spec.Ascending, spec.NullsFirst)
		}
	})

	t.Run("options override in order", func(t *testing.T) {
		spec := OrderBy(Col("id"), false, false)
		if spec.Ascending || spec.NullsFirst {
			t.Fatalf("expected overrides applied, got asc=%v nullsFirst=%v", spec.Ascending, spec.NullsFirst)
		}
	})
}

func TestInList(t *testing.T) {
	batch := testBatch(t)

	arr, err := EvalExpression(InList(Col("name"), NewExpressions(Lit("ana"), Lit("dee")), false), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mask := arr.(*array.Boolean)
	expected := []bool{true, false, false, true}
	for i, want := range expected {
		if mask.Value(i) != want {
			t.Fatalf("index %d expected %v got %v", i, want, mask.Value(i))
		}
	}

	negated, err := EvalExpression(InList(Col("name"), NewExpressions(Lit("ana")), true), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	negMask := negated.(*array.Boolean)
	if negMask.Value(0) || !negMask.Value(1) {
		t.Fatalf("negated membership flipped incorrectly")
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName(Col("id")); got != "id" {
		t.Fatalf("expected id got %s", got)
	}
	if got := OutputName(NewAlias(Col("id"), "renamed")); got != "renamed" {
		t.Fatalf("expected renamed got %s", got)
	}
	if got := OutputName(Upper(Col("name"))); got != "upper(name)" {
		t.Fatalf("expected upper(name) got %s", got)
	}
}

func TestExprDataType(t *testing.T) {
	batch := testBatch(t)
	schema := batch.Schema

	t.Run("aggregate calls", func(t *testing.T) {
		dt, err := ExprDataType(Count(NewExpressions(Col("id"))), schema)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt.ID() != arrow.INT64 {
			t.Fatalf("count should be int64, got %s", dt)
		}
		dt, err = ExprDataType(Avg(NewExpressions(Col("score"))), schema)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt.ID() != arrow.FLOAT64 {
			t.Fatalf("avg should be float64, got %s", dt)
		}
	})

	t.Run("scalar registry types", func(t *testing.T) {
		dt, err := ExprDataType(Length(Col("name")), schema)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt.ID() != arrow.INT64 {
			t.Fatalf("length should be int64, got %s", dt)
		}
		dt, err = ExprDataType(Abs(Col("score")), schema)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt.ID() != arrow.FLOAT64 {
			t.Fatalf("abs should keep float64, got %s", dt)
		}
	})
}
