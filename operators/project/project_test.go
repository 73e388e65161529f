package project

import (
	"errors"
	"io"
	"strings"
	"testing"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func TestInMemorySource(t *testing.T) {
	t.Run("slices batches of the requested size", func(t *testing.T) {
		src, err := NewInMemorySource(
			[]string{"id"},
			[]any{[]int64{1, 2, 3, 4, 5}})
		if err != nil {
			t.Fatalf("failed to create source: %v", err)
		}
		defer src.Close()

		first, err := src.Next(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.RowCount != 2 {
			t.Fatalf("expected 2 rows, got %d", first.RowCount)
		}
		second, err := src.Next(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids := second.Columns[0].(*array.Int64)
		if ids.Value(0) != 3 {
			t.Fatalf("second batch should continue where the first ended, got %d", ids.Value(0))
		}
		third, err := src.Next(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if third.RowCount != 1 {
			t.Fatalf("tail batch should hold the remainder, got %d", third.RowCount)
		}
		if _, err := src.Next(2); !errors.Is(err, io.EOF) {
			t.Fatalf("expected io.EOF after exhaustion, got %v", err)
		}
	})

	t.Run("plain int slices widen to int64", func(t *testing.T) {
		src, err := NewInMemorySource([]string{"n"}, []any{[]int{1, 2}})
		if err != nil {
			t.Fatalf("failed to create source: %v", err)
		}
		defer src.Close()
		if src.Schema().Field(0).Type.ID() != arrow.INT64 {
			t.Fatalf("expected int64 field, got %s", src.Schema().Field(0).Type)
		}
	})

	t.Run("unsupported slice types are rejected", func(t *testing.T) {
		if _, err := NewInMemorySource([]string{"b"}, []any{[][]byte{{1}}}); err == nil {
			t.Fatalf("expected error for unsupported slice type, got nil")
		}
	})

	t.Run("name and column count must agree", func(t *testing.T) {
		if _, err := NewInMemorySource([]string{"a", "b"}, []any{[]int64{1}}); err == nil {
			t.Fatalf("expected schema mismatch error, got nil")
		}
	})
}

func TestProjectionExec(t *testing.T) {
	newSource := func(t *testing.T) operators.Operator {
		src, err := NewInMemorySource(
			[]string{"id", "name", "age"},
			[]any{
				[]int64{1, 2, 3},
				[]string{"ana", "bo", "cy"},
				[]int64{34, 19, 27},
			})
		if err != nil {
			t.Fatalf("failed to create source: %v", err)
		}
		return src
	}

	t.Run("column selection keeps request order", func(t *testing.T) {
		p, err := NewProjectionExec(newSource(t), []Expr.Expression{Expr.Col("age"), Expr.Col("id")})
		if err != nil {
			t.Fatalf("failed to create projection: %v", err)
		}
		defer p.Close()

		batch, err := p.Next(10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.Schema.Field(0).Name != "age" || batch.Schema.Field(1).Name != "id" {
			t.Fatalf("projection reordered columns: %v", batch.Schema.Fields())
		}
		if len(batch.Columns) != 2 {
			t.Fatalf("expected 2 columns, got %d", len(batch.Columns))
		}
	})

	t.Run("expressions produce derived columns", func(t *testing.T) {
		expr := Expr.NewAlias(
			Expr.NewBinaryExpr(Expr.Col("age"), Expr.Addition, Expr.Lit(int64(1))),
			"next_age")
		p, err := NewProjectionExec(newSource(t), []Expr.Expression{Expr.Col("name"), expr})
		if err != nil {
			t.Fatalf("failed to create projection: %v", err)
		}
		defer p.Close()

		batch, err := p.Next(10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		next, err := batch.ColumnByName("next_age")
		if err != nil {
			t.Fatalf("derived column missing: %v", err)
		}
		if next.(*array.Int64).Value(0) != 35 {
			t.Fatalf("expected 35, got %d", next.(*array.Int64).Value(0))
		}
	})

	t.Run("unknown columns fail at construction", func(t *testing.T) {
		if _, err := NewProjectionExec(newSource(t), []Expr.Expression{Expr.Col("ghost")}); err == nil {
			t.Fatalf("expected unknown-column error, got nil")
		}
	})

	t.Run("empty expression list is rejected", func(t *testing.T) {
		if _, err := NewProjectionExec(newSource(t), nil); err == nil {
			t.Fatalf("expected error for empty projection, got nil")
		}
	})
}

func TestCSVSource(t *testing.T) {
	const doc = "id,name,score,active\n1,ana,9.5,true\n2,bo,NULL,false\n3,,7.25,true\n"

	t.Run("types inferred from the first data row", func(t *testing.T) {
		src, err := NewCSVSource(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("failed to create csv source: %v", err)
		}
		defer src.Close()

		schema := src.Schema()
		wantTypes := []arrow.Type{arrow.INT64, arrow.STRING, arrow.FLOAT64, arrow.BOOL}
		for i, want := range wantTypes {
			if schema.Field(i).Type.ID() != want {
				t.Fatalf("field %d expected %s got %s", i, want, schema.Field(i).Type)
			}
		}
	})

	t.Run("empty cells and NULL markers become nulls", func(t *testing.T) {
		src, err := NewCSVSource(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("failed to create csv source: %v", err)
		}
		defer src.Close()

		batch, err := src.Next(10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.RowCount != 3 {
			t.Fatalf("expected 3 rows, got %d", batch.RowCount)
		}
		scores, err := batch.ColumnByName("score")
		if err != nil {
			t.Fatalf("score column missing: %v", err)
		}
		if !scores.IsNull(1) {
			t.Fatalf("NULL marker should map to a null value")
		}
		names, err := batch.ColumnByName("name")
		if err != nil {
			t.Fatalf("name column missing: %v", err)
		}
		if !names.IsNull(2) {
			t.Fatalf("empty cell should map to a null value")
		}
	})

	t.Run("first data row survives batching", func(t *testing.T) {
		src, err := NewCSVSource(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("failed to create csv source: %v", err)
		}
		defer src.Close()

		batch, err := src.Next(1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids := batch.Columns[0].(*array.Int64)
		if batch.RowCount != 1 || ids.Value(0) != 1 {
			t.Fatalf("first batch should replay the inference row, got %d rows first id %d", batch.RowCount, ids.Value(0))
		}
	})
}

func TestProjectSchemaFilterDown(t *testing.T) {
	src, err := NewInMemorySource(
		[]string{"a", "b", "c"},
		[]any{[]int64{1}, []int64{2}, []int64{3}})
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	defer src.Close()
	batch, err := src.Next(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("keeps request order", func(t *testing.T) {
		schema, cols, err := ProjectSchemaFilterDown(batch.Schema, batch.Columns, "c", "a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer operators.ReleaseArrays(cols)
		if schema.Field(0).Name != "c" || schema.Field(1).Name != "a" {
			t.Fatalf("request order not kept: %v", schema.Fields())
		}
		if cols[0].(*array.Int64).Value(0) != 3 {
			t.Fatalf("columns misaligned with schema")
		}
	})

	t.Run("unknown columns are rejected", func(t *testing.T) {
		if _, _, err := ProjectSchemaFilterDown(batch.Schema, batch.Columns, "z"); err == nil {
			t.Fatalf("expected error for unknown column, got nil")
		}
	})

	t.Run("empty keep list is rejected", func(t *testing.T) {
		if _, _, err := ProjectSchemaFilterDown(batch.Schema, batch.Columns); err == nil {
			t.Fatalf("expected error for empty keep list, got nil")
		}
	})
}
