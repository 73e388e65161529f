package pretty

import (
	"strings"
	"testing"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

func sampleBatch(t *testing.T) *operators.RecordBatch {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	rbb.SchemaBuilder.
		WithField("id", arrow.PrimitiveTypes.Int64, true).
		WithField("name", arrow.BinaryTypes.String, true)
	batch, err := rbb.NewRecordBatch(rbb.Schema(), []arrow.Array{
		rbb.GenInt64Array(1, 2),
		rbb.GenStringArray("alice", "bo"),
	})
	if err != nil {
		t.Fatalf("failed to build batch: %v", err)
	}
	return batch
}

func TestFormat(t *testing.T) {
	t.Run("renders a bordered table", func(t *testing.T) {
		out, err := Format([]*operators.RecordBatch{sampleBatch(t)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := "+----+-------+\n" +
			"| id | name  |\n" +
			"+----+-------+\n" +
			"| 1  | alice |\n" +
			"| 2  | bo    |\n" +
			"+----+-------+\n"
		if out != expected {
			t.Fatalf("table mismatch:\ngot:\n%s\nwant:\n%s", out, expected)
		}
	})

	t.Run("nulls render as NULL", func(t *testing.T) {
		mem := memory.NewGoAllocator()
		b := array.NewInt64Builder(mem)
		b.Append(7)
		b.AppendNull()
		col := b.NewArray()
		b.Release()

		schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
		batch := &operators.RecordBatch{Schema: schema, Columns: []arrow.Array{col}, RowCount: 2}
		out, err := Format([]*operators.RecordBatch{batch})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "| NULL |") {
			t.Fatalf("null cell not rendered:\n%s", out)
		}
	})

	t.Run("empty input is an error", func(t *testing.T) {
		if _, err := Format(nil); err == nil {
			t.Fatalf("expected error for empty input, got nil")
		}
	})

	t.Run("mismatched schemas are rejected", func(t *testing.T) {
		other := &operators.RecordBatch{
			Schema: arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil),
		}
		if _, err := Format([]*operators.RecordBatch{sampleBatch(t), other}); err == nil {
			t.Fatalf("expected schema mismatch error, got nil")
		}
	})
}

func TestToColumns(t *testing.T) {
	cols, err := ToColumns([]*operators.RecordBatch{sampleBatch(t)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids, ok := cols["id"]
	if !ok {
		t.Fatalf("id column missing from %v", cols)
	}
	if len(ids) != 2 || ids[0].(int64) != 1 {
		t.Fatalf("id values wrong: %v", ids)
	}
	names := cols["name"]
	if names[1].(string) != "bo" {
		t.Fatalf("name values wrong: %v", names)
	}
}
