package Expr

import (
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow/array"
)

func TestScalarRegistry(t *testing.T) {
	t.Run("unknown function name", func(t *testing.T) {
		if _, err := NewScalarCall("frobnicate", Col("x")); err == nil {
			t.Fatalf("expected error for unregistered function, got nil")
		}
	})

	t.Run("names without a kernel are not registered", func(t *testing.T) {
		for _, name := range []string{"date_bin", "make_array", "array"} {
			if _, err := NewScalarCall(name, Col("x")); err == nil {
				t.Fatalf("expected error for %q, got nil", name)
			}
		}
	})

	t.Run("aliases share a kernel", func(t *testing.T) {
		long, err := NewScalarCall("character_length", Col("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		short, err := NewScalarCall("length", Col("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if long.Kernel != short.Kernel {
			t.Fatalf("alias kernels diverge: %s vs %s", long.Kernel, short.Kernel)
		}
		// the display name keeps the caller's spelling
		if short.String() != "length(x)" {
			t.Fatalf("expected length(x) got %s", short.String())
		}
	})
}

func TestStringKernels(t *testing.T) {
	batch := testBatch(t)

	for _, tc := range []struct {
		name     string
		expr     Expression
		expected []string
	}{
		{"upper", Upper(Col("name")), []string{"ANA", "BO", "CY", "DEE"}},
		{"reverse", Reverse(Col("name")), []string{"ana", "ob", "yc", "eed"}},
		{"concat", Concat(Col("name"), Lit("!")), []string{"ana!", "bo!", "cy!", "dee!"}},
		{"concat_ws", ConcatWS("-", Col("name"), Col("name")), []string{"ana-ana", "bo-bo", "cy-cy", "dee-dee"}},
		{"lpad", Lpad(Col("name"), Lit(int64(5)), Lit("*")), []string{"**ana", "***bo", "***cy", "**dee"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			arr, err := EvalExpression(tc.expr, batch)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			strCol, ok := arr.(*array.String)
			if !ok {
				t.Fatalf("expected String column, got %T", arr)
			}
			for i, want := range tc.expected {
				if strCol.Value(i) != want {
					t.Fatalf("row %d expected %q got %q", i, want, strCol.Value(i))
				}
			}
		})
	}
}

func TestDigestKernels(t *testing.T) {
	batch := testBatch(t)

	t.Run("md5 is hex encoded", func(t *testing.T) {
		arr, err := EvalExpression(MD5(Col("name")), batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		hashes := arr.(*array.String)
		if hashes.Value(0) != "276b6c4692e78d4799c12ada515bc3e4" {
			t.Fatalf("md5(ana) mismatch: %s", hashes.Value(0))
		}
	})

	t.Run("sha256 is raw bytes", func(t *testing.T) {
		arr, err := EvalExpression(SHA256(Col("name")), batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		hashes, ok := arr.(*array.Binary)
		if !ok {
			t.Fatalf("expected Binary column, got %T", arr)
		}
		if len(hashes.Value(0)) != 32 {
			t.Fatalf("expected 32-byte digest, got %d", len(hashes.Value(0)))
		}
	})

	t.Run("digest dispatches by method", func(t *testing.T) {
		arr, err := EvalExpression(Digest(Col("name"), Lit("blake2b")), batch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		hashes := arr.(*array.Binary)
		if len(hashes.Value(0)) != 64 {
			t.Fatalf("expected 64-byte blake2b digest, got %d", len(hashes.Value(0)))
		}
	})

	t.Run("digest rejects unknown algorithms", func(t *testing.T) {
		_, err := EvalExpression(Digest(Col("name"), Lit("crc16")), batch)
		if err == nil {
			t.Fatalf("expected error for unknown algorithm, got nil")
		}
		if !strings.Contains(err.Error(), "crc16") {
			t.Fatalf("error should name the algorithm: %v", err)
		}
	})
}

func TestAggregateCallString(t *testing.T) {
	plain := Sum(NewExpressions(Col("score")))
	if plain.String() != "sum(score)" {
		t.Fatalf("expected sum(score) got %s", plain.String())
	}
	distinct := Count(NewExpressions(Col("id")), true)
	if distinct.String() != "count(DISTINCT id)" {
		t.Fatalf("expected count(DISTINCT id) got %s", distinct.String())
	}
}

func TestWindowResolution(t *testing.T) {
	t.Run("unknown name fails with the name in the error", func(t *testing.T) {
		_, err := Window("median_rank", nil, nil, nil)
		if err == nil {
			t.Fatalf("expected error for unknown window function, got nil")
		}
		if !strings.Contains(err.Error(), "median_rank") {
			t.Fatalf("error should name the function: %v", err)
		}
	})

	t.Run("frame follows order-by presence", func(t *testing.T) {
		ordered, err := Window("rank", nil, nil, NewExpressions(Col("id")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ordered.Frame.Units != FrameRange || ordered.Frame.End != CurrentRow {
			t.Fatalf("ordered frame should be RANGE .. CURRENT ROW, got %+v", ordered.Frame)
		}

		unordered, err := Window("first_value", NewExpressions(Col("id")), nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if unordered.Frame.Units != FrameRows || unordered.Frame.End != UnboundedFollowing {
			t.Fatalf("unordered frame should be ROWS UNBOUNDED, got %+v", unordered.Frame)
		}
	})

	t.Run("order-by keys keep sort defaults", func(t *testing.T) {
		w, err := Window("row_number", nil, nil, NewExpressions(Col("id")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(w.OrderBy) != 1 || !w.OrderBy[0].Ascending || !w.OrderBy[0].NullsFirst {
			t.Fatalf("order-by defaults not applied: %+v", w.OrderBy)
		}
	})
}
