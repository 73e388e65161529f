package aggr

import (
	"context"
	"fmt"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedAggrFunc = func(fn Expr.AggrFunc) error {
		return fmt.Errorf("%s is an unsupported aggregate function", fn)
	}
	ErrInvalidAggrColumnType = func(dt arrow.DataType) error {
		return fmt.Errorf("%s cannot be cast to float64 so it is not a valid column type to aggregate on", dt)
	}
)

var (
	_ = (Accumulator)(&minAccumulator{})
	_ = (Accumulator)(&maxAccumulator{})
	_ = (Accumulator)(&sumAccumulator{})
	_ = (Accumulator)(&avgAccumulator{})
	_ = (Accumulator)(&countAccumulator{})
	_ = (Accumulator)(&distinctCountAccumulator{})
	_ = (Accumulator)(&distinctFilter{})
)

// Accumulator folds whole evaluated columns into one running aggregate.
// AppendTo writes the finished value (or null for an empty input) into the
// output builder.
type Accumulator interface {
	Consume(col arrow.Array) error
	AppendTo(b array.Builder)
}

// NewAccumulator picks the accumulator for one aggregate call. DISTINCT
// wraps the underlying accumulator in a dedupe filter, except for
// count(DISTINCT x) and approx_distinct which count unique values directly.
func NewAccumulator(call *Expr.AggregateCall) (Accumulator, error) {
	if call.Fn == Expr.AggrApproxDistinct {
		return &distinctCountAccumulator{seen: make(map[string]struct{})}, nil
	}
	var inner Accumulator
	switch call.Fn {
	case Expr.AggrMin:
		inner = &minAccumulator{}
	case Expr.AggrMax:
		inner = &maxAccumulator{}
	case Expr.AggrSum:
		inner = &sumAccumulator{}
	case Expr.AggrAvg:
		inner = &avgAccumulator{}
	case Expr.AggrCount:
		if call.Distinct {
			return &distinctCountAccumulator{seen: make(map[string]struct{})}, nil
		}
		inner = &countAccumulator{}
	default:
		return nil, ErrUnsupportedAggrFunc(call.Fn)
	}
	if call.Distinct {
		return &distinctFilter{inner: inner, seen: make(map[string]struct{})}, nil
	}
	return inner, nil
}

// AccumulatorType is the output column type for an aggregate call.
func AccumulatorType(call *Expr.AggregateCall) arrow.DataType {
	switch call.Fn {
	case Expr.AggrCount, Expr.AggrApproxDistinct:
		return arrow.PrimitiveTypes.Int64
	default:
		return arrow.PrimitiveTypes.Float64
	}
}

type minAccumulator struct {
	minV float64
	used bool
}

func (m *minAccumulator) Consume(col arrow.Array) error {
	return consumeFloats(col, func(v float64) {
		if !m.used || v < m.minV {
			m.minV = v
		}
		m.used = true
	})
}

func (m *minAccumulator) AppendTo(b array.Builder) {
	appendFloatResult(b, m.minV, m.used)
}

type maxAccumulator struct {
	maxV float64
	used bool
}

func (m *maxAccumulator) Consume(col arrow.Array) error {
	return consumeFloats(col, func(v float64) {
		if !m.used || v > m.maxV {
			m.maxV = v
		}
		m.used = true
	})
}

func (m *maxAccumulator) AppendTo(b array.Builder) {
	appendFloatResult(b, m.maxV, m.used)
}

type sumAccumulator struct {
	sum  float64
	used bool
}

func (s *sumAccumulator) Consume(col arrow.Array) error {
	return consumeFloats(col, func(v float64) {
		s.sum += v
		s.used = true
	})
}

func (s *sumAccumulator) AppendTo(b array.Builder) {
	appendFloatResult(b, s.sum, s.used)
}

type avgAccumulator struct {
	sum   float64
	count float64
}

func (a *avgAccumulator) Consume(col arrow.Array) error {
	return consumeFloats(col, func(v float64) {
		a.sum += v
		a.count++
	})
}

func (a *avgAccumulator) AppendTo(b array.Builder) {
	appendFloatResult(b, a.sum/a.count, a.count > 0)
}

type countAccumulator struct {
	count int64
}

func (c *countAccumulator) Consume(col arrow.Array) error {
	c.count += int64(col.Len() - col.NullN())
	return nil
}

func (c *countAccumulator) AppendTo(b array.Builder) {
	b.(*array.Int64Builder).Append(c.count)
}

// distinctCountAccumulator backs both count(DISTINCT x) and
// approx_distinct; at this scale exact counting is the approximation.
type distinctCountAccumulator struct {
	seen map[string]struct{}
}

func (d *distinctCountAccumulator) Consume(col arrow.Array) error {
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		d.seen[col.ValueStr(i)] = struct{}{}
	}
	return nil
}

func (d *distinctCountAccumulator) AppendTo(b array.Builder) {
	b.(*array.Int64Builder).Append(int64(len(d.seen)))
}

// distinctFilter drops rows whose value was already seen before handing
// the column to the wrapped accumulator.
type distinctFilter struct {
	inner Accumulator
	seen  map[string]struct{}
}

func (d *distinctFilter) Consume(col arrow.Array) error {
	maskBuilder := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer maskBuilder.Release()
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			maskBuilder.Append(false)
			continue
		}
		key := col.ValueStr(i)
		if _, dup := d.seen[key]; dup {
			maskBuilder.Append(false)
			continue
		}
		d.seen[key] = struct{}{}
		maskBuilder.Append(true)
	}
	mask := maskBuilder.NewBooleanArray()
	defer mask.Release()
	filtered, err := operators.ApplyBooleanMask(col, mask)
	if err != nil {
		return err
	}
	defer filtered.Release()
	return d.inner.Consume(filtered)
}

func (d *distinctFilter) AppendTo(b array.Builder) {
	d.inner.AppendTo(b)
}

func consumeFloats(col arrow.Array, fn func(float64)) error {
	casted, err := castArrayToFloat64(col)
	if err != nil {
		return err
	}
	defer casted.Release()
	values := casted.(*array.Float64)
	for i := 0; i < values.Len(); i++ {
		if values.IsNull(i) {
			continue
		}
		fn(values.Value(i))
	}
	return nil
}

func appendFloatResult(b array.Builder, v float64, used bool) {
	if !used {
		b.AppendNull()
		return
	}
	b.(*array.Float64Builder).Append(v)
}

func castArrayToFloat64(arr arrow.Array) (arrow.Array, error) {
	return compute.CastArray(context.TODO(), arr, compute.NewCastOptions(&arrow.Float64Type{}, true))
}

func validAggrType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}
