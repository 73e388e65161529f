package dataframe

import (
	"fmt"

	"arrowframe/Expr"
	"arrowframe/engine"
	"arrowframe/operators"
	"arrowframe/plan"
	"arrowframe/pretty"

	"github.com/apache/arrow/go/v17/arrow"
)

const defaultShowRows = 20

var (
	ErrInvalidIndexType = func(key any) error {
		return fmt.Errorf("DataFrame can only be indexed by string or []string, not %T", key)
	}
	ErrNegativeLimit = func(count int64) error {
		return fmt.Errorf("limit count must not be negative, got %d", count)
	}
)

// DataFrame is an immutable handle on a logical plan. Every operation
// derives a new frame; the receiver is never modified, so a frame can be
// branched into many downstream queries.
type DataFrame struct {
	plan plan.LogicalPlan
	eng  *engine.Engine
}

// New wraps an existing logical plan. Most callers want the From*
// constructors instead.
func New(p plan.LogicalPlan, eng *engine.Engine) *DataFrame {
	return &DataFrame{plan: p, eng: eng}
}

func (df *DataFrame) with(p plan.LogicalPlan) *DataFrame {
	return &DataFrame{plan: p, eng: df.eng}
}

// LogicalPlan exposes the underlying plan, mainly for inspection.
func (df *DataFrame) LogicalPlan() plan.LogicalPlan {
	return df.plan
}

// Schema derives the output schema without executing the plan.
func (df *DataFrame) Schema() (*arrow.Schema, error) {
	return df.plan.Schema()
}

// SelectColumns keeps only the named columns, in the order given.
func (df *DataFrame) SelectColumns(names ...string) (*DataFrame, error) {
	exprs := make([]Expr.Expression, len(names))
	for i, n := range names {
		exprs[i] = Expr.Col(n)
	}
	return df.Select(exprs...)
}

// Select projects arbitrary expressions. Window calls are lifted into a
// window node under the projection so the projection itself only sees
// their finished output columns.
func (df *DataFrame) Select(exprs ...Expr.Expression) (*DataFrame, error) {
	var calls []*Expr.WindowCall
	for _, e := range exprs {
		if w := windowCallOf(e); w != nil {
			calls = append(calls, w)
		}
	}
	input := df.plan
	projExprs := exprs
	if len(calls) > 0 {
		input = plan.NewWindow(input, calls)
		projExprs = make([]Expr.Expression, len(exprs))
		for i, e := range exprs {
			projExprs[i] = replaceWindowRef(e)
		}
	}
	p := plan.NewProjection(input, projExprs)
	if _, err := p.Schema(); err != nil {
		return nil, err
	}
	return df.with(p), nil
}

func windowCallOf(e Expr.Expression) *Expr.WindowCall {
	switch v := e.(type) {
	case *Expr.WindowCall:
		return v
	case *Expr.Alias:
		return windowCallOf(v.Expr)
	default:
		return nil
	}
}

func replaceWindowRef(e Expr.Expression) Expr.Expression {
	switch v := e.(type) {
	case *Expr.WindowCall:
		return Expr.Col(Expr.OutputName(v))
	case *Expr.Alias:
		if w, ok := v.Expr.(*Expr.WindowCall); ok {
			return Expr.NewAlias(Expr.Col(Expr.OutputName(w)), v.Name)
		}
		return e
	default:
		return e
	}
}

// Index mirrors container-style access: a string selects one column, a
// []string selects several. Anything else is a type error.
func (df *DataFrame) Index(key any) (*DataFrame, error) {
	switch k := key.(type) {
	case string:
		return df.SelectColumns(k)
	case []string:
		return df.SelectColumns(k...)
	default:
		return nil, ErrInvalidIndexType(key)
	}
}

// Filter keeps rows matching the predicate.
func (df *DataFrame) Filter(predicate Expr.Expression) (*DataFrame, error) {
	p := plan.NewFilter(df.plan, predicate)
	if _, err := p.Schema(); err != nil {
		return nil, err
	}
	return df.with(p), nil
}

// WithColumn adds a derived column, replacing any existing column of the
// same name in place.
func (df *DataFrame) WithColumn(name string, expr Expr.Expression) (*DataFrame, error) {
	schema, err := df.plan.Schema()
	if err != nil {
		return nil, err
	}
	aliased := Expr.NewAlias(expr, name)
	exprs := make([]Expr.Expression, 0, schema.NumFields()+1)
	replaced := false
	for i := 0; i < schema.NumFields(); i++ {
		f := schema.Field(i)
		if f.Name == name {
			exprs = append(exprs, aliased)
			replaced = true
			continue
		}
		exprs = append(exprs, Expr.Col(f.Name))
	}
	if !replaced {
		exprs = append(exprs, aliased)
	}
	return df.Select(exprs...)
}

// Aggregate groups by the given expressions (none means a single global
// group) and computes the aggregate calls.
func (df *DataFrame) Aggregate(groupBy []Expr.Expression, aggs []*Expr.AggregateCall) (*DataFrame, error) {
	p := plan.NewAggregate(df.plan, groupBy, aggs)
	if _, err := p.Schema(); err != nil {
		return nil, err
	}
	return df.with(p), nil
}

// Sort orders the frame by the given keys, defaults ascending with nulls
// first.
func (df *DataFrame) Sort(keys ...*Expr.SortSpec) (*DataFrame, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sort requires at least one key")
	}
	return df.with(plan.NewSort(df.plan, keys)), nil
}

// Limit bounds the frame to at most count rows from the start.
func (df *DataFrame) Limit(count int64) (*DataFrame, error) {
	if count < 0 {
		return nil, ErrNegativeLimit(count)
	}
	return df.with(plan.NewLimit(df.plan, uint64(count))), nil
}

// Collect executes the plan and blocks until every result batch is in.
func (df *DataFrame) Collect() ([]*operators.RecordBatch, error) {
	return df.eng.Collect(df.plan)
}

// Show prints the first rows as an ASCII table; the default is 20.
func (df *DataFrame) Show(num ...int) error {
	n := defaultShowRows
	if len(num) > 0 {
		n = num[0]
	}
	limited, err := df.Limit(int64(n))
	if err != nil {
		return err
	}
	batches, err := limited.Collect()
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		// an empty result still prints its header row
		schema, err := limited.Schema()
		if err != nil {
			return err
		}
		batches = []*operators.RecordBatch{operators.EmptyBatch(schema)}
	}
	return pretty.Print(batches)
}

// Explain prints the plan; analyze also executes it and reports stats.
func (df *DataFrame) Explain(verbose, analyze bool) error {
	batches, err := df.eng.Explain(df.plan, verbose, analyze)
	if err != nil {
		return err
	}
	return pretty.Print(batches)
}

// ExplainString is Explain rendered to a string instead of stdout.
func (df *DataFrame) ExplainString(verbose, analyze bool) (string, error) {
	batches, err := df.eng.Explain(df.plan, verbose, analyze)
	if err != nil {
		return "", err
	}
	return pretty.Format(batches)
}
