package plan

import (
	"fmt"
	"strings"

	"arrowframe/Expr"
	"arrowframe/operators"
	join "arrowframe/operators/Join"
	"arrowframe/operators/aggr"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	ErrEmptyPlan = func(op string) error {
		return fmt.Errorf("%s requires a non-empty input plan", op)
	}
)

// LogicalPlan is an immutable description of a computation. Nodes only
// reference their children, never parents, so subtrees are freely shared
// between derived plans.
type LogicalPlan interface {
	// Schema derives the node's output schema without executing anything.
	Schema() (*arrow.Schema, error)
	Children() []LogicalPlan
	fmt.Stringer
}

// SourceFactory builds a fresh physical source operator. Plans are
// re-executable, so every execution needs its own operator instance.
type SourceFactory func() (operators.Operator, error)

type Scan struct {
	Name      string
	TableRef  *arrow.Schema
	NewSource SourceFactory
}

func NewScan(name string, schema *arrow.Schema, factory SourceFactory) *Scan {
	return &Scan{Name: name, TableRef: schema, NewSource: factory}
}

func (s *Scan) Schema() (*arrow.Schema, error) { return s.TableRef, nil }
func (s *Scan) Children() []LogicalPlan        { return nil }
func (s *Scan) String() string {
	return fmt.Sprintf("Scan: %s", s.Name)
}

type Projection struct {
	Input LogicalPlan
	Exprs []Expr.Expression
}

func NewProjection(input LogicalPlan, exprs []Expr.Expression) *Projection {
	return &Projection{Input: input, Exprs: exprs}
}

func (p *Projection) Schema() (*arrow.Schema, error) {
	in, err := p.Input.Schema()
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(p.Exprs))
	for i, e := range p.Exprs {
		dt, err := Expr.ExprDataType(e, in)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: Expr.OutputName(e), Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func (p *Projection) Children() []LogicalPlan { return []LogicalPlan{p.Input} }
func (p *Projection) String() string {
	return fmt.Sprintf("Projection: %s", exprList(p.Exprs))
}

type Filter struct {
	Input     LogicalPlan
	Predicate Expr.Expression
}

func NewFilter(input LogicalPlan, predicate Expr.Expression) *Filter {
	return &Filter{Input: input, Predicate: predicate}
}

func (f *Filter) Schema() (*arrow.Schema, error) { return f.Input.Schema() }
func (f *Filter) Children() []LogicalPlan        { return []LogicalPlan{f.Input} }
func (f *Filter) String() string {
	return fmt.Sprintf("Filter: %s", f.Predicate)
}

type Window struct {
	Input LogicalPlan
	Calls []*Expr.WindowCall
}

func NewWindow(input LogicalPlan, calls []*Expr.WindowCall) *Window {
	return &Window{Input: input, Calls: calls}
}

func (w *Window) Schema() (*arrow.Schema, error) {
	in, err := w.Input.Schema()
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, 0, in.NumFields()+len(w.Calls))
	fields = append(fields, in.Fields()...)
	for _, call := range w.Calls {
		dt, err := Expr.ExprDataType(call, in)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: Expr.OutputName(call), Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

func (w *Window) Children() []LogicalPlan { return []LogicalPlan{w.Input} }
func (w *Window) String() string {
	names := make([]string, len(w.Calls))
	for i, c := range w.Calls {
		names[i] = c.String()
	}
	return fmt.Sprintf("Window: %s", strings.Join(names, ", "))
}

type Aggregate struct {
	Input      LogicalPlan
	GroupBy    []Expr.Expression
	Aggregates []*Expr.AggregateCall
}

func NewAggregate(input LogicalPlan, groupBy []Expr.Expression, aggregates []*Expr.AggregateCall) *Aggregate {
	return &Aggregate{Input: input, GroupBy: groupBy, Aggregates: aggregates}
}

func (a *Aggregate) Schema() (*arrow.Schema, error) {
	in, err := a.Input.Schema()
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, 0, len(a.GroupBy)+len(a.Aggregates))
	for _, e := range a.GroupBy {
		dt, err := Expr.ExprDataType(e, in)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: Expr.OutputName(e), Type: dt, Nullable: true})
	}
	for _, call := range a.Aggregates {
		fields = append(fields, arrow.Field{
			Name:     Expr.OutputName(call),
			Type:     aggr.AccumulatorType(call),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

func (a *Aggregate) Children() []LogicalPlan { return []LogicalPlan{a.Input} }
func (a *Aggregate) String() string {
	calls := make([]string, len(a.Aggregates))
	for i, c := range a.Aggregates {
		calls[i] = c.String()
	}
	return fmt.Sprintf("Aggregate: groupBy=[%s], aggr=[%s]", exprList(a.GroupBy), strings.Join(calls, ", "))
}

type Sort struct {
	Input LogicalPlan
	Keys  []*Expr.SortSpec
}

func NewSort(input LogicalPlan, keys []*Expr.SortSpec) *Sort {
	return &Sort{Input: input, Keys: keys}
}

func (s *Sort) Schema() (*arrow.Schema, error) { return s.Input.Schema() }
func (s *Sort) Children() []LogicalPlan        { return []LogicalPlan{s.Input} }
func (s *Sort) String() string {
	keys := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("Sort: %s", strings.Join(keys, ", "))
}

type Limit struct {
	Input LogicalPlan
	Count uint64
}

func NewLimit(input LogicalPlan, count uint64) *Limit {
	return &Limit{Input: input, Count: count}
}

func (l *Limit) Schema() (*arrow.Schema, error) { return l.Input.Schema() }
func (l *Limit) Children() []LogicalPlan        { return []LogicalPlan{l.Input} }
func (l *Limit) String() string {
	return fmt.Sprintf("Limit: count=%d", l.Count)
}

type Join struct {
	Left      LogicalPlan
	Right     LogicalPlan
	LeftKeys  []string
	RightKeys []string
	How       join.JoinType
}

func NewJoin(left, right LogicalPlan, leftKeys, rightKeys []string, how join.JoinType) *Join {
	return &Join{
		Left:      left,
		Right:     right,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		How:       how,
	}
}

func (j *Join) Schema() (*arrow.Schema, error) {
	left, err := j.Left.Schema()
	if err != nil {
		return nil, err
	}
	right, err := j.Right.Schema()
	if err != nil {
		return nil, err
	}
	return join.JoinedSchema(left, right, j.How), nil
}

func (j *Join) Children() []LogicalPlan { return []LogicalPlan{j.Left, j.Right} }
func (j *Join) String() string {
	pairs := make([]string, 0, len(j.LeftKeys))
	n := len(j.LeftKeys)
	if len(j.RightKeys) < n {
		n = len(j.RightKeys)
	}
	for i := 0; i < n; i++ {
		pairs = append(pairs, fmt.Sprintf("%s = %s", j.LeftKeys[i], j.RightKeys[i]))
	}
	return fmt.Sprintf("%s: on=[%s]", j.How, strings.Join(pairs, ", "))
}

// Format renders a plan as an indented tree, the way explain output
// shows it. Verbose adds each node's derived schema.
func Format(p LogicalPlan, verbose bool) string {
	var b strings.Builder
	formatInto(&b, p, 0, verbose)
	return b.String()
}

func formatInto(b *strings.Builder, p LogicalPlan, depth int, verbose bool) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.String())
	if verbose {
		if schema, err := p.Schema(); err == nil {
			fmt.Fprintf(b, " [%s]", schemaFields(schema))
		}
	}
	b.WriteByte('\n')
	for _, child := range p.Children() {
		formatInto(b, child, depth+1, verbose)
	}
}

func schemaFields(s *arrow.Schema) string {
	parts := make([]string, s.NumFields())
	for i := 0; i < s.NumFields(); i++ {
		f := s.Field(i)
		parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Type)
	}
	return strings.Join(parts, ", ")
}

func exprList(exprs []Expr.Expression) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
