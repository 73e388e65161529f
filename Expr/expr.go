package Expr

import (
	"context"
	"fmt"
	"strings"

	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedExpression = func(info string) error {
		return fmt.Errorf("unsupported expression passed to EvalExpression: %s", info)
	}
	ErrCantCompareDifferentTypes = func(leftType, rightType arrow.DataType) error {
		return fmt.Errorf("cannot compare different data types: %s and %s", leftType, rightType)
	}
	ErrUnknownColumn = func(name string) error {
		return fmt.Errorf("unknown column %q", name)
	}
)

type binaryOperator int

const (
	// arithmetic
	Addition       binaryOperator = 1
	Subtraction    binaryOperator = 2
	Multiplication binaryOperator = 3
	Division       binaryOperator = 4
	// comparison
	Equal              binaryOperator = 6
	NotEqual           binaryOperator = 7
	LessThan           binaryOperator = 8
	LessThanOrEqual    binaryOperator = 9
	GreaterThan        binaryOperator = 10
	GreaterThanOrEqual binaryOperator = 11
	// logical
	And binaryOperator = 12
	Or  binaryOperator = 13
)

var (
	_ = (Expression)(&Alias{})
	_ = (Expression)(&ColumnResolve{})
	_ = (Expression)(&LiteralResolve{})
	_ = (Expression)(&BinaryExpr{})
	_ = (Expression)(&ScalarCall{})
	_ = (Expression)(&AggregateCall{})
	_ = (Expression)(&WindowCall{})
	_ = (Expression)(&SortSpec{})
	_ = (Expression)(&InListExpr{})
)

// Expression is one node of an immutable expression tree. Nodes never share
// mutable state; a tree can be referenced from many plans at once.
type Expression interface {
	// empty method, only for the sake of polymorphism
	ExprNode()
	fmt.Stringer
}

func NewExpressions(exprs ...Expression) []Expression {
	return exprs
}

// EvalExpression resolves a scalar expression against one batch. Aggregate,
// window and sort nodes are handled by dedicated operators and are rejected
// here.
func EvalExpression(expr Expression, batch *operators.RecordBatch) (arrow.Array, error) {
	switch e := expr.(type) {
	case *Alias:
		return EvalExpression(e.Expr, batch)
	case *ColumnResolve:
		return EvalColumn(e, batch)
	case *LiteralResolve:
		return EvalLiteral(e, batch)
	case *BinaryExpr:
		return EvalBinary(e, batch)
	case *ScalarCall:
		return evalScalarCall(e, batch)
	case *InListExpr:
		return evalInList(e, batch)
	default:
		return nil, ErrUnsupportedExpression(expr.String())
	}
}

// ExprDataType derives the output type of an expression given an input
// schema, without evaluating anything.
func ExprDataType(e Expression, inputSchema *arrow.Schema) (arrow.DataType, error) {
	switch ex := e.(type) {
	case *LiteralResolve:
		return ex.Type, nil
	case *ColumnResolve:
		idx := inputSchema.FieldIndices(ex.Name)
		if len(idx) == 0 {
			return nil, ErrUnknownColumn(ex.Name)
		}
		return inputSchema.Field(idx[0]).Type, nil
	case *Alias:
		// alias does NOT change type
		return ExprDataType(ex.Expr, inputSchema)
	case *BinaryExpr:
		leftType, err := ExprDataType(ex.Left, inputSchema)
		if err != nil {
			return nil, err
		}
		rightType, err := ExprDataType(ex.Right, inputSchema)
		if err != nil {
			return nil, err
		}
		return inferBinaryType(leftType, ex.Op, rightType), nil
	case *ScalarCall:
		return scalarCallType(ex, inputSchema)
	case *AggregateCall:
		switch ex.Fn {
		case AggrCount, AggrApproxDistinct:
			return arrow.PrimitiveTypes.Int64, nil
		default:
			return arrow.PrimitiveTypes.Float64, nil
		}
	case *WindowCall:
		return windowCallType(ex, inputSchema)
	case *SortSpec:
		return ExprDataType(ex.Expr, inputSchema)
	case *InListExpr:
		if _, err := ExprDataType(ex.Expr, inputSchema); err != nil {
			return nil, err
		}
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return nil, ErrUnsupportedExpression(ex.String())
	}
}

// OutputName is the field name an expression contributes to a derived
// schema. Aliases win; bare columns keep their name; everything else uses
// its display form.
func OutputName(e Expression) string {
	switch ex := e.(type) {
	case *Alias:
		return ex.Name
	case *ColumnResolve:
		return ex.Name
	case *SortSpec:
		return OutputName(ex.Expr)
	default:
		return e.String()
	}
}

/*
Alias | sql: select col1 as new_name from table_source
updates the column name in the output schema.
*/
type Alias struct {
	Expr Expression
	Name string
}

func NewAlias(expr Expression, name string) *Alias {
	return &Alias{Expr: expr, Name: name}
}

func (a *Alias) ExprNode() {}
func (a *Alias) String() string {
	return fmt.Sprintf("%s AS %s", a.Expr, a.Name)
}

// resolves the arrow array corresponding to name passed in
type ColumnResolve struct {
	Name string
}

func NewColumnResolve(name string) *ColumnResolve {
	return &ColumnResolve{Name: name}
}

// Col is shorthand for NewColumnResolve.
func Col(name string) *ColumnResolve { return NewColumnResolve(name) }

func EvalColumn(c *ColumnResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	// schema and columns are always aligned
	for i, f := range batch.Schema.Fields() {
		if f.Name == c.Name {
			col := batch.Columns[i]
			col.Retain()
			return col, nil
		}
	}
	return nil, ErrUnknownColumn(c.Name)
}

func (c *ColumnResolve) ExprNode() {}
func (c *ColumnResolve) String() string {
	return c.Name
}

// Evaluates to a column of length = batch-size, filled with this literal.
type LiteralResolve struct {
	Type  arrow.DataType
	Value any
}

func NewLiteralResolve(Type arrow.DataType, Value any) *LiteralResolve {
	var castVal any
	switch v := Value.(type) {
	case int:
		switch Type.ID() {
		case arrow.INT8:
			castVal = int8(v)
		case arrow.INT16:
			castVal = int16(v)
		case arrow.INT32:
			castVal = int32(v)
		case arrow.INT64:
			castVal = int64(v)
		case arrow.UINT8:
			castVal = uint8(v)
		case arrow.UINT16:
			castVal = uint16(v)
		case arrow.UINT32:
			castVal = uint32(v)
		case arrow.UINT64:
			castVal = uint64(v)
		default:
			castVal = v
		}
	case float64:
		switch Type.ID() {
		case arrow.FLOAT32:
			castVal = float32(v)
		default:
			castVal = v
		}
	default:
		castVal = Value
	}
	return &LiteralResolve{Type: Type, Value: castVal}
}

// Lit infers the arrow type from the Go value.
func Lit(value any) *LiteralResolve {
	switch value.(type) {
	case int, int64:
		return NewLiteralResolve(arrow.PrimitiveTypes.Int64, value)
	case int32:
		return NewLiteralResolve(arrow.PrimitiveTypes.Int32, value)
	case float64:
		return NewLiteralResolve(arrow.PrimitiveTypes.Float64, value)
	case float32:
		return NewLiteralResolve(arrow.PrimitiveTypes.Float32, value)
	case string:
		return NewLiteralResolve(arrow.BinaryTypes.String, value)
	case bool:
		return NewLiteralResolve(arrow.FixedWidthTypes.Boolean, value)
	case []byte:
		return NewLiteralResolve(arrow.BinaryTypes.Binary, value)
	default:
		return NewLiteralResolve(arrow.Null, value)
	}
}

func EvalLiteral(l *LiteralResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	n := int(batch.RowCount)
	mem := memory.DefaultAllocator

	switch l.Type.ID() {
	case arrow.BOOL:
		v := l.Value.(bool)
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.INT8:
		v := l.Value.(int8)
		b := array.NewInt8Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.INT16:
		v := l.Value.(int16)
		b := array.NewInt16Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.INT32:
		v := l.Value.(int32)
		b := array.NewInt32Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.INT64:
		v := l.Value.(int64)
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.UINT8:
		v := l.Value.(uint8)
		b := array.NewUint8Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.UINT16:
		v := l.Value.(uint16)
		b := array.NewUint16Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.UINT32:
		v := l.Value.(uint32)
		b := array.NewUint32Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.UINT64:
		v := l.Value.(uint64)
		b := array.NewUint64Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.FLOAT32:
		v := l.Value.(float32)
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		v := l.Value.(float64)
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.STRING:
		v := l.Value.(string)
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.BINARY:
		v := l.Value.([]byte)
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.NULL:
		b := array.NewNullBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.AppendNull()
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("literal type %s not supported", l.Type)
	}
}

func (l *LiteralResolve) ExprNode() {}
func (l *LiteralResolve) String() string {
	return fmt.Sprintf("%v", l.Value)
}

type BinaryExpr struct {
	Left  Expression
	Op    binaryOperator
	Right Expression
}

func NewBinaryExpr(left Expression, op binaryOperator, right Expression) *BinaryExpr {
	return &BinaryExpr{Left: left, Op: op, Right: right}
}

func EvalBinary(b *BinaryExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	leftArr, err := EvalExpression(b.Left, batch)
	if err != nil {
		return nil, err
	}
	rightArr, err := EvalExpression(b.Right, batch)
	if err != nil {
		return nil, err
	}
	ctx := context.TODO()
	opt := compute.ArithmeticOptions{}
	switch b.Op {
	case Addition:
		datum, err := compute.Add(ctx, opt, compute.NewDatum(leftArr), compute.NewDatum(rightArr))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case Subtraction:
		datum, err := compute.Subtract(ctx, opt, compute.NewDatum(leftArr), compute.NewDatum(rightArr))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case Multiplication:
		datum, err := compute.Multiply(ctx, opt, compute.NewDatum(leftArr), compute.NewDatum(rightArr))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case Division:
		datum, err := compute.Divide(ctx, opt, compute.NewDatum(leftArr), compute.NewDatum(rightArr))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual, And, Or:
		if !arrow.TypeEqual(leftArr.DataType(), rightArr.DataType()) {
			return nil, ErrCantCompareDifferentTypes(leftArr.DataType(), rightArr.DataType())
		}
		datum, err := compute.CallFunction(ctx, kernelForOp(b.Op), compute.DefaultFilterOptions(), compute.NewDatum(leftArr), compute.NewDatum(rightArr))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)
	}
	return nil, fmt.Errorf("binary operator %d not supported", b.Op)
}

func kernelForOp(op binaryOperator) string {
	switch op {
	case Equal:
		return "equal"
	case NotEqual:
		return "not_equal"
	case LessThan:
		return "less"
	case LessThanOrEqual:
		return "less_equal"
	case GreaterThan:
		return "greater"
	case GreaterThanOrEqual:
		return "greater_equal"
	case And:
		return "and"
	case Or:
		return "or"
	default:
		return ""
	}
}

func (b *BinaryExpr) ExprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("%s %s %s", b.Left, opSymbol(b.Op), b.Right)
}

func opSymbol(op binaryOperator) string {
	switch op {
	case Addition:
		return "+"
	case Subtraction:
		return "-"
	case Multiplication:
		return "*"
	case Division:
		return "/"
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case And:
		return "AND"
	case Or:
		return "OR"
	default:
		return "?"
	}
}

func unpackDatum(d compute.Datum) (arrow.Array, error) {
	arr, ok := d.(*compute.ArrayDatum)
	if !ok {
		return nil, fmt.Errorf("datum %v is not of type array", d)
	}
	return arr.MakeArray(), nil
}

// SortSpec orders on an expression. Defaults are ascending with nulls
// first, matching OrderBy.
type SortSpec struct {
	Expr       Expression
	Ascending  bool
	NullsFirst bool
}

// OrderBy builds a SortSpec. options[0] overrides ascending, options[1]
// overrides nulls-first; both default to true.
func OrderBy(expr Expression, options ...bool) *SortSpec {
	asc, nullsFirst := true, true
	switch len(options) {
	case 1:
		asc = options[0]
	case 2:
		asc = options[0]
		nullsFirst = options[1]
	}
	return &SortSpec{
		Expr:       expr,
		Ascending:  asc,
		NullsFirst: nullsFirst,
	}
}

func (s *SortSpec) ExprNode() {}
func (s *SortSpec) String() string {
	dir := "DESC"
	if s.Ascending {
		dir = "ASC"
	}
	nulls := "NULLS LAST"
	if s.NullsFirst {
		nulls = "NULLS FIRST"
	}
	return fmt.Sprintf("%s %s %s", s.Expr, dir, nulls)
}

// SortSpecsOf coerces a mixed expression list into sort specs; bare
// expressions pick up the OrderBy defaults.
func SortSpecsOf(exprs []Expression) []*SortSpec {
	out := make([]*SortSpec, 0, len(exprs))
	for _, e := range exprs {
		if s, ok := e.(*SortSpec); ok {
			out = append(out, s)
			continue
		}
		out = append(out, OrderBy(e))
	}
	return out
}

// InListExpr is a membership test, optionally negated.
type InListExpr struct {
	Expr    Expression
	List    []Expression
	Negated bool
}

func InList(expr Expression, values []Expression, negated bool) *InListExpr {
	return &InListExpr{Expr: expr, List: values, Negated: negated}
}

func (in *InListExpr) ExprNode() {}
func (in *InListExpr) String() string {
	items := make([]string, len(in.List))
	for i, v := range in.List {
		items[i] = v.String()
	}
	not := ""
	if in.Negated {
		not = "NOT "
	}
	return fmt.Sprintf("%s %sIN (%s)", in.Expr, not, strings.Join(items, ", "))
}

func evalInList(in *InListExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	target, err := EvalExpression(in.Expr, batch)
	if err != nil {
		return nil, err
	}
	defer target.Release()

	members := make(map[string]struct{}, len(in.List))
	for _, v := range in.List {
		arr, err := EvalExpression(v, batch)
		if err != nil {
			return nil, err
		}
		if arr.Len() > 0 && !arr.IsNull(0) {
			members[arr.ValueStr(0)] = struct{}{}
		}
		arr.Release()
	}

	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < target.Len(); i++ {
		if target.IsNull(i) {
			b.AppendNull()
			continue
		}
		_, found := members[target.ValueStr(i)]
		if in.Negated {
			found = !found
		}
		b.Append(found)
	}
	return b.NewArray(), nil
}

func inferBinaryType(left arrow.DataType, op binaryOperator, right arrow.DataType) arrow.DataType {
	switch op {
	case Addition, Subtraction, Multiplication, Division:
		if arrow.TypeEqual(left, right) {
			return left
		}
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.FixedWidthTypes.Boolean
	}
}
