package Expr

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	ErrUnknownScalarFunction = func(name string) error {
		return fmt.Errorf("scalar function %q is not registered", name)
	}
	ErrUnresolvedWindowFunction = func(name string) error {
		return fmt.Errorf("window function %q does not exist or is not implemented", name)
	}
)

// returnKind is the registry's return-type policy for a scalar function.
type returnKind int

const (
	retSame returnKind = iota // same type as the first argument
	retFloat64
	retInt64
	retUtf8
	retBool
	retBinary
	retTimestamp
	retDate
	retTime
)

// ScalarSpec binds a host-facing function name to the engine kernel that
// executes it. One row per function keeps the mapping auditable; adding a
// function is a single new entry plus a thin constructor.
type ScalarSpec struct {
	Kernel   string
	Ret      returnKind
	Variadic bool
}

var ScalarRegistry = map[string]ScalarSpec{
	// math
	"abs":    {"abs", retSame, false},
	"acos":   {"acos", retFloat64, false},
	"asin":   {"asin", retFloat64, false},
	"atan":   {"atan", retFloat64, false},
	"atan2":  {"atan2", retFloat64, false},
	"ceil":   {"ceil", retFloat64, false},
	"cos":    {"cos", retFloat64, false},
	"exp":    {"exp", retFloat64, false},
	"floor":  {"floor", retFloat64, false},
	"ln":     {"ln", retFloat64, false},
	"log":    {"log", retFloat64, true},
	"log10":  {"log10", retFloat64, false},
	"log2":   {"log2", retFloat64, false},
	"power":  {"power", retFloat64, false},
	"pow":    {"power", retFloat64, false},
	"random": {"random", retFloat64, false},
	"round":  {"round", retSame, false},
	"signum": {"signum", retFloat64, false},
	"sin":    {"sin", retFloat64, false},
	"sqrt":   {"sqrt", retFloat64, false},
	"tan":    {"tan", retFloat64, false},
	"trunc":  {"trunc", retFloat64, false},

	// strings
	"ascii":            {"ascii", retInt64, false},
	"bit_length":       {"bit_length", retInt64, false},
	"btrim":            {"btrim", retUtf8, true},
	"character_length": {"character_length", retInt64, false},
	"length":           {"character_length", retInt64, false},
	"char_length":      {"character_length", retInt64, false},
	"chr":              {"chr", retUtf8, false},
	"coalesce":         {"coalesce", retSame, true},
	"concat":           {"concat", retUtf8, true},
	"concat_ws":        {"concat_ws", retUtf8, true},
	"initcap":          {"initcap", retUtf8, false},
	"left":             {"left", retUtf8, false},
	"lower":            {"lower", retUtf8, false},
	"lpad":             {"lpad", retUtf8, true},
	"ltrim":            {"ltrim", retUtf8, true},
	"octet_length":     {"octet_length", retInt64, false},
	"regexp_match":     {"regexp_match", retUtf8, false},
	"regexp_replace":   {"regexp_replace", retUtf8, true},
	"repeat":           {"repeat", retUtf8, false},
	"replace":          {"replace", retUtf8, false},
	"reverse":          {"reverse", retUtf8, false},
	"right":            {"right", retUtf8, false},
	"rpad":             {"rpad", retUtf8, true},
	"rtrim":            {"rtrim", retUtf8, true},
	"split_part":       {"split_part", retUtf8, false},
	"starts_with":      {"starts_with", retBool, false},
	"strpos":           {"strpos", retInt64, false},
	"substr":           {"substr", retUtf8, true},
	"to_hex":           {"to_hex", retUtf8, false},
	"translate":        {"translate", retUtf8, false},
	"trim":             {"trim", retUtf8, true},
	"upper":            {"upper", retUtf8, false},

	// hashing
	"md5":    {"md5", retUtf8, false},
	"sha224": {"sha224", retBinary, false},
	"sha256": {"sha256", retBinary, false},
	"sha384": {"sha384", retBinary, false},
	"sha512": {"sha512", retBinary, false},
	"digest": {"digest", retBinary, false},

	// date & time
	"now":                  {"now", retTimestamp, false},
	"to_timestamp":         {"to_timestamp", retTimestamp, false},
	"to_timestamp_millis":  {"to_timestamp_millis", retTimestamp, false},
	"to_timestamp_micros":  {"to_timestamp_micros", retTimestamp, false},
	"to_timestamp_seconds": {"to_timestamp_seconds", retTimestamp, false},
	"current_date":         {"current_date", retDate, false},
	"current_time":         {"current_time", retTime, false},
	"date_part":            {"date_part", retFloat64, false},
	"datepart":             {"date_part", retFloat64, false},
	"date_trunc":           {"date_trunc", retTimestamp, false},
	"datetrunc":            {"date_trunc", retTimestamp, false},
	"from_unixtime":        {"from_unixtime", retTimestamp, false},

	// misc
	"nullif":       {"nullif", retSame, false},
	"arrow_typeof": {"arrow_typeof", retUtf8, false},
}

// ScalarCall is a call of a registered scalar function. Kernel is the
// engine-side identifier; Name keeps the host-facing spelling for display.
type ScalarCall struct {
	Name   string
	Kernel string
	Args   []Expression
}

func (s *ScalarCall) ExprNode() {}
func (s *ScalarCall) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", s.Name, strings.Join(args, ", "))
}

// NewScalarCall looks a host-facing name up in the registry. Arity is not
// checked here; the engine rejects bad argument counts at evaluation time.
func NewScalarCall(name string, args ...Expression) (*ScalarCall, error) {
	spec, ok := ScalarRegistry[name]
	if !ok {
		return nil, ErrUnknownScalarFunction(name)
	}
	return &ScalarCall{Name: name, Kernel: spec.Kernel, Args: args}, nil
}

func mustScalar(name string, args []Expression) *ScalarCall {
	c, err := NewScalarCall(name, args...)
	if err != nil {
		// only reachable if a constructor names an unregistered function
		panic(err)
	}
	return c
}

func scalarCallType(c *ScalarCall, schema *arrow.Schema) (arrow.DataType, error) {
	spec, ok := ScalarRegistry[c.Name]
	if !ok {
		return nil, ErrUnknownScalarFunction(c.Name)
	}
	for _, a := range c.Args {
		if _, err := ExprDataType(a, schema); err != nil {
			return nil, err
		}
	}
	switch spec.Ret {
	case retFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case retInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case retUtf8:
		return arrow.BinaryTypes.String, nil
	case retBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case retBinary:
		return arrow.BinaryTypes.Binary, nil
	case retTimestamp:
		return arrow.FixedWidthTypes.Timestamp_ns, nil
	case retDate:
		return arrow.FixedWidthTypes.Date32, nil
	case retTime:
		return arrow.FixedWidthTypes.Time64ns, nil
	default:
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("%s: cannot infer type without arguments", c.Name)
		}
		return ExprDataType(c.Args[0], schema)
	}
}

// Scalar function constructors. Each is a thin wrapper over the registry so
// the host-facing name, the engine kernel and the return policy live in one
// table above.

func Abs(args ...Expression) Expression    { return mustScalar("abs", args) }
func Acos(args ...Expression) Expression   { return mustScalar("acos", args) }
func Asin(args ...Expression) Expression   { return mustScalar("asin", args) }
func Atan(args ...Expression) Expression   { return mustScalar("atan", args) }
func Atan2(args ...Expression) Expression  { return mustScalar("atan2", args) }
func Ceil(args ...Expression) Expression   { return mustScalar("ceil", args) }
func Cos(args ...Expression) Expression    { return mustScalar("cos", args) }
func Exp(args ...Expression) Expression    { return mustScalar("exp", args) }
func Floor(args ...Expression) Expression  { return mustScalar("floor", args) }
func Ln(args ...Expression) Expression     { return mustScalar("ln", args) }
func Log(args ...Expression) Expression    { return mustScalar("log", args) }
func Log10(args ...Expression) Expression  { return mustScalar("log10", args) }
func Log2(args ...Expression) Expression   { return mustScalar("log2", args) }
func Power(args ...Expression) Expression  { return mustScalar("power", args) }
func Pow(args ...Expression) Expression    { return mustScalar("pow", args) }
func Random(args ...Expression) Expression { return mustScalar("random", args) }
func Round(args ...Expression) Expression  { return mustScalar("round", args) }
func Signum(args ...Expression) Expression { return mustScalar("signum", args) }
func Sin(args ...Expression) Expression    { return mustScalar("sin", args) }
func Sqrt(args ...Expression) Expression   { return mustScalar("sqrt", args) }
func Tan(args ...Expression) Expression    { return mustScalar("tan", args) }
func Trunc(args ...Expression) Expression  { return mustScalar("trunc", args) }

func Ascii(args ...Expression) Expression           { return mustScalar("ascii", args) }
func BitLength(args ...Expression) Expression       { return mustScalar("bit_length", args) }
func Btrim(args ...Expression) Expression           { return mustScalar("btrim", args) }
func CharacterLength(args ...Expression) Expression { return mustScalar("character_length", args) }
func Length(args ...Expression) Expression          { return mustScalar("length", args) }
func CharLength(args ...Expression) Expression      { return mustScalar("char_length", args) }
func Chr(args ...Expression) Expression             { return mustScalar("chr", args) }
func Coalesce(args ...Expression) Expression        { return mustScalar("coalesce", args) }
func InitCap(args ...Expression) Expression         { return mustScalar("initcap", args) }
func Left(args ...Expression) Expression            { return mustScalar("left", args) }
func Lower(args ...Expression) Expression           { return mustScalar("lower", args) }
func Lpad(args ...Expression) Expression            { return mustScalar("lpad", args) }
func Ltrim(args ...Expression) Expression           { return mustScalar("ltrim", args) }
func OctetLength(args ...Expression) Expression     { return mustScalar("octet_length", args) }
func RegexpMatch(args ...Expression) Expression     { return mustScalar("regexp_match", args) }
func RegexpReplace(args ...Expression) Expression   { return mustScalar("regexp_replace", args) }
func Repeat(args ...Expression) Expression          { return mustScalar("repeat", args) }
func Replace(args ...Expression) Expression         { return mustScalar("replace", args) }
func Reverse(args ...Expression) Expression         { return mustScalar("reverse", args) }
func Right(args ...Expression) Expression           { return mustScalar("right", args) }
func Rpad(args ...Expression) Expression            { return mustScalar("rpad", args) }
func Rtrim(args ...Expression) Expression           { return mustScalar("rtrim", args) }
func SplitPart(args ...Expression) Expression       { return mustScalar("split_part", args) }
func StartsWith(args ...Expression) Expression      { return mustScalar("starts_with", args) }
func Strpos(args ...Expression) Expression          { return mustScalar("strpos", args) }
func Substr(args ...Expression) Expression          { return mustScalar("substr", args) }
func ToHex(args ...Expression) Expression           { return mustScalar("to_hex", args) }
func Translate(args ...Expression) Expression       { return mustScalar("translate", args) }
func Trim(args ...Expression) Expression            { return mustScalar("trim", args) }
func Upper(args ...Expression) Expression           { return mustScalar("upper", args) }

func MD5(args ...Expression) Expression    { return mustScalar("md5", args) }
func SHA224(args ...Expression) Expression { return mustScalar("sha224", args) }
func SHA256(args ...Expression) Expression { return mustScalar("sha256", args) }
func SHA384(args ...Expression) Expression { return mustScalar("sha384", args) }
func SHA512(args ...Expression) Expression { return mustScalar("sha512", args) }

func Now(args ...Expression) Expression                { return mustScalar("now", args) }
func ToTimestamp(args ...Expression) Expression        { return mustScalar("to_timestamp", args) }
func ToTimestampMillis(args ...Expression) Expression  { return mustScalar("to_timestamp_millis", args) }
func ToTimestampMicros(args ...Expression) Expression  { return mustScalar("to_timestamp_micros", args) }
func ToTimestampSeconds(args ...Expression) Expression { return mustScalar("to_timestamp_seconds", args) }
func CurrentDate(args ...Expression) Expression        { return mustScalar("current_date", args) }
func CurrentTime(args ...Expression) Expression        { return mustScalar("current_time", args) }
func DatePart(args ...Expression) Expression           { return mustScalar("date_part", args) }
func Datepart(args ...Expression) Expression           { return mustScalar("datepart", args) }
func DateTrunc(args ...Expression) Expression          { return mustScalar("date_trunc", args) }
func Datetrunc(args ...Expression) Expression          { return mustScalar("datetrunc", args) }
func FromUnixtime(args ...Expression) Expression       { return mustScalar("from_unixtime", args) }

func NullIf(args ...Expression) Expression      { return mustScalar("nullif", args) }
func ArrowTypeof(args ...Expression) Expression { return mustScalar("arrow_typeof", args) }

// Digest computes a binary hash of value. method names the algorithm:
// md5, sha224, sha256, sha384, sha512, blake2s, blake2b or blake3.
func Digest(value, method Expression) Expression {
	return mustScalar("digest", []Expression{value, method})
}

// Concat concatenates the text representations of all arguments; NULL
// arguments are ignored.
func Concat(args ...Expression) Expression {
	return mustScalar("concat", args)
}

// ConcatWS concatenates all but the first argument with separators. The
// separator is carried as a literal and should not be NULL.
func ConcatWS(sep string, args ...Expression) Expression {
	all := append([]Expression{Lit(sep)}, args...)
	return mustScalar("concat_ws", all)
}

// AggrFunc identifies an engine aggregate function.
type AggrFunc int

const (
	AggrAvg AggrFunc = iota
	AggrCount
	AggrMax
	AggrMin
	AggrSum
	AggrApproxDistinct
)

func (a AggrFunc) String() string {
	switch a {
	case AggrAvg:
		return "avg"
	case AggrCount:
		return "count"
	case AggrMax:
		return "max"
	case AggrMin:
		return "min"
	case AggrSum:
		return "sum"
	case AggrApproxDistinct:
		return "approx_distinct"
	default:
		return "unknown_aggregate"
	}
}

// AggregateCall reduces its arguments with an aggregate function.
type AggregateCall struct {
	Fn       AggrFunc
	Args     []Expression
	Distinct bool
}

func NewAggregateCall(fn AggrFunc, args []Expression, distinct bool) *AggregateCall {
	return &AggregateCall{Fn: fn, Args: args, Distinct: distinct}
}

func (a *AggregateCall) ExprNode() {}
func (a *AggregateCall) String() string {
	args := make([]string, len(a.Args))
	for i, arg := range a.Args {
		args[i] = arg.String()
	}
	if a.Distinct {
		return fmt.Sprintf("%s(DISTINCT %s)", a.Fn, strings.Join(args, ", "))
	}
	return fmt.Sprintf("%s(%s)", a.Fn, strings.Join(args, ", "))
}

// Aggregate constructors. The trailing variadic bool is the distinct flag,
// defaulting to false, mirroring OrderBy's option style.

func aggrDistinct(opts []bool) bool { return len(opts) > 0 && opts[0] }

func Avg(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrAvg, args, aggrDistinct(distinct))
}
func Count(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrCount, args, aggrDistinct(distinct))
}
func Max(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrMax, args, aggrDistinct(distinct))
}
func Min(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrMin, args, aggrDistinct(distinct))
}
func Sum(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrSum, args, aggrDistinct(distinct))
}
func ApproxDistinct(args []Expression, distinct ...bool) Expression {
	return NewAggregateCall(AggrApproxDistinct, args, aggrDistinct(distinct))
}

// Window frames. The default frame shape depends on whether an order-by
// list was supplied, matching standard SQL window semantics.

type FrameUnits int

const (
	FrameRows FrameUnits = iota
	FrameRange
)

type FrameBound int

const (
	UnboundedPreceding FrameBound = iota
	CurrentRow
	UnboundedFollowing
)

type WindowFrame struct {
	Units FrameUnits
	Start FrameBound
	End   FrameBound
}

func NewWindowFrame(hasOrderBy bool) WindowFrame {
	if hasOrderBy {
		return WindowFrame{Units: FrameRange, Start: UnboundedPreceding, End: CurrentRow}
	}
	return WindowFrame{Units: FrameRows, Start: UnboundedPreceding, End: UnboundedFollowing}
}

// windowFunctions is the fixed name table Window resolves against.
var windowFunctions = map[string]struct{}{
	"row_number":   {},
	"rank":         {},
	"dense_rank":   {},
	"percent_rank": {},
	"cume_dist":    {},
	"ntile":        {},
	"lag":          {},
	"lead":         {},
	"first_value":  {},
	"last_value":   {},
	"nth_value":    {},
}

// WindowCall applies a window function over partitions of the input.
type WindowCall struct {
	Name        string
	Args        []Expression
	PartitionBy []Expression
	OrderBy     []*SortSpec
	Frame       WindowFrame
}

// Window resolves name against the window-function table and builds the
// call. Unknown names fail immediately.
func Window(name string, args, partitionBy, orderBy []Expression) (*WindowCall, error) {
	if _, ok := windowFunctions[name]; !ok {
		return nil, ErrUnresolvedWindowFunction(name)
	}
	return &WindowCall{
		Name:        name,
		Args:        args,
		PartitionBy: partitionBy,
		OrderBy:     SortSpecsOf(orderBy),
		Frame:       NewWindowFrame(len(orderBy) > 0),
	}, nil
}

func (w *WindowCall) ExprNode() {}
func (w *WindowCall) String() string {
	args := make([]string, len(w.Args))
	for i, a := range w.Args {
		args[i] = a.String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) OVER (", w.Name, strings.Join(args, ", "))
	if len(w.PartitionBy) > 0 {
		parts := make([]string, len(w.PartitionBy))
		for i, p := range w.PartitionBy {
			parts[i] = p.String()
		}
		fmt.Fprintf(&b, "PARTITION BY %s", strings.Join(parts, ", "))
	}
	if len(w.OrderBy) > 0 {
		if len(w.PartitionBy) > 0 {
			b.WriteByte(' ')
		}
		keys := make([]string, len(w.OrderBy))
		for i, k := range w.OrderBy {
			keys[i] = k.String()
		}
		fmt.Fprintf(&b, "ORDER BY %s", strings.Join(keys, ", "))
	}
	b.WriteByte(')')
	return b.String()
}

func windowCallType(w *WindowCall, schema *arrow.Schema) (arrow.DataType, error) {
	switch w.Name {
	case "row_number", "rank", "dense_rank", "ntile":
		return arrow.PrimitiveTypes.Int64, nil
	case "percent_rank", "cume_dist":
		return arrow.PrimitiveTypes.Float64, nil
	default:
		// value functions carry their argument's type
		if len(w.Args) == 0 {
			return nil, fmt.Errorf("%s requires at least one argument", w.Name)
		}
		return ExprDataType(w.Args[0], schema)
	}
}
