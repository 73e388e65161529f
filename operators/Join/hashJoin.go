package join

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"arrowframe/Expr"
	"arrowframe/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidJoinClauseCount = func(l, r int) error {
		return fmt.Errorf("mismatched number of join expressions between left and right, left: %d vs right: %d", l, r)
	}
)

var (
	_ = (operators.Operator)(&HashJoinExec{})
)

type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
	LeftSemiJoin
	LeftAntiJoin
	RightSemiJoin
)

func (j JoinType) String() string {
	switch j {
	case InnerJoin:
		return "INNER JOIN"
	case LeftJoin:
		return "LEFT JOIN"
	case RightJoin:
		return "RIGHT JOIN"
	case FullJoin:
		return "FULL JOIN"
	case LeftSemiJoin:
		return "LEFT SEMI JOIN"
	case LeftAntiJoin:
		return "LEFT ANTI JOIN"
	case RightSemiJoin:
		return "RIGHT SEMI JOIN"
	default:
		return "UNKNOWN JOIN TYPE"
	}
}

// JoinClause pairs equality expressions positionally.
// Example: JOIN t2 ON t1.region = t2.region AND t1.city = t2.city
type JoinClause struct {
	leftS  []Expr.Expression
	rightS []Expr.Expression
}

func NewJoinClause(leftS, rightS []Expr.Expression) JoinClause {
	return JoinClause{
		leftS:  leftS,
		rightS: rightS,
	}
}

func (j *JoinClause) String() string {
	var b bytes.Buffer
	n := len(j.leftS)
	if len(j.rightS) < n {
		n = len(j.rightS)
	}
	for i := 0; i < n; i++ {
		b.WriteString(j.leftS[i].String())
		b.WriteString(" = ")
		b.WriteString(j.rightS[i].String())
		if i < n-1 {
			b.WriteString(" AND ")
		}
	}
	return b.String()
}

// HashJoinExec builds a hash table over the right input's key columns and
// probes it with the left. Everything is materialized: join is a pipeline
// breaker and produces its whole output on the first Next.
type HashJoinExec struct {
	leftSource  operators.Operator
	rightSource operators.Operator
	clause      JoinClause
	joinType    JoinType
	schema      *arrow.Schema
	done        bool
}

func NewHashJoinExec(left, right operators.Operator, clause JoinClause, joinType JoinType) (*HashJoinExec, error) {
	if len(clause.leftS) != len(clause.rightS) {
		return nil, ErrInvalidJoinClauseCount(len(clause.leftS), len(clause.rightS))
	}
	schema := JoinedSchema(left.Schema(), right.Schema(), joinType)
	return &HashJoinExec{
		leftSource:  left,
		rightSource: right,
		clause:      clause,
		joinType:    joinType,
		schema:      schema,
	}, nil
}

// JoinedSchema is the output schema a join of this type will produce.
// Semi and anti joins only ever carry one side's columns.
func JoinedSchema(left, right *arrow.Schema, how JoinType) *arrow.Schema {
	switch how {
	case LeftSemiJoin, LeftAntiJoin:
		return left
	case RightSemiJoin:
		return right
	default:
		return joinSchemas(left, right)
	}
}

// joinSchemas concatenates both sides, prefixing any colliding column name
// with left_ / right_.
func joinSchemas(left, right *arrow.Schema) *arrow.Schema {
	fields := []arrow.Field{}
	leftNames := map[string]bool{}
	rightNames := map[string]bool{}
	for i := 0; i < left.NumFields(); i++ {
		leftNames[left.Field(i).Name] = true
	}
	for i := 0; i < right.NumFields(); i++ {
		rightNames[right.Field(i).Name] = true
	}
	for i := 0; i < left.NumFields(); i++ {
		f := left.Field(i)
		name := f.Name
		if rightNames[name] {
			name = "left_" + name
		}
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     f.Type,
			Nullable: true,
			Metadata: f.Metadata,
		})
	}
	for i := 0; i < right.NumFields(); i++ {
		f := right.Field(i)
		name := f.Name
		if leftNames[name] {
			name = "right_" + name
		}
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     f.Type,
			Nullable: true,
			Metadata: f.Metadata,
		})
	}
	return arrow.NewSchema(fields, nil)
}

func (hj *HashJoinExec) Next(_ uint16) (*operators.RecordBatch, error) {
	if hj.done {
		return nil, io.EOF
	}
	hj.done = true
	mem := memory.NewGoAllocator()
	leftArr, err := consumeOperator(hj.leftSource, mem)
	if err != nil {
		return nil, err
	}
	rightArr, err := consumeOperator(hj.rightSource, mem)
	if err != nil {
		return nil, err
	}
	leftRowCount, rightRowCount := 0, 0
	if len(leftArr) > 0 && leftArr[0] != nil {
		leftRowCount = leftArr[0].Len()
	}
	if len(rightArr) > 0 && rightArr[0] != nil {
		rightRowCount = rightArr[0].Len()
	}
	leftComp, err := evalKeyColumns(hj.clause.leftS, leftArr, hj.leftSource.Schema(), leftRowCount)
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(leftComp)
	rightComp, err := evalKeyColumns(hj.clause.rightS, rightArr, hj.rightSource.Schema(), rightRowCount)
	if err != nil {
		return nil, err
	}
	defer operators.ReleaseArrays(rightComp)

	ht := buildRightHashTable(rightComp, rightRowCount)

	switch hj.joinType {
	case LeftSemiJoin, LeftAntiJoin:
		return hj.buildSemiBatch(mem, leftArr, leftComp, ht, leftRowCount, hj.joinType == LeftAntiJoin)
	case RightSemiJoin:
		return hj.buildRightSemiBatch(mem, rightArr, leftComp, ht, leftRowCount, rightRowCount)
	default:
		return hj.buildJoinedBatch(mem, leftArr, rightArr, leftComp, ht, leftRowCount, rightRowCount)
	}
}

func (hj *HashJoinExec) Schema() *arrow.Schema { return hj.schema }

func (hj *HashJoinExec) Close() error {
	err1 := hj.leftSource.Close()
	err2 := hj.rightSource.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

type hashEntry struct {
	row int
}

// buildJoinedBatch covers inner, left, right and full joins. Outer rows
// with no match carry a null take index, which TakeArray turns into null
// output values on the opposite side.
func (hj *HashJoinExec) buildJoinedBatch(
	mem memory.Allocator,
	leftArr, rightArr, leftComp []arrow.Array,
	ht map[string][]hashEntry,
	leftRowCount, rightRowCount int,
) (*operators.RecordBatch, error) {
	lb := array.NewInt32Builder(mem)
	rb := array.NewInt32Builder(mem)
	defer lb.Release()
	defer rb.Release()

	matchedRight := make([]bool, rightRowCount)
	for l := 0; l < leftRowCount; l++ {
		matches := ht[buildRowKey(leftComp, l, "L")]
		if len(matches) == 0 {
			if hj.joinType == LeftJoin || hj.joinType == FullJoin {
				lb.Append(int32(l))
				rb.AppendNull()
			}
			continue
		}
		for _, m := range matches {
			lb.Append(int32(l))
			rb.Append(int32(m.row))
			matchedRight[m.row] = true
		}
	}
	if hj.joinType == RightJoin || hj.joinType == FullJoin {
		for r := 0; r < rightRowCount; r++ {
			if matchedRight[r] {
				continue
			}
			lb.AppendNull()
			rb.Append(int32(r))
		}
	}
	leftIdx := lb.NewArray()
	rightIdx := rb.NewArray()
	defer leftIdx.Release()
	defer rightIdx.Release()

	// an empty index still takes through to typed zero-length columns,
	// so consumers can index every schema field
	rows := uint64(leftIdx.Len())
	ctx := context.TODO()
	output := make([]arrow.Array, hj.schema.NumFields())
	for i, col := range leftArr {
		taken, err := compute.TakeArray(ctx, col, leftIdx)
		if err != nil {
			return nil, err
		}
		output[i] = taken
	}
	for i, col := range rightArr {
		taken, err := compute.TakeArray(ctx, col, rightIdx)
		if err != nil {
			return nil, err
		}
		output[i+len(leftArr)] = taken
	}
	operators.ReleaseArrays(leftArr)
	operators.ReleaseArrays(rightArr)
	return &operators.RecordBatch{
		Schema:   hj.schema,
		Columns:  output,
		RowCount: rows,
	}, nil
}

// buildSemiBatch keeps left rows by match presence: semi wants at least
// one match, anti wants none. Right columns never appear in the output.
func (hj *HashJoinExec) buildSemiBatch(
	mem memory.Allocator,
	leftArr, leftComp []arrow.Array,
	ht map[string][]hashEntry,
	leftRowCount int,
	anti bool,
) (*operators.RecordBatch, error) {
	idxB := array.NewInt32Builder(mem)
	defer idxB.Release()
	for l := 0; l < leftRowCount; l++ {
		matched := len(ht[buildRowKey(leftComp, l, "L")]) > 0
		if matched != anti {
			idxB.Append(int32(l))
		}
	}
	idx := idxB.NewArray()
	defer idx.Release()
	return takeBatch(hj.schema, leftArr, idx)
}

func (hj *HashJoinExec) buildRightSemiBatch(
	mem memory.Allocator,
	rightArr, leftComp []arrow.Array,
	ht map[string][]hashEntry,
	leftRowCount, rightRowCount int,
) (*operators.RecordBatch, error) {
	matchedRight := make([]bool, rightRowCount)
	for l := 0; l < leftRowCount; l++ {
		for _, m := range ht[buildRowKey(leftComp, l, "L")] {
			matchedRight[m.row] = true
		}
	}
	idxB := array.NewInt32Builder(mem)
	defer idxB.Release()
	for r, matched := range matchedRight {
		if matched {
			idxB.Append(int32(r))
		}
	}
	idx := idxB.NewArray()
	defer idx.Release()
	return takeBatch(hj.schema, rightArr, idx)
}

func takeBatch(schema *arrow.Schema, cols []arrow.Array, idx arrow.Array) (*operators.RecordBatch, error) {
	ctx := context.TODO()
	output := make([]arrow.Array, len(cols))
	for i, col := range cols {
		taken, err := compute.TakeArray(ctx, col, idx)
		if err != nil {
			return nil, err
		}
		output[i] = taken
	}
	operators.ReleaseArrays(cols)
	return &operators.RecordBatch{
		Schema:   schema,
		Columns:  output,
		RowCount: uint64(idx.Len()),
	}, nil
}

func consumeOperator(o operators.Operator, mem memory.Allocator) ([]arrow.Array, error) {
	allArrays := make([]arrow.Array, o.Schema().NumFields())
	for {
		childBatch, err := o.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for i := range childBatch.Columns {
			if allArrays[i] == nil {
				allArrays[i] = childBatch.Columns[i]
				continue
			}
			larger, err := array.Concatenate([]arrow.Array{allArrays[i], childBatch.Columns[i]}, mem)
			if err != nil {
				return nil, err
			}
			allArrays[i].Release()
			childBatch.Columns[i].Release()
			allArrays[i] = larger
		}
	}
	// an empty source still needs typed zero-length columns
	for i, arr := range allArrays {
		if arr == nil {
			b := array.NewBuilder(mem, o.Schema().Field(i).Type)
			allArrays[i] = b.NewArray()
			b.Release()
		}
	}
	return allArrays, nil
}

func evalKeyColumns(exprs []Expr.Expression, cols []arrow.Array, schema *arrow.Schema, rowCount int) ([]arrow.Array, error) {
	keyCols := make([]arrow.Array, len(exprs))
	for i, expr := range exprs {
		arr, err := Expr.EvalExpression(expr, &operators.RecordBatch{
			Schema:   schema,
			Columns:  cols,
			RowCount: uint64(rowCount),
		})
		if err != nil {
			return nil, err
		}
		keyCols[i] = arr
	}
	return keyCols, nil
}

// buildRowKey hashes one row of key columns into a string. A NULL anywhere
// in the key is salted with the side tag so it can never match a row from
// the other side, which is what SQL equality demands.
func buildRowKey(cols []arrow.Array, row int, side string) string {
	var b strings.Builder
	hasNull := false
	for i, col := range cols {
		if i > 0 {
			b.WriteByte('|')
		}
		if col.IsNull(row) {
			hasNull = true
			b.WriteString("NULL")
			continue
		}
		b.WriteString(col.ValueStr(row))
	}
	if !hasNull {
		return b.String()
	}
	b.WriteByte('#')
	b.WriteString(side)
	b.WriteString(fmt.Sprintf("%d", row))
	return b.String()
}

func buildRightHashTable(rightComp []arrow.Array, rowCount int) map[string][]hashEntry {
	ht := make(map[string][]hashEntry, rowCount)
	for r := 0; r < rowCount; r++ {
		key := buildRowKey(rightComp, r, "R")
		ht[key] = append(ht[key], hashEntry{row: r})
	}
	return ht
}
