package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"arrowframe/Expr"
	"arrowframe/config"
	"arrowframe/operators"
	join "arrowframe/operators/Join"
	"arrowframe/operators/aggr"
	"arrowframe/operators/filter"
	"arrowframe/operators/project"
	"arrowframe/operators/window"
	"arrowframe/plan"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnknownPlanNode = func(p plan.LogicalPlan) error {
		return fmt.Errorf("cannot compile unknown plan node %T", p)
	}
)

// Engine turns logical plans into operator trees and drains them. Query
// admission is gated by a semaphore sized from config, so at most
// MaxConcurrentQueries collections run at once and the rest block.
type Engine struct {
	batchSize uint16
	sem       chan struct{}
}

func New() *Engine {
	cfg := config.GetConfig()
	size := cfg.Batch.Size
	if size <= 0 || size > math.MaxUint16 {
		size = math.MaxUint16
	}
	slots := 1
	if cfg.Query.EnableConcurrentExecution && cfg.Query.MaxConcurrentQueries > 1 {
		slots = cfg.Query.MaxConcurrentQueries
	}
	return &Engine{
		batchSize: uint16(size),
		sem:       make(chan struct{}, slots),
	}
}

type collectResult struct {
	batches []*operators.RecordBatch
	err     error
}

// Collect executes the plan to completion and blocks until every batch is
// in. There are no partial results: any operator error discards what was
// already produced and surfaces as-is.
func (e *Engine) Collect(p plan.LogicalPlan) ([]*operators.RecordBatch, error) {
	e.sem <- struct{}{}
	done := make(chan collectResult, 1)
	go func() {
		defer func() { <-e.sem }()
		batches, err := e.drain(p)
		done <- collectResult{batches: batches, err: err}
	}()
	res := <-done
	return res.batches, res.err
}

func (e *Engine) drain(p plan.LogicalPlan) ([]*operators.RecordBatch, error) {
	start := time.Now()
	op, err := Compile(p)
	if err != nil {
		return nil, err
	}
	defer op.Close()
	var batches []*operators.RecordBatch
	for {
		b, err := op.Next(e.batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if b.RowCount == 0 {
			continue
		}
		batches = append(batches, b)
	}
	log.Printf("collected %d rows in %s", operators.TotalRows(batches), time.Since(start))
	return batches, nil
}

// Compile lowers a logical plan into a physical operator tree. Sources
// come from the scan's factory so each execution gets fresh operators.
func Compile(p plan.LogicalPlan) (operators.Operator, error) {
	switch node := p.(type) {
	case *plan.Scan:
		return node.NewSource()
	case *plan.Projection:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		return project.NewProjectionExec(child, node.Exprs)
	case *plan.Filter:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		return filter.NewFilterExec(child, node.Predicate)
	case *plan.Limit:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		return filter.NewLimitExec(child, node.Count)
	case *plan.Sort:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		return aggr.NewSortExec(child, node.Keys)
	case *plan.Aggregate:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		if len(node.GroupBy) == 0 {
			return aggr.NewGlobalAggrExec(child, node.Aggregates)
		}
		return aggr.NewGroupByExec(child, node.GroupBy, node.Aggregates)
	case *plan.Window:
		child, err := Compile(node.Input)
		if err != nil {
			return nil, err
		}
		return window.NewWindowExec(child, node.Calls)
	case *plan.Join:
		left, err := Compile(node.Left)
		if err != nil {
			return nil, err
		}
		right, err := Compile(node.Right)
		if err != nil {
			left.Close()
			return nil, err
		}
		leftExprs := make([]Expr.Expression, len(node.LeftKeys))
		for i, k := range node.LeftKeys {
			leftExprs[i] = Expr.Col(k)
		}
		rightExprs := make([]Expr.Expression, len(node.RightKeys))
		for i, k := range node.RightKeys {
			rightExprs[i] = Expr.Col(k)
		}
		clause := join.NewJoinClause(leftExprs, rightExprs)
		return join.NewHashJoinExec(left, right, clause, node.How)
	default:
		return nil, ErrUnknownPlanNode(p)
	}
}

// Explain renders the plan without running it; with analyze it also runs
// the plan and appends execution stats.
func (e *Engine) Explain(p plan.LogicalPlan, verbose, analyze bool) ([]*operators.RecordBatch, error) {
	types := []string{"logical_plan"}
	texts := []string{plan.Format(p, verbose)}
	if analyze {
		start := time.Now()
		batches, err := e.Collect(p)
		if err != nil {
			return nil, err
		}
		rows := operators.TotalRows(batches)
		for _, b := range batches {
			operators.ReleaseArrays(b.Columns)
		}
		types = append(types, "analyze")
		texts = append(texts, fmt.Sprintf("rows processed: %d, elapsed: %s", rows, time.Since(start)))
	}
	return explainBatch(types, texts)
}

func explainBatch(types, texts []string) ([]*operators.RecordBatch, error) {
	mem := memory.DefaultAllocator
	tb := array.NewStringBuilder(mem)
	defer tb.Release()
	pb := array.NewStringBuilder(mem)
	defer pb.Release()
	tb.AppendValues(types, nil)
	pb.AppendValues(texts, nil)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "plan_type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "plan", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
	return []*operators.RecordBatch{{
		Schema:   schema,
		Columns:  []arrow.Array{tb.NewArray(), pb.NewArray()},
		RowCount: uint64(len(types)),
	}}, nil
}
