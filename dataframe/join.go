package dataframe

import (
	"fmt"

	join "arrowframe/operators/Join"
	"arrowframe/plan"
)

var (
	ErrUnknownJoinType = func(token string) error {
		return fmt.Errorf("unsupported join type %q", token)
	}
)

// ResolveJoinType maps a join-type token onto the engine join type. The
// token is matched exactly; unknown tokens surface verbatim in the error.
func ResolveJoinType(token string) (join.JoinType, error) {
	switch token {
	case "inner":
		return join.InnerJoin, nil
	case "left":
		return join.LeftJoin, nil
	case "right":
		return join.RightJoin, nil
	case "full":
		return join.FullJoin, nil
	case "semi":
		return join.LeftSemiJoin, nil
	case "anti":
		return join.LeftAntiJoin, nil
	case "right_semi":
		return join.RightSemiJoin, nil
	default:
		return 0, ErrUnknownJoinType(token)
	}
}

// Join combines two frames on positional equality key pairs. Key-count
// mismatches are reported by the join operator at execution time, not
// here.
func (df *DataFrame) Join(right *DataFrame, leftKeys, rightKeys []string, how string) (*DataFrame, error) {
	joinType, err := ResolveJoinType(how)
	if err != nil {
		return nil, err
	}
	p := plan.NewJoin(df.plan, right.plan, leftKeys, rightKeys, joinType)
	if _, err := p.Schema(); err != nil {
		return nil, err
	}
	return df.with(p), nil
}

// JoinOn joins on columns that share a name on both sides.
func (df *DataFrame) JoinOn(right *DataFrame, keys []string, how string) (*DataFrame, error) {
	return df.Join(right, keys, keys, how)
}
