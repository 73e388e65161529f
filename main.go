package main

import (
	"os"

	"arrowframe/Expr"
	"arrowframe/config"
	"arrowframe/dataframe"
)

func main() {
	if len(os.Args) > 1 {
		if err := config.Decode(os.Args[1]); err != nil {
			panic(err)
		}
	}
	df, err := dataframe.FromColumns("people",
		[]string{"id", "name", "age"},
		[]any{
			[]int64{1, 2, 3, 4},
			[]string{"ana", "bo", "cy", "dee"},
			[]int64{34, 19, 27, 41},
		})
	if err != nil {
		panic(err)
	}
	adults, err := df.Filter(Expr.NewBinaryExpr(Expr.Col("age"), Expr.GreaterThanOrEqual, Expr.Lit(21)))
	if err != nil {
		panic(err)
	}
	if err := adults.Show(); err != nil {
		panic(err)
	}
	os.Exit(0)
}
