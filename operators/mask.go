package operators

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

func ApplyBooleanMask(col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	datum, err := compute.Filter(
		context.TODO(),
		compute.NewDatum(col),
		compute.NewDatum(mask),
		*compute.DefaultFilterOptions(),
	)
	if err != nil {
		return nil, err
	}
	arr := datum.(*compute.ArrayDatum).MakeArray()
	return arr, nil
}

func SliceArray(col arrow.Array, from, to int64) arrow.Array {
	return array.NewSlice(col, from, to)
}
