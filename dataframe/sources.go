package dataframe

import (
	"fmt"
	"io"
	"os"

	"arrowframe/engine"
	"arrowframe/operators"
	"arrowframe/operators/project"
	"arrowframe/plan"
)

var defaultEngine = engine.New()

// DefaultEngine is the engine shared by the From* constructors.
func DefaultEngine() *engine.Engine {
	return defaultEngine
}

// FromColumns builds a frame over host-native Go slices. The data is
// re-wrapped per execution, so one frame can be collected many times.
func FromColumns(name string, names []string, columns []any) (*DataFrame, error) {
	probe, err := project.NewInMemorySource(names, columns)
	if err != nil {
		return nil, err
	}
	schema := probe.Schema()
	if err := probe.Close(); err != nil {
		return nil, err
	}
	factory := func() (operators.Operator, error) {
		return project.NewInMemorySource(names, columns)
	}
	return New(plan.NewScan(name, schema, factory), defaultEngine), nil
}

// FromCSVPath builds a frame over a CSV file on disk. The file is opened
// once up front for schema inference and re-opened per execution.
func FromCSVPath(path string) (*DataFrame, error) {
	probeFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	probe, err := project.NewCSVSource(probeFile)
	if err != nil {
		probeFile.Close()
		return nil, err
	}
	schema := probe.Schema()
	probe.Close()
	probeFile.Close()

	factory := func() (operators.Operator, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src, err := project.NewCSVSource(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &closingOperator{Operator: src, resource: f}, nil
	}
	return New(plan.NewScan(path, schema, factory), defaultEngine), nil
}

// FromParquetPath builds a frame over a parquet file on disk.
func FromParquetPath(path string, columns ...string) (*DataFrame, error) {
	probeFile, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	probe, err := project.NewParquetSource(probeFile, columns...)
	if err != nil {
		probeFile.Close()
		return nil, err
	}
	schema := probe.Schema()
	probe.Close()
	probeFile.Close()

	factory := func() (operators.Operator, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		src, err := project.NewParquetSource(f, columns...)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &closingOperator{Operator: src, resource: f}, nil
	}
	return New(plan.NewScan(path, schema, factory), defaultEngine), nil
}

// FromS3 builds a frame over an object in the configured bucket. The
// format tells the reader how to decode the stream.
func FromS3(key, format string) (*DataFrame, error) {
	open := func() (operators.Operator, error) {
		resource, err := project.NewStreamReader(key)
		if err != nil {
			return nil, err
		}
		switch format {
		case "csv":
			return project.NewCSVSource(resource.Stream())
		case "parquet":
			return project.NewParquetSource(resource)
		default:
			return nil, fmt.Errorf("unsupported object format %q", format)
		}
	}
	probe, err := open()
	if err != nil {
		return nil, err
	}
	schema := probe.Schema()
	probe.Close()
	return New(plan.NewScan(key, schema, open), defaultEngine), nil
}

// closingOperator ties an OS resource's lifetime to the operator's.
type closingOperator struct {
	operators.Operator
	resource io.Closer
}

func (co *closingOperator) Close() error {
	err := co.Operator.Close()
	if cerr := co.resource.Close(); err == nil {
		err = cerr
	}
	return err
}
