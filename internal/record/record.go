// Package record persists accepted samples. Every sink receives samples one
// at a time, already in timestamp order for the batch they arrived in.
package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

// Sink stores samples.
type Sink interface {
	Write(ctx context.Context, s stream.Sample) error
	Close() error
}

// Counts tracks sink outcomes.
type Counts struct {
	Error   int `json:"error"`
	Success int `json:"success"`
	Total   int `json:"total"`
}

// Add records the outcome of one write.
func (c *Counts) Add(err error) {
	c.Total++
	if err != nil {
		c.Error++
		return
	}
	c.Success++
}

// Multi fans every sample out to all sinks. A failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) Write(ctx context.Context, s stream.Sample) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Kinds lists the sink names understood by Open.
var Kinds = []string{"none", "csv", "sqlite", "mysql", "parquet"}

// Options selects and configures a sink for Open.
type Options struct {
	Kind string
	// Path is the output file for csv, sqlite and parquet. Empty picks a
	// default name in Dir.
	Path   string
	Dir    string
	Source string
	MySQL  MySQLConfig
}

// Open builds the sink named by opts.Kind. "none" and "" yield a nil sink.
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch strings.ToLower(opts.Kind) {
	case "", "none":
		return nil, nil
	case "csv":
		path := opts.Path
		if path == "" {
			path = DefaultPath(opts.Dir, opts.Source, "csv")
		}
		return CreateCSV(path)
	case "parquet":
		path := opts.Path
		if path == "" {
			path = DefaultPath(opts.Dir, opts.Source, "parquet")
		}
		return CreateParquet(path, opts.Source)
	case "sqlite":
		path := opts.Path
		if path == "" {
			path = DefaultPath(opts.Dir, opts.Source, "db")
		}
		return OpenSQLite(ctx, path, opts.Source)
	case "mysql":
		return OpenMySQL(ctx, opts.MySQL, opts.Source)
	default:
		return nil, fmt.Errorf("%q is not a supported recording sink, pick one of: %s", opts.Kind, strings.Join(Kinds, ", "))
	}
}
