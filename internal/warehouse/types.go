// Package warehouse replaces destination tables with freshly inferred data.
//
// Backends:
//   - "bigquery": Google BigQuery load jobs
//   - "sqlite": a local SQLite database file (development and tests)
package warehouse

import (
	"context"
	"errors"

	"sheetload/internal/schema"
)

// ErrNotFound is returned by Backend.DeleteTable when the table does not exist.
var ErrNotFound = errors.New("table not found")

// LoadRequest is one chunk load.
type LoadRequest struct {
	Table string
	Data  schema.TypedTable
	// Hints are explicit field types; columns without a hint are autodetected.
	Hints              []schema.Field
	Autodetect         bool
	AllowFieldAddition bool
}

// Job is a running load. Wait blocks until the backend acknowledges the load
// and returns its failure, if any.
type Job interface {
	ID() string
	Wait(ctx context.Context) error
}

// Backend is the analytical table store.
type Backend interface {
	DeleteTable(ctx context.Context, table string) error
	StartLoad(ctx context.Context, req LoadRequest) (Job, error)
	Close() error
}

type doneJob struct {
	id  string
	err error
}

func (j doneJob) ID() string                 { return j.id }
func (j doneJob) Wait(context.Context) error { return j.err }
