package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/queryjobs/internal/filter"
	"github.com/wolfeidau/queryjobs/internal/jobs"
)

// Sentinel errors for common error conditions
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrResultExists     = errors.New("result already stored for ticket")
	ErrChecksumMismatch = errors.New("result payload checksum mismatch")
)

// JobStore is the durable store of job metadata rows, keyed by ticket.
// Absence is reported as (nil, nil), not as an error; callers that need a
// not-found failure wrap ErrJobNotFound themselves.
type JobStore interface {
	// Get returns the row for the ticket, or nil when no such job exists.
	Get(ctx context.Context, ticket string) (*jobs.JobRow, error)

	// GetAll returns every row in the store.
	GetAll(ctx context.Context) ([]*jobs.JobRow, error)

	// GetFiltered returns the rows matching every predicate in the set.
	// An empty set means no filtering and returns all rows.
	GetFiltered(ctx context.Context, filters filter.FilterSet) ([]*jobs.JobRow, error)

	// Save creates the row, or replaces it when the ticket already exists.
	// Rows are written by the submission path and the executor, never by
	// the coordinator.
	Save(ctx context.Context, row *jobs.JobRow) error

	// Lifecycle
	Start() error
	Stop() error
}

// ResultStore maps a ticket to its completed result. Results are write-once:
// a second Save for the same ticket fails with ErrResultExists.
type ResultStore interface {
	// Get returns the result for the ticket, or nil when it is not yet
	// available.
	Get(ctx context.Context, ticket string) (*jobs.Result, error)

	// Save durably stores the result. Callers publish the result-ready
	// notification only after Save returns, never before.
	Save(ctx context.Context, result *jobs.Result) error
}
