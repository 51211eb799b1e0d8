// Package payload maps durable job rows to the user-facing job views
// returned by the jobs endpoint.
package payload

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/queryjobs/internal/jobs"
)

// ErrRowMapping indicates a job row that could not be rendered as a view,
// usually because a required field is missing or malformed.
var ErrRowMapping = errors.New("job row mapping failed")

// Builder turns a job row into the view returned to the user. Builds are
// deterministic and may fail per-row.
type Builder interface {
	Build(row *jobs.JobRow) (jobs.JobView, error)
}

// requiredFields must be present on every row for the default view to be
// built. Rows are created with these set; a row missing one is corrupt.
var requiredFields = []string{"status", "dateCreated"}

// DefaultBuilder renders the ticket, a self link, and the row's fields in
// their stored order.
type DefaultBuilder struct {
	// BaseURL prefixes the self and results links, e.g. "https://host/v1".
	BaseURL string
}

// NewDefaultBuilder creates a DefaultBuilder rooted at baseURL.
func NewDefaultBuilder(baseURL string) *DefaultBuilder {
	return &DefaultBuilder{BaseURL: baseURL}
}

// Build implements Builder.
func (b *DefaultBuilder) Build(row *jobs.JobRow) (jobs.JobView, error) {
	if row.Ticket == "" {
		return jobs.JobView{}, fmt.Errorf("%w: row has no ticket", ErrRowMapping)
	}
	for _, name := range requiredFields {
		if _, ok := row.Get(name); !ok {
			return jobs.JobView{}, fmt.Errorf("%w: ticket %s is missing field %q", ErrRowMapping, row.Ticket, name)
		}
	}

	view := jobs.JobView{Fields: make([]jobs.Field, 0, len(row.Fields)+3)}
	view.Fields = append(view.Fields, jobs.Field{Name: "ticket", Value: row.Ticket})
	for _, f := range row.Fields {
		view.Fields = append(view.Fields, f)
	}
	view.Fields = append(view.Fields,
		jobs.Field{Name: "self", Value: fmt.Sprintf("%s/jobs/%s", b.BaseURL, row.Ticket)},
		jobs.Field{Name: "results", Value: fmt.Sprintf("%s/jobs/%s/result", b.BaseURL, row.Ticket)},
	)

	return view, nil
}
