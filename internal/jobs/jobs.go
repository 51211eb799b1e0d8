// Package jobs holds the core data model for the asynchronous jobs
// endpoint: job metadata rows, user-facing views, and stored results.
package jobs

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// TicketPrefix is prepended to every generated ticket so tickets are
// recognisable in logs and URLs.
const TicketPrefix = "qj_"

// NewTicket generates a new opaque job ticket. Tickets are UUIDv7 based so
// they sort by creation time in the store.
func NewTicket() string {
	id := uuid.Must(uuid.NewV7())
	return TicketPrefix + base58.Encode(id[:])
}

// Field is a single named value on a job row or view. Fields are kept as an
// ordered slice rather than a map so the order they were written in survives
// round trips through stores and serialization.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// JobRow is the durable metadata record for one submitted job, keyed by
// ticket. Rows are created on submission and mutated only by the job's
// executor; the coordinator treats them as read-only.
type JobRow struct {
	Ticket string
	Fields []Field
}

// Get returns the value of the named field and whether it is present.
func (r *JobRow) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Set appends the field, or replaces the value in place when the name is
// already present, preserving field order.
func (r *JobRow) Set(name, value string) {
	for i, f := range r.Fields {
		if f.Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Clone returns a deep copy of the row. Stores hand out clones so callers
// can't mutate shared state.
func (r *JobRow) Clone() *JobRow {
	out := &JobRow{Ticket: r.Ticket, Fields: make([]Field, len(r.Fields))}
	copy(out.Fields, r.Fields)
	return out
}

// JobView is the user-facing rendering of a job row. It is recomputed per
// request and never persisted. Key order is preserved through JSON
// marshalling, which is why this is not a plain map.
type JobView struct {
	Fields []Field
}

// Get returns the value of the named view field and whether it is present.
func (v JobView) Get(name string) (string, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// MarshalJSON renders the view as a JSON object with fields in their
// original order.
func (v JobView) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range v.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the completed output of a job. It is written once by the
// executor and read at most once per wait by the coordinator.
type Result struct {
	Ticket      string
	Payload     []byte
	ContentType string
	StoredAt    time.Time
}
