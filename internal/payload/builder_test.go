package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/queryjobs/internal/jobs"
)

func TestDefaultBuilder(t *testing.T) {
	builder := NewDefaultBuilder("https://example.com/v1")

	t.Run("renders ticket fields and links", func(t *testing.T) {
		row := &jobs.JobRow{
			Ticket: "qj_1",
			Fields: []jobs.Field{
				{Name: "status", Value: "success"},
				{Name: "dateCreated", Value: "2026-08-31T00:00:00Z"},
				{Name: "userId", Value: "alice"},
			},
		}

		view, err := builder.Build(row)
		require.NoError(t, err)

		ticket, _ := view.Get("ticket")
		require.Equal(t, "qj_1", ticket)
		self, _ := view.Get("self")
		require.Equal(t, "https://example.com/v1/jobs/qj_1", self)
		results, _ := view.Get("results")
		require.Equal(t, "https://example.com/v1/jobs/qj_1/result", results)
	})

	t.Run("serialized field order is ticket then row then links", func(t *testing.T) {
		row := &jobs.JobRow{
			Ticket: "qj_1",
			Fields: []jobs.Field{
				{Name: "status", Value: "success"},
				{Name: "dateCreated", Value: "2026-08-31T00:00:00Z"},
			},
		}

		view, err := builder.Build(row)
		require.NoError(t, err)

		data, err := json.Marshal(view)
		require.NoError(t, err)
		require.JSONEq(t, `{
			"ticket": "qj_1",
			"status": "success",
			"dateCreated": "2026-08-31T00:00:00Z",
			"self": "https://example.com/v1/jobs/qj_1",
			"results": "https://example.com/v1/jobs/qj_1/result"
		}`, string(data))

		// Order is part of the contract, not just the key set.
		require.Equal(t, `{"ticket":"qj_1","status":"success","dateCreated":"2026-08-31T00:00:00Z","self":"https://example.com/v1/jobs/qj_1","results":"https://example.com/v1/jobs/qj_1/result"}`, string(data))
	})

	t.Run("missing required field fails", func(t *testing.T) {
		row := &jobs.JobRow{
			Ticket: "qj_1",
			Fields: []jobs.Field{{Name: "status", Value: "success"}},
		}

		_, err := builder.Build(row)
		require.ErrorIs(t, err, ErrRowMapping)
		require.Contains(t, err.Error(), "dateCreated")
	})

	t.Run("row without ticket fails", func(t *testing.T) {
		_, err := builder.Build(&jobs.JobRow{})
		require.ErrorIs(t, err, ErrRowMapping)
	})
}
