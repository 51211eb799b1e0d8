package jobs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTicket(t *testing.T) {
	a := NewTicket()
	b := NewTicket()

	require.True(t, strings.HasPrefix(a, TicketPrefix))
	require.True(t, strings.HasPrefix(b, TicketPrefix))
	require.NotEqual(t, a, b)
}

func TestJobRowSet(t *testing.T) {
	row := &JobRow{Ticket: "qj_1"}

	row.Set("status", "pending")
	row.Set("userId", "alice")
	row.Set("status", "success")

	require.Equal(t, []Field{
		{Name: "status", Value: "success"},
		{Name: "userId", Value: "alice"},
	}, row.Fields)
}

func TestJobRowClone(t *testing.T) {
	row := &JobRow{Ticket: "qj_1", Fields: []Field{{Name: "status", Value: "pending"}}}

	clone := row.Clone()
	clone.Set("status", "mutated")

	status, ok := row.Get("status")
	require.True(t, ok)
	require.Equal(t, "pending", status)
}

func TestJobViewMarshalJSON(t *testing.T) {
	view := JobView{Fields: []Field{
		{Name: "ticket", Value: "qj_1"},
		{Name: "status", Value: "success"},
		{Name: "query", Value: `with "quotes"`},
	}}

	data, err := json.Marshal(view)
	require.NoError(t, err)
	require.Equal(t, `{"ticket":"qj_1","status":"success","query":"with \"quotes\""}`, string(data))

	// Empty views render as an empty object.
	data, err = json.Marshal(JobView{})
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))
}
