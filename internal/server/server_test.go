package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/queryjobs/internal/async"
	"github.com/wolfeidau/queryjobs/internal/jobs"
	"github.com/wolfeidau/queryjobs/internal/notify"
	"github.com/wolfeidau/queryjobs/internal/payload"
	"github.com/wolfeidau/queryjobs/internal/store"
)

type testEnv struct {
	server   *httptest.Server
	jobStore *store.MemoryJobStore
	results  *store.MemoryResultStore
	bus      *notify.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		jobStore: store.NewMemoryJobStore(),
		results:  store.NewMemoryResultStore(),
		bus:      notify.NewChannelBus(),
	}

	coordinator := async.NewCoordinator(env.jobStore, env.results, env.bus, payload.NewDefaultBuilder("http://localhost/v1"))
	api := New(coordinator, env.jobStore, env.results, env.bus, time.Second)

	env.server = httptest.NewServer(api.Routes())
	t.Cleanup(env.server.Close)

	return env
}

func (e *testEnv) saveRow(t *testing.T, ticket string, fields ...jobs.Field) {
	t.Helper()

	row := &jobs.JobRow{Ticket: ticket, Fields: fields}
	if _, ok := row.Get("status"); !ok {
		row.Set("status", "pending")
	}
	if _, ok := row.Get("dateCreated"); !ok {
		row.Set("dateCreated", "2026-08-31T00:00:00Z")
	}
	require.NoError(t, e.jobStore.Save(context.Background(), row))
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)

	t.Run("found", func(t *testing.T) {
		env.saveRow(t, "qj_1", jobs.Field{Name: "userId", Value: "alice"})

		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_1")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var view map[string]string
		decodeBody(t, resp, &view)
		require.Equal(t, "qj_1", view["ticket"])
		require.Equal(t, "alice", view["userId"])
		require.Equal(t, "http://localhost/v1/jobs/qj_1", view["self"])
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_missing")
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Contains(t, body["error"], "qj_missing")
	})
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	env.saveRow(t, "qj_1", jobs.Field{Name: "status", Value: "success"})
	env.saveRow(t, "qj_2", jobs.Field{Name: "status", Value: "pending"})

	t.Run("no filter returns all", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Jobs []map[string]string `json:"jobs"`
		}
		decodeBody(t, resp, &body)
		require.Len(t, body.Jobs, 2)
	})

	t.Run("filter scopes the listing", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs?filters=status-eq%5Bsuccess%5D")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Jobs []map[string]string `json:"jobs"`
		}
		decodeBody(t, resp, &body)
		require.Len(t, body.Jobs, 1)
		require.Equal(t, "qj_1", body.Jobs[0]["ticket"])
	})

	t.Run("bad filter is a client error", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs?filters=nonsense")
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	t.Run("generates ticket and defaults", func(t *testing.T) {
		body := bytes.NewBufferString(`{"fields":[{"name":"userId","value":"alice"}]}`)
		resp, err := http.Post(env.server.URL+"/v1/jobs", "application/json", body)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var view map[string]string
		decodeBody(t, resp, &view)
		require.NotEmpty(t, view["ticket"])
		require.Equal(t, "pending", view["status"])
		require.NotEmpty(t, view["dateCreated"])
		require.Equal(t, "alice", view["userId"])
	})

	t.Run("caller supplied ticket is kept", func(t *testing.T) {
		body := bytes.NewBufferString(`{"ticket":"qj_supplied","fields":[]}`)
		resp, err := http.Post(env.server.URL+"/v1/jobs", "application/json", body)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var view map[string]string
		decodeBody(t, resp, &view)
		require.Equal(t, "qj_supplied", view["ticket"])
	})

	t.Run("malformed body is a client error", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/v1/jobs", "application/json", bytes.NewBufferString("{"))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestCompleteJob(t *testing.T) {
	env := newTestEnv(t)

	t.Run("stores result and flips status", func(t *testing.T) {
		env.saveRow(t, "qj_1")

		resp, err := http.Post(env.server.URL+"/v1/jobs/qj_1/result", "application/json",
			bytes.NewBufferString(`{"rows":[1,2,3]}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		result, err := env.results.Get(context.Background(), "qj_1")
		require.NoError(t, err)
		require.NotNil(t, result)
		require.Equal(t, []byte(`{"rows":[1,2,3]}`), result.Payload)
		require.Equal(t, "application/json", result.ContentType)

		row, err := env.jobStore.Get(context.Background(), "qj_1")
		require.NoError(t, err)
		status, _ := row.Get("status")
		require.Equal(t, "success", status)
	})

	t.Run("unknown ticket", func(t *testing.T) {
		resp, err := http.Post(env.server.URL+"/v1/jobs/qj_missing/result", "application/json",
			bytes.NewBufferString("{}"))
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("double completion conflicts", func(t *testing.T) {
		env.saveRow(t, "qj_2")

		resp, err := http.Post(env.server.URL+"/v1/jobs/qj_2/result", "application/json",
			bytes.NewBufferString("first"))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		resp, err = http.Post(env.server.URL+"/v1/jobs/qj_2/result", "application/json",
			bytes.NewBufferString("second"))
		require.NoError(t, err)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("result is stored before the notification", func(t *testing.T) {
		env.saveRow(t, "qj_3")

		sub, err := env.bus.Subscribe(context.Background())
		require.NoError(t, err)
		defer sub.Close()

		resp, err := http.Post(env.server.URL+"/v1/jobs/qj_3/result", "application/json",
			bytes.NewBufferString("payload"))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()

		select {
		case n := <-sub.C():
			require.Equal(t, "qj_3", n.Ticket)
			result, err := env.results.Get(context.Background(), "qj_3")
			require.NoError(t, err)
			require.NotNil(t, result, "notification must not precede the stored result")
		case <-time.After(time.Second):
			t.Fatal("no notification after completion")
		}
	})
}

func TestAwaitResult(t *testing.T) {
	env := newTestEnv(t)

	t.Run("pending when the wait elapses", func(t *testing.T) {
		env.saveRow(t, "qj_1")

		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_1/result?asyncAfter=20")
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "pending", body["status"])
		require.Equal(t, "qj_1", body["ticket"])
	})

	t.Run("resolves when the job completes during the wait", func(t *testing.T) {
		env.saveRow(t, "qj_2")

		go func() {
			time.Sleep(20 * time.Millisecond)
			r, err := http.Post(env.server.URL+"/v1/jobs/qj_2/result", "text/plain",
				bytes.NewBufferString("the answer"))
			if err == nil {
				r.Body.Close()
			}
		}()

		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_2/result?asyncAfter=5000")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, "the answer", buf.String())
	})

	t.Run("completed result returns immediately", func(t *testing.T) {
		env.saveRow(t, "qj_3")
		require.NoError(t, env.results.Save(context.Background(), &jobs.Result{
			Ticket:      "qj_3",
			Payload:     []byte("done"),
			ContentType: "text/plain",
		}))

		started := time.Now()
		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_3/result?asyncAfter=60000")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		require.Less(t, time.Since(started), 5*time.Second)
	})

	t.Run("negative asyncAfter is a client error", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_1/result?asyncAfter=-1")
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("non-numeric asyncAfter is a client error", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/v1/jobs/qj_1/result?asyncAfter=soon")
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestSubmitThenAwaitRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	// Submit a job.
	resp, err := http.Post(env.server.URL+"/v1/jobs", "application/json",
		bytes.NewBufferString(`{"fields":[{"name":"query","value":"daily report"}]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var view map[string]string
	decodeBody(t, resp, &view)
	ticket := view["ticket"]
	require.NotEmpty(t, ticket)

	// Complete it from another goroutine while a waiter blocks.
	go func() {
		time.Sleep(20 * time.Millisecond)
		r, err := http.Post(fmt.Sprintf("%s/v1/jobs/%s/result", env.server.URL, ticket),
			"application/json", bytes.NewBufferString(`{"report":"ready"}`))
		if err == nil {
			r.Body.Close()
		}
	}()

	resp, err = http.Get(fmt.Sprintf("%s/v1/jobs/%s/result?asyncAfter=5000", env.server.URL, ticket))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]string
	decodeBody(t, resp, &result)
	require.Equal(t, "ready", result["report"])
}
