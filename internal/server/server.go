// Package server binds the job-completion coordinator to HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/queryjobs/internal/async"
	"github.com/wolfeidau/queryjobs/internal/filter"
	"github.com/wolfeidau/queryjobs/internal/jobs"
	"github.com/wolfeidau/queryjobs/internal/notify"
	"github.com/wolfeidau/queryjobs/internal/store"
)

// maxResultBytes bounds the result payload accepted from the executor.
const maxResultBytes = 64 << 20 // 64MiB

// Server exposes the jobs endpoint over HTTP. Reads go through the
// coordinator; the two POST routes are the executor boundary where rows and
// results enter the system.
type Server struct {
	coordinator       *async.Coordinator
	jobStore          store.JobStore
	results           store.ResultStore
	bus               notify.Bus
	defaultAsyncAfter time.Duration
}

// New creates a Server around the coordinator and its collaborators.
func New(coordinator *async.Coordinator, jobStore store.JobStore, results store.ResultStore, bus notify.Bus, defaultAsyncAfter time.Duration) *Server {
	return &Server{
		coordinator:       coordinator,
		jobStore:          jobStore,
		results:           results,
		bus:               bus,
		defaultAsyncAfter: defaultAsyncAfter,
	}
}

// Routes returns the chi router for the jobs API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Post("/", s.submitJob)
		r.Get("/{ticket}", s.getJob)
		r.Get("/{ticket}/result", s.awaitResult)
		r.Post("/{ticket}/result", s.completeJob)
	})

	return r
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")

	view, err := s.coordinator.Lookup(r.Context(), ticket)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filterQuery := r.URL.Query().Get("filters")

	views := make([]jobs.JobView, 0)
	for view, err := range s.coordinator.List(r.Context(), filterQuery) {
		if err != nil {
			if errors.Is(err, filter.ErrBadFilter) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) awaitResult(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")

	timeout := s.defaultAsyncAfter
	if raw := r.URL.Query().Get("asyncAfter"); raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || millis < 0 {
			writeError(w, http.StatusBadRequest, errors.New("asyncAfter must be a non-negative integer of milliseconds"))
			return
		}
		timeout = time.Duration(millis) * time.Millisecond
	}

	result, err := s.coordinator.AwaitResult(r.Context(), ticket, timeout)
	if err != nil {
		if errors.Is(err, async.ErrInfrastructure) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away; nothing useful to write.
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if result == nil {
		// Not an error: the result just isn't available yet.
		writeJSON(w, http.StatusAccepted, map[string]string{
			"ticket": ticket,
			"status": "pending",
		})
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Payload)
}

// submitRequest is the body accepted when registering a job row. Fields are
// a list, not an object, so their order is preserved.
type submitRequest struct {
	Ticket string       `json:"ticket,omitempty"`
	Fields []jobs.Field `json:"fields"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	row := &jobs.JobRow{Ticket: req.Ticket, Fields: req.Fields}
	if row.Ticket == "" {
		row.Ticket = jobs.NewTicket()
	}
	if _, ok := row.Get("status"); !ok {
		row.Set("status", "pending")
	}
	if _, ok := row.Get("dateCreated"); !ok {
		row.Set("dateCreated", time.Now().UTC().Format(time.RFC3339))
	}

	if err := s.jobStore.Save(r.Context(), row); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	view, err := s.coordinator.Lookup(r.Context(), row.Ticket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// completeJob stores the result and then publishes the notification. The
// order matters: a waiter woken by the notification must always find the
// result already stored.
func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	ticket := chi.URLParam(r, "ticket")
	ctx := r.Context()

	row, err := s.jobStore.Get(ctx, ticket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, errors.New("no job for ticket "+ticket))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxResultBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result := &jobs.Result{
		Ticket:      ticket,
		Payload:     payload,
		ContentType: r.Header.Get("Content-Type"),
	}

	if err := s.results.Save(ctx, result); err != nil {
		if errors.Is(err, store.ErrResultExists) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	row.Set("status", "success")
	if err := s.jobStore.Save(ctx, row); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.bus.Publish(ctx, ticket); err != nil {
		// The result is stored; waiters will still find it via the
		// check-after-subscribe path or a later poll.
		zerolog.Ctx(ctx).Error().Err(err).Str("ticket", ticket).Msg("Failed to publish result notification")
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"ticket": ticket,
		"status": "success",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
