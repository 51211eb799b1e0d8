// Package async owns the asynchronous job-completion protocol: single-ticket
// lookup, filtered bulk listing, and the timeout-bounded wait that bridges
// the notification bus to the result store.
package async

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/filter"
	"github.com/wolfeidau/queryjobs/internal/jobs"
	"github.com/wolfeidau/queryjobs/internal/notify"
	"github.com/wolfeidau/queryjobs/internal/payload"
	"github.com/wolfeidau/queryjobs/internal/store"
	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

var (
	// ErrListingFailed indicates a bulk listing aborted because a row could
	// not be mapped to a view. The error carries the offending ticket.
	ErrListingFailed = errors.New("job listing failed")

	// ErrInfrastructure indicates the notification bus or the result store
	// was unavailable during a wait. Not retried here; the caller decides
	// whether to retry the whole wait.
	ErrInfrastructure = errors.New("notification infrastructure unavailable")
)

// Coordinator orchestrates the read paths of the jobs endpoint over the job
// store, the result store, the notification bus, and the view builder. It
// performs no client-side locking: per-ticket correctness rests on results
// being stored before their notifications are published.
type Coordinator struct {
	jobs    store.JobStore
	results store.ResultStore
	bus     notify.Bus
	builder payload.Builder
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(jobStore store.JobStore, results store.ResultStore, bus notify.Bus, builder payload.Builder) *Coordinator {
	return &Coordinator{
		jobs:    jobStore,
		results: results,
		bus:     bus,
		builder: builder,
	}
}

// Lookup returns the view for a single ticket. Absence is
// store.ErrJobNotFound, not a system fault.
func (c *Coordinator) Lookup(ctx context.Context, ticket string) (jobs.JobView, error) {
	telemetry.GetMetrics().JobLookupsTotal.Add(ctx, 1)

	row, err := c.jobs.Get(ctx, ticket)
	if err != nil {
		return jobs.JobView{}, fmt.Errorf("job store get: %w", err)
	}
	if row == nil {
		return jobs.JobView{}, fmt.Errorf("%w: %s", store.ErrJobNotFound, ticket)
	}

	view, err := c.builder.Build(row)
	if err != nil {
		return jobs.JobView{}, err
	}
	return view, nil
}

// CompileFilter compiles a filter query for the binding layer. An empty
// query compiles to an empty set, meaning no filtering.
func (c *Coordinator) CompileFilter(query string) (filter.FilterSet, error) {
	return filter.Compile(query)
}

// List returns a lazy sequence of job views, scoped by the filter query when
// one is given. The sequence is restartable per call and finite.
//
// A row that fails to map is logged and surfaced as ErrListingFailed with
// the offending ticket; views yielded before the failure stay with the
// consumer. An empty store yields an empty sequence.
func (c *Coordinator) List(ctx context.Context, filterQuery string) iter.Seq2[jobs.JobView, error] {
	return func(yield func(jobs.JobView, error) bool) {
		telemetry.GetMetrics().JobListingsTotal.Add(ctx, 1)

		var (
			rows []*jobs.JobRow
			err  error
		)
		if filterQuery == "" {
			rows, err = c.jobs.GetAll(ctx)
		} else {
			var filters filter.FilterSet
			filters, err = filter.Compile(filterQuery)
			if err != nil {
				yield(jobs.JobView{}, err)
				return
			}
			rows, err = c.jobs.GetFiltered(ctx, filters)
		}
		if err != nil {
			yield(jobs.JobView{}, fmt.Errorf("job store query: %w", err))
			return
		}

		for _, row := range rows {
			view, err := c.builder.Build(row)
			if err != nil {
				telemetry.GetMetrics().ListingFailuresTotal.Add(ctx, 1)
				log.Error().Err(err).Str("ticket", row.Ticket).Msg("Job row could not be mapped to a view")
				yield(jobs.JobView{}, fmt.Errorf("%w: %s", ErrListingFailed, row.Ticket))
				return
			}
			if !yield(view, nil) {
				return
			}
		}
	}
}

// AwaitResult blocks until the result for the ticket is available, the
// timeout elapses, or ctx is cancelled. A timeout resolves to (nil, nil);
// it is an "unavailable" outcome, not an error.
//
// The protocol is subscribe-then-check: the notification bus only delivers
// to subscribers active at publish time, so a result stored before the
// subscription became active would never be announced. Checking the result
// store after subscribing closes that window, and the ordering guarantee
// that results are stored before their notifications are published makes
// the store read after a matching notification safe.
func (c *Coordinator) AwaitResult(ctx context.Context, ticket string, timeout time.Duration) (*jobs.Result, error) {
	m := telemetry.GetMetrics()
	m.AwaitsStartedTotal.Add(ctx, 1)
	started := time.Now()
	defer func() {
		m.AwaitDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}()

	sub, err := c.bus.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %s", ErrInfrastructure, err)
	}
	defer sub.Close()

	// The result may predate the subscription.
	if result, err := c.readResult(ctx, ticket); err != nil {
		return nil, err
	} else if result != nil {
		m.AwaitsResolvedTotal.Add(ctx, 1)
		return result, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			m.AwaitsTimedOutTotal.Add(ctx, 1)
			log.Debug().Str("ticket", ticket).Dur("timeout", timeout).Msg("Wait elapsed without a result")
			return nil, nil

		case n, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("%w: subscription closed", ErrInfrastructure)
			}
			if n.Ticket != ticket {
				continue
			}

			result, err := c.readResult(ctx, ticket)
			if err != nil {
				return nil, err
			}
			if result == nil {
				// A duplicate notification for a ticket whose result was
				// consumed elsewhere, or an out-of-order publish. Keep
				// waiting rather than resolving empty early.
				log.Warn().Str("ticket", ticket).Msg("Notification arrived before result was readable")
				continue
			}

			m.AwaitsResolvedTotal.Add(ctx, 1)
			return result, nil
		}
	}
}

func (c *Coordinator) readResult(ctx context.Context, ticket string) (*jobs.Result, error) {
	result, err := c.results.Get(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("%w: result store get: %s", ErrInfrastructure, err)
	}
	return result, nil
}
