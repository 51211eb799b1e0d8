package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/queryjobs"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Wait protocol metrics
	AwaitsStartedTotal  metric.Int64Counter
	AwaitsResolvedTotal metric.Int64Counter
	AwaitsTimedOutTotal metric.Int64Counter
	AwaitDuration       metric.Float64Histogram

	// Notification metrics
	NotificationsPublishedTotal metric.Int64Counter
	NotificationsDroppedTotal   metric.Int64Counter
	ActiveSubscriptions         metric.Int64UpDownCounter

	// Read path metrics
	JobLookupsTotal      metric.Int64Counter
	JobListingsTotal     metric.Int64Counter
	ListingFailuresTotal metric.Int64Counter

	// Result store metrics
	ResultsStoredTotal metric.Int64Counter
	ResultBytesStored  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Wait protocol metrics
	m.AwaitsStartedTotal, _ = meter.Int64Counter(
		"queryjobs.awaits.started.total",
		metric.WithDescription("Total number of result waits started"),
		metric.WithUnit("{wait}"),
	)

	m.AwaitsResolvedTotal, _ = meter.Int64Counter(
		"queryjobs.awaits.resolved.total",
		metric.WithDescription("Total number of waits resolved with a result"),
		metric.WithUnit("{wait}"),
	)

	m.AwaitsTimedOutTotal, _ = meter.Int64Counter(
		"queryjobs.awaits.timed_out.total",
		metric.WithDescription("Total number of waits that elapsed without a result"),
		metric.WithUnit("{wait}"),
	)

	m.AwaitDuration, _ = meter.Float64Histogram(
		"queryjobs.awaits.duration",
		metric.WithDescription("Duration of result waits"),
		metric.WithUnit("ms"),
	)

	// Notification metrics
	m.NotificationsPublishedTotal, _ = meter.Int64Counter(
		"queryjobs.notifications.published.total",
		metric.WithDescription("Total number of result-ready notifications published"),
		metric.WithUnit("{notification}"),
	)

	m.NotificationsDroppedTotal, _ = meter.Int64Counter(
		"queryjobs.notifications.dropped.total",
		metric.WithDescription("Total number of notifications dropped due to subscriber overflow"),
		metric.WithUnit("{notification}"),
	)

	m.ActiveSubscriptions, _ = meter.Int64UpDownCounter(
		"queryjobs.notifications.subscriptions.active",
		metric.WithDescription("Number of active notification subscriptions"),
		metric.WithUnit("{subscription}"),
	)

	// Read path metrics
	m.JobLookupsTotal, _ = meter.Int64Counter(
		"queryjobs.jobs.lookups.total",
		metric.WithDescription("Total number of single-ticket job lookups"),
		metric.WithUnit("{lookup}"),
	)

	m.JobListingsTotal, _ = meter.Int64Counter(
		"queryjobs.jobs.listings.total",
		metric.WithDescription("Total number of bulk job listings"),
		metric.WithUnit("{listing}"),
	)

	m.ListingFailuresTotal, _ = meter.Int64Counter(
		"queryjobs.jobs.listing_failures.total",
		metric.WithDescription("Total number of listings aborted by a row mapping failure"),
		metric.WithUnit("{failure}"),
	)

	// Result store metrics
	m.ResultsStoredTotal, _ = meter.Int64Counter(
		"queryjobs.results.stored.total",
		metric.WithDescription("Total number of job results stored"),
		metric.WithUnit("{result}"),
	)

	m.ResultBytesStored, _ = meter.Int64Counter(
		"queryjobs.results.bytes.total",
		metric.WithDescription("Total uncompressed bytes of job results stored"),
		metric.WithUnit("By"),
	)

	return m
}
