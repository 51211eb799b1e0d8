package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/jobs"
	"github.com/wolfeidau/queryjobs/internal/store"
	"github.com/wolfeidau/queryjobs/internal/telemetry"
)

// ResultStore implements store.ResultStore using PostgreSQL. Payloads are
// zstd-compressed at rest with a CRC64-NVME checksum of the uncompressed
// bytes, verified on every read.
type ResultStore struct {
	pool    *pgxpool.Pool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewResultStore creates a PostgreSQL-backed result store over a shared pool.
func NewResultStore(pool *pgxpool.Pool) (*ResultStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &ResultStore{pool: pool, encoder: encoder, decoder: decoder}, nil
}

// Get returns the result for the ticket, or nil when not yet available.
func (s *ResultStore) Get(ctx context.Context, ticket string) (*jobs.Result, error) {
	var (
		result     jobs.Result
		compressed []byte
		checksum   int64
		storedAt   time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT ticket, payload, checksum, content_type, stored_at
		FROM job_results
		WHERE ticket = $1
	`, ticket).Scan(&result.Ticket, &compressed, &checksum, &result.ContentType, &storedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapPostgresError(err)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress result payload: %w", err)
	}

	// Checksums are stored bit-cast to int64; compare in uint64 space.
	if crc64nvme.Checksum(payload) != uint64(checksum) {
		return nil, fmt.Errorf("%w: %s", store.ErrChecksumMismatch, ticket)
	}

	result.Payload = payload
	result.StoredAt = storedAt
	return &result, nil
}

// Save durably stores the result. A second save for the same ticket fails
// with store.ErrResultExists via the primary key constraint.
func (s *ResultStore) Save(ctx context.Context, result *jobs.Result) error {
	compressed := s.encoder.EncodeAll(result.Payload, nil)
	checksum := int64(crc64nvme.Checksum(result.Payload))

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	storedAt := result.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_results (ticket, payload, checksum, content_type, stored_at)
		VALUES ($1, $2, $3, $4, $5)
	`, result.Ticket, compressed, checksum, contentType, storedAt)
	if err != nil {
		return mapPostgresError(err)
	}

	m := telemetry.GetMetrics()
	m.ResultsStoredTotal.Add(ctx, 1)
	m.ResultBytesStored.Add(ctx, int64(len(result.Payload)))

	log.Debug().
		Str("ticket", result.Ticket).
		Int("bytes", len(result.Payload)).
		Int("compressed_bytes", len(compressed)).
		Msg("Stored job result")
	return nil
}
