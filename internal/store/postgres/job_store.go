package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/queryjobs/internal/filter"
	"github.com/wolfeidau/queryjobs/internal/jobs"
)

// JobStore implements the store.JobStore interface using PostgreSQL as the
// backend. Job rows are stored with their field list as a JSONB array so
// field order survives round trips, and filter predicates are compiled to
// parameterized SQL over that array.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a PostgreSQL-backed job store over a shared pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Start is a no-op; the pool owns connection lifecycle.
func (s *JobStore) Start() error {
	return nil
}

// Stop is a no-op; the pool is closed by its owner.
func (s *JobStore) Stop() error {
	return nil
}

// Get returns the row for the ticket, or nil when no such job exists.
func (s *JobStore) Get(ctx context.Context, ticket string) (*jobs.JobRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticket, fields FROM job_rows WHERE ticket = $1`, ticket)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapPostgresError(err)
		}
		return nil, nil
	}
	return scanJobRow(rows.Scan)
}

// GetAll returns every row, oldest first.
func (s *JobStore) GetAll(ctx context.Context) ([]*jobs.JobRow, error) {
	return s.query(ctx,
		`SELECT ticket, fields FROM job_rows ORDER BY created_at ASC, ticket ASC`)
}

// GetFiltered returns the rows matching every predicate in the set, oldest
// first. An empty set returns all rows.
func (s *JobStore) GetFiltered(ctx context.Context, filters filter.FilterSet) ([]*jobs.JobRow, error) {
	query, args, err := compileFilterQuery(filters)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, query, args...)
}

// Save creates the row, or replaces the field list when the ticket exists.
func (s *JobStore) Save(ctx context.Context, row *jobs.JobRow) error {
	fieldsJSON, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_rows (ticket, fields)
		VALUES ($1, $2)
		ON CONFLICT (ticket)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()
	`, row.Ticket, fieldsJSON)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().Str("ticket", row.Ticket).Int("fields", len(row.Fields)).Msg("Saved job row")
	return nil
}

func (s *JobStore) query(ctx context.Context, query string, args ...any) ([]*jobs.JobRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var out []*jobs.JobRow
	for rows.Next() {
		row, err := scanJobRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}
	return out, nil
}

func scanJobRow(scan func(...any) error) (*jobs.JobRow, error) {
	var (
		row        jobs.JobRow
		fieldsJSON []byte
	)
	if err := scan(&row.Ticket, &fieldsJSON); err != nil {
		return nil, mapPostgresError(err)
	}
	if err := json.Unmarshal(fieldsJSON, &row.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return &row, nil
}

// compileFilterQuery compiles a predicate set into parameterized SQL over
// the JSONB fields array. Values are never interpolated, and every query
// carries a deterministic ORDER BY.
func compileFilterQuery(filters filter.FilterSet) (string, []any, error) {
	query := `SELECT ticket, fields FROM job_rows WHERE 1=1`

	var args []any
	argIdx := 1

	for _, pred := range filters {
		cond, predArgs, err := compilePredicate(pred, argIdx)
		if err != nil {
			return "", nil, err
		}
		query += " AND " + cond
		args = append(args, predArgs...)
		argIdx += len(predArgs)
	}

	query += " ORDER BY created_at ASC, ticket ASC"
	return query, args, nil
}

// compilePredicate compiles one predicate to an EXISTS condition over the
// row's field array. argIdx is the 1-based index of the next placeholder.
func compilePredicate(pred filter.Predicate, argIdx int) (string, []any, error) {
	const elem = `jsonb_array_elements(fields) AS f`

	switch pred.Operation {
	case filter.OpEquals, filter.OpIn:
		cond := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM %s WHERE f->>'name' = $%d AND f->>'value' = ANY($%d))`,
			elem, argIdx, argIdx+1)
		return cond, []any{pred.Field, pred.Values}, nil

	case filter.OpNotIn:
		cond := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM %s WHERE f->>'name' = $%d AND NOT (f->>'value' = ANY($%d)))`,
			elem, argIdx, argIdx+1)
		return cond, []any{pred.Field, pred.Values}, nil

	case filter.OpContains:
		cond := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM %s WHERE f->>'name' = $%d AND f->>'value' LIKE ANY($%d))`,
			elem, argIdx, argIdx+1)
		return cond, []any{pred.Field, likePatterns(pred.Values, "%", "%")}, nil

	case filter.OpStartsWith:
		cond := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM %s WHERE f->>'name' = $%d AND f->>'value' LIKE ANY($%d))`,
			elem, argIdx, argIdx+1)
		return cond, []any{pred.Field, likePatterns(pred.Values, "", "%")}, nil

	default:
		return "", nil, fmt.Errorf("unsupported filter operation: %s", pred.Operation)
	}
}

// likePatterns converts literal values into LIKE patterns, escaping the LIKE
// metacharacters in the value itself.
func likePatterns(values []string, prefix, suffix string) []string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, prefix+escaper.Replace(v)+suffix)
	}
	return out
}
