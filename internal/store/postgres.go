package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-aggregator/internal/models"
	"price-aggregator/internal/sink"
)

// Store wraps pgxpool for Postgres persistence. It doubles as the default result sink.
type Store struct {
	pool *pgxpool.Pool
}

var _ sink.Sink = (*Store)(nil)

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Write stores the job's result and overwrites the latest slot in one transaction.
func (s *Store) Write(ctx context.Context, result models.AggregateResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO aggregate_results (job_id, location, query, result, listing_count, group_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE
		SET result = EXCLUDED.result, listing_count = EXCLUDED.listing_count,
		    group_count = EXCLUDED.group_count, created_at = EXCLUDED.created_at
	`, result.JobID, result.Location, result.Query, body, len(result.RankedListings), len(result.ProductGroups), result.Timestamp)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO latest_result (slot, job_id, result, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (slot) DO UPDATE
		SET job_id = EXCLUDED.job_id, result = EXCLUDED.result, updated_at = EXCLUDED.updated_at
	`, result.JobID, body)
	if err != nil {
		return fmt.Errorf("update latest result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadLatest returns the most recently written result.
func (s *Store) ReadLatest(ctx context.Context) (models.AggregateResult, error) {
	return s.readResult(ctx, `SELECT result FROM latest_result WHERE slot = 1`)
}

// Read returns the result written for jobID.
func (s *Store) Read(ctx context.Context, jobID string) (models.AggregateResult, error) {
	return s.readResult(ctx, `SELECT result FROM aggregate_results WHERE job_id = $1`, jobID)
}

func (s *Store) readResult(ctx context.Context, query string, args ...any) (models.AggregateResult, error) {
	var body []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AggregateResult{}, sink.ErrNotFound
		}
		return models.AggregateResult{}, fmt.Errorf("query result: %w", err)
	}
	var res models.AggregateResult
	if err := json.Unmarshal(body, &res); err != nil {
		return models.AggregateResult{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return res, nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// AuditTrail lists audit rows for a job, oldest first.
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, ts FROM audit_logs WHERE job_id = $1 ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
