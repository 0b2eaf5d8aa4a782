// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables the store writes to. Migrate applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS sequence_runs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    requests    JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS request_results (
    sequence_id      TEXT NOT NULL,
    step             INTEGER NOT NULL,
    request          TEXT NOT NULL,
    rendered         BYTEA,
    status_code      INTEGER,
    duration_ms      BIGINT,
    response_headers JSONB NOT NULL DEFAULT '{}',
    response_body    BYTEA,
    extracted_values JSONB NOT NULL DEFAULT '{}',
    failures         JSONB NOT NULL DEFAULT '[]',
    observed_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (sequence_id, step)
);
CREATE TABLE IF NOT EXISTS sequence_failures (
    sequence_id TEXT NOT NULL,
    position    INTEGER NOT NULL,
    kind        TEXT NOT NULL,
    request     TEXT NOT NULL,
    message     TEXT NOT NULL,
    members     JSONB NOT NULL DEFAULT '[]',
    PRIMARY KEY (sequence_id, position)
);
`

const (
	sqlUpsertRequest = `
        INSERT INTO request_results (sequence_id, step, request, rendered, status_code, duration_ms, response_headers, response_body, extracted_values, failures, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (sequence_id, step) DO UPDATE SET
            request = EXCLUDED.request,
            rendered = EXCLUDED.rendered,
            status_code = EXCLUDED.status_code,
            duration_ms = EXCLUDED.duration_ms,
            response_headers = EXCLUDED.response_headers,
            response_body = EXCLUDED.response_body,
            extracted_values = EXCLUDED.extracted_values,
            failures = EXCLUDED.failures,
            observed_at = EXCLUDED.observed_at;
    `
	sqlUpsertSequence = `
        INSERT INTO sequence_runs (id, status, requests, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            requests = EXCLUDED.requests,
            started_at = EXCLUDED.started_at,
            finished_at = EXCLUDED.finished_at;
    `
	sqlDeleteFailures = `DELETE FROM sequence_failures WHERE sequence_id = $1;`
	sqlSelectFailures = `
        SELECT kind, request, message, members
        FROM sequence_failures
        WHERE sequence_id = $1
        ORDER BY position ASC;
    `
)

var failureColumns = []string{"sequence_id", "position", "kind", "request", "message", "members"}

// Store persists execution results to PostgreSQL. It satisfies the engine's
// Reporter contract.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the result tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ReportRequest upserts one request step. Re-reporting the same step
// overwrites it.
func (s *Store) ReportRequest(ctx context.Context, rr schemas.RequestResult) error {
	extracted, err := jsonOrDefault(rr.ExtractedValues, len(rr.ExtractedValues) == 0, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode extracted values: %w", err)
	}
	failures, err := jsonOrDefault(rr.Failures, len(rr.Failures) == 0, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}

	var (
		statusCode, durationMs any
		body                   []byte
		headers                = []byte("{}")
	)
	if resp := rr.Response; resp != nil {
		statusCode = resp.StatusCode
		durationMs = resp.Duration.Milliseconds()
		body = resp.Body
		if headers, err = jsonOrDefault(resp.Headers, len(resp.Headers) == 0, "{}"); err != nil {
			return fmt.Errorf("failed to encode response headers: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, sqlUpsertRequest,
		rr.SequenceID, rr.Step, rr.Request, rr.Rendered,
		statusCode, durationMs, headers, body,
		extracted, failures,
		rr.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist request %s (sequence %s, step %d): %w", rr.Request, rr.SequenceID, rr.Step, err)
	}
	return nil
}

// ReportSequence stores the sequence summary and replaces its failure rows in
// one transaction. Steps are stored by ReportRequest.
func (s *Store) ReportSequence(ctx context.Context, res schemas.SequenceResult) error {
	requests, err := jsonOrDefault(res.Requests, len(res.Requests) == 0, "[]")
	if err != nil {
		return fmt.Errorf("failed to encode requests: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertSequence,
		res.SequenceID, string(res.Status), requests,
		res.StartedAt.UTC(), res.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to persist sequence %s: %w", res.SequenceID, err)
	}
	if _, err := tx.Exec(ctx, sqlDeleteFailures, res.SequenceID); err != nil {
		return fmt.Errorf("failed to clear failures of sequence %s: %w", res.SequenceID, err)
	}
	if len(res.Failures) > 0 {
		if err := s.persistFailures(ctx, tx, res.SequenceID, res.Failures); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistFailures(ctx context.Context, tx pgx.Tx, sequenceID string, failures []schemas.Failure) error {
	rows := make([][]interface{}, len(failures))
	for i, f := range failures {
		members, err := jsonOrDefault(f.Members, len(f.Members) == 0, "[]")
		if err != nil {
			return fmt.Errorf("failed to encode failure members: %w", err)
		}
		rows[i] = []interface{}{sequenceID, i, string(f.Kind), f.Request, f.Message, members}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"sequence_failures"}, failureColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy failures: %w", err)
	}
	if int(copyCount) != len(failures) {
		return fmt.Errorf("expected to copy %d failures, but copied %d", len(failures), copyCount)
	}
	return nil
}

// SequenceFailures returns the failures stored for a sequence, in the order
// they were recorded.
func (s *Store) SequenceFailures(ctx context.Context, sequenceID string) ([]schemas.Failure, error) {
	rows, err := s.pool.Query(ctx, sqlSelectFailures, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []schemas.Failure
	for rows.Next() {
		var (
			f       schemas.Failure
			kind    string
			members []byte
		)
		if err := rows.Scan(&kind, &f.Request, &f.Message, &members); err != nil {
			return nil, fmt.Errorf("failed to scan failure row: %w", err)
		}
		f.Kind = schemas.FailureKind(kind)
		if len(members) > 0 {
			if err := json.Unmarshal(members, &f.Members); err != nil {
				return nil, fmt.Errorf("failed to decode failure members: %w", err)
			}
		}
		if len(f.Members) == 0 {
			f.Members = nil
		}
		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return failures, nil
}

// jsonOrDefault encodes v, substituting def when empty so jsonb columns never
// hold SQL NULL.
func jsonOrDefault(v any, empty bool, def string) ([]byte, error) {
	if empty {
		return []byte(def), nil
	}
	return json.Marshal(v)
}
