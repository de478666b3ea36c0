// SPDX-License-Identifier: Apache-2.0

// Package queryrunner executes the SELECT statements sqlbuilder produces
// against a source connection pool, deduplicating identical queries across
// the whole run and treating schema-probe errors (querying a column or
// table that turns out not to exist) as "no rows" rather than a fatal
// error.
package queryrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
)

// Postgres error codes that BaseCollector._get_table_column_values_part
// treats as "the probe was invalid, return nothing" rather than propagating:
// a syntax error (malformed generated SQL, usually from an empty IN list
// slipping through) or a reference to a column that doesn't exist (a
// best-effort probe against a column name derived from configuration that
// doesn't actually exist on every candidate table).
const (
	syntaxErrorCode         pq.ErrorCode = "42601"
	undefinedColumnErrCode  pq.ErrorCode = "42703"
)

// Conn is the subset of *sql.DB queryrunner needs.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Runner executes queries and collects a single string column's worth of
// results from each row. Runner is safe for concurrent use: the dedup set
// is guarded internally.
type Runner struct {
	conn   Conn
	logger dblog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New constructs a Runner against conn. logger may be dblog.NoopLogger{}.
func New(conn Conn, logger dblog.Logger) *Runner {
	return &Runner{
		conn:   conn,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Values runs query and returns every non-NULL value of its (single) result
// column as a string. Rows renders NULL as the empty string, so an
// empty-string value is left out as well. If an identical query string has already been run during
// this Runner's lifetime, Values returns (nil, false) without touching the
// database — collectors rely on this to avoid re-issuing work that a
// sibling goroutine already performed for an overlapping chunk of PKs.
//
// A Postgres syntax error or undefined-column error is logged and treated
// as a successful empty result, the same way the original probe silently
// tolerates schema probes against tables that don't have the expected
// shape; every other error is returned to the caller.
func (r *Runner) Values(ctx context.Context, query string) ([]string, bool, error) {
	rows, ran, err := r.Rows(ctx, query)
	if err != nil || !ran {
		return nil, ran, err
	}

	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 && row[0] != "" {
			values = append(values, row[0])
		}
	}
	return values, true, nil
}

// Rows runs query and returns every row as a slice of column values
// (NULLs rendered as the empty string). It shares Values' dedup and
// schema-probe-error tolerance, for queries that need more than one
// result column — the generic foreign key closure's content-type lookup,
// for example.
func (r *Runner) Rows(ctx context.Context, query string) ([][]string, bool, error) {
	if !r.markSeen(query) {
		return nil, false, nil
	}

	rows, err := r.conn.QueryContext(ctx, query)
	if err != nil {
		if isTolerableSchemaError(err) {
			r.logger.Warn("tolerating schema probe error", "query", query, "error", err)
			return nil, true, nil
		}
		return nil, true, fmt.Errorf("queryrunner: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, true, fmt.Errorf("queryrunner: reading columns: %w", err)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, true, fmt.Errorf("queryrunner: scanning row: %w", err)
		}

		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, true, fmt.Errorf("queryrunner: iterating rows: %w", err)
	}

	return out, true, nil
}

// markSeen registers query in the process-wide dedup set and reports
// whether this call was the first to see it.
func (r *Runner) markSeen(query string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[query]; ok {
		return false
	}
	r.seen[query] = struct{}{}
	return true
}

func isTolerableSchemaError(err error) bool {
	pqErr := &pq.Error{}
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == syntaxErrorCode || pqErr.Code == undefinedColumnErrCode
}
