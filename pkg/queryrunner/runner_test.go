// SPDX-License-Identifier: Apache-2.0

package queryrunner

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
)

func TestIsTolerableSchemaError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"syntax error", &pq.Error{Code: syntaxErrorCode}, true},
		{"undefined column", &pq.Error{Code: undefinedColumnErrCode}, true},
		{"lock timeout", &pq.Error{Code: "55P03"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTolerableSchemaError(tc.err))
		})
	}
}

// countingConn always returns a tolerable schema error, so Runner's dedup
// path can be exercised without a real *sql.Rows.
type countingConn struct {
	mu    sync.Mutex
	calls int
}

func (c *countingConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil, &pq.Error{Code: syntaxErrorCode}
}

func TestRunner_Values_DedupesIdenticalQueries(t *testing.T) {
	conn := &countingConn{}
	r := New(conn, dblog.NoopLogger{})

	_, ran1, err := r.Values(context.Background(), "SELECT 1")
	assert.NoError(t, err)
	assert.True(t, ran1)

	_, ran2, err := r.Values(context.Background(), "SELECT 1")
	assert.NoError(t, err)
	assert.False(t, ran2)

	assert.Equal(t, 1, conn.calls)
}
