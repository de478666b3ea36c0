// SPDX-License-Identifier: Apache-2.0

package dbconn_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ustyuzhaniniv/databaser/pkg/dbconn"
	"github.com/ustyuzhaniniv/databaser/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestPool_ExecContext_RetriesOnLockTimeout(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		pool := &dbconn.Pool{DB: conn}
		_, err := pool.ExecContext(ctx, "INSERT INTO test(id) VALUES (1)")
		require.NoError(t, err)
	})
}

func TestPool_ExecContext_ContextCancelledWhileWaitingForLock(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(conn *sql.DB, connStr string) {
		ctx, cancel := context.WithCancel(context.Background())
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		pool := &dbconn.Pool{DB: conn}

		go time.AfterFunc(500*time.Millisecond, cancel)

		_, err := pool.ExecContext(ctx, "INSERT INTO test(id) VALUES (1)")
		require.Error(t, err)
	})
}

func TestPool_QueryContext_RetriesOnLockTimeout(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		pool := &dbconn.Pool{DB: conn}
		rows, err := pool.QueryContext(ctx, "SELECT count(*) FROM test")
		require.NoError(t, err)

		var count int
		require.NoError(t, dbconn.ScanFirstValue(rows, &count))
		assert.Equal(t, 0, count)
	})
}

func TestPool_WithRetryableTransaction_RetriesOnLockTimeout(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		setupTableLock(t, connStr, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		pool := &dbconn.Pool{DB: conn}
		err := pool.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT 1 FROM test").Err()
		})
		require.NoError(t, err)
	})
}

func TestPool_RawConn(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(conn *sql.DB, _ string) {
		pool := &dbconn.Pool{DB: conn}
		assert.Same(t, conn, pool.RawConn())
	})
}

// setupTableLock creates a table and holds an exclusive lock on it in a
// background transaction for d, the same way a long-running migration would.
func setupTableLock(t *testing.T, connStr string, d time.Duration) {
	t.Helper()
	ctx := context.Background()

	conn2, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	_, err = conn2.ExecContext(ctx, "CREATE TABLE test (id INT PRIMARY KEY)")
	require.NoError(t, err)

	errCh := make(chan error)
	go func() {
		tx, err := conn2.Begin()
		if err != nil {
			errCh <- err
			return
		}

		_, err = tx.ExecContext(ctx, "LOCK TABLE test IN ACCESS EXCLUSIVE MODE")
		if err != nil {
			errCh <- err
			return
		}

		errCh <- nil

		time.Sleep(d)
		tx.Commit()
	}()

	require.NoError(t, <-errCh)
}

func ensureLockTimeout(t *testing.T, conn *sql.DB, ms int) {
	t.Helper()

	query := fmt.Sprintf("SET lock_timeout = '%dms'", ms)
	_, err := conn.ExecContext(context.Background(), query)
	require.NoError(t, err)

	var lockTimeout string
	err = conn.QueryRowContext(context.Background(), "SHOW lock_timeout").Scan(&lockTimeout)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%dms", ms), lockTimeout)
}
