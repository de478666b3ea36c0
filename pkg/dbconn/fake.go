// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"
)

// FakeConn is a fake implementation of Conn. All methods are no-ops; tests
// that need real rows back should use testutils' containerized Postgres
// instead.
type FakeConn struct{}

func (c *FakeConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (c *FakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (c *FakeConn) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	return nil
}

func (c *FakeConn) RawConn() *sql.DB {
	return nil
}

func (c *FakeConn) Close() error {
	return nil
}
