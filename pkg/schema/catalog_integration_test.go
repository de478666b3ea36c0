// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestLoad_KeyColumnDetectedByNameMatch(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(db *sql.DB, _ string) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE customers (id integer PRIMARY KEY, tenant_id integer)`)
		require.NoError(t, err)

		cat, err := schema.Load(ctx, db, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		customers, ok := cat.Table("customers")
		require.True(t, ok)
		assert.Equal(t, "tenant_id", customers.KeyColumn)
	})
}

// TestLoad_KeyColumnDetectedByReferenceToKeyTable covers spec.md §3's
// second clause: a table's key column can also be a foreign-key column
// that references the configured key table directly, even when its own
// name never appears in the configured key-column names.
func TestLoad_KeyColumnDetectedByReferenceToKeyTable(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(db *sql.DB, _ string) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE tenants (id integer PRIMARY KEY)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `CREATE TABLE workspaces (id integer PRIMARY KEY, owner_id integer REFERENCES tenants(id))`)
		require.NoError(t, err)

		cat, err := schema.Load(ctx, db, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		workspaces, ok := cat.Table("workspaces")
		require.True(t, ok)
		assert.Equal(t, "owner_id", workspaces.KeyColumn)
	})
}

func TestLoad_KeyColumnNameMatchTakesPrecedenceOverFKReference(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(db *sql.DB, _ string) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE tenants (id integer PRIMARY KEY)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `CREATE TABLE workspaces (id integer PRIMARY KEY, tenant_id integer, owner_id integer REFERENCES tenants(id))`)
		require.NoError(t, err)

		cat, err := schema.Load(ctx, db, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		workspaces, ok := cat.Table("workspaces")
		require.True(t, ok)
		assert.Equal(t, "tenant_id", workspaces.KeyColumn)
	})
}

func TestLoad_NoKeyTableNameLeavesUnmatchedTablesWithoutKeyColumn(t *testing.T) {
	t.Parallel()

	testutils.WithSource(t, func(db *sql.DB, _ string) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE tenants (id integer PRIMARY KEY)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `CREATE TABLE workspaces (id integer PRIMARY KEY, owner_id integer REFERENCES tenants(id))`)
		require.NoError(t, err)

		cat, err := schema.Load(ctx, db, testutils.TestSchema(), []string{"tenant_id"}, "")
		require.NoError(t, err)

		workspaces, ok := cat.Table("workspaces")
		require.True(t, ok)
		assert.Empty(t, workspaces.KeyColumn)
	})
}
