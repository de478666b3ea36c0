// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ustyuzhaniniv/databaser/internal/stats"
	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

// fixtureSchema builds a small tenant-scoped schema on src: tenants are the
// key table, customers belong to a tenant, orders belong to a customer,
// order_items belong to an order, countries is an unrelated lookup table
// every customer points at, and categories is a self-referencing hierarchy
// with no tenant relationship of its own.
func fixtureSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()

	stmts := []string{
		`CREATE TABLE tenants (id integer PRIMARY KEY, name text)`,
		`CREATE TABLE countries (id integer PRIMARY KEY, name text)`,
		`CREATE TABLE customers (
			id integer PRIMARY KEY,
			tenant_id integer NOT NULL REFERENCES tenants(id),
			country_id integer REFERENCES countries(id)
		)`,
		`CREATE TABLE orders (
			id integer PRIMARY KEY,
			customer_id integer NOT NULL REFERENCES customers(id)
		)`,
		`CREATE TABLE order_items (
			id integer PRIMARY KEY,
			order_id integer NOT NULL REFERENCES orders(id)
		)`,
		`CREATE TABLE categories (
			id integer PRIMARY KEY,
			parent_id integer REFERENCES categories(id)
		)`,

		`INSERT INTO tenants (id, name) VALUES (1, 'acme'), (2, 'globex')`,
		`INSERT INTO countries (id, name) VALUES (10, 'us'), (11, 'de')`,
		`INSERT INTO customers (id, tenant_id, country_id) VALUES
			(100, 1, 10), (101, 1, 11), (200, 2, 10)`,
		`INSERT INTO orders (id, customer_id) VALUES
			(1000, 100), (1001, 101), (2000, 200)`,
		`INSERT INTO order_items (id, order_id) VALUES
			(10000, 1000), (10001, 1001), (20000, 2000)`,
		`INSERT INTO categories (id, parent_id) VALUES
			(1, NULL), (2, 1), (3, 2)`,
	}

	for _, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

func TestEngine_Run_TenantClosure(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		fixtureSchema(t, src)

		ctx := context.Background()
		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
			KeyValues:      []string{"1"},
			Concurrency:    4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		tenants, ok := cat.Table("tenants")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"1"}, tenants.NeedTransferPKs())

		customers, ok := cat.Table("customers")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"100", "101"}, customers.NeedTransferPKs())

		orders, ok := cat.Table("orders")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"1000", "1001"}, orders.NeedTransferPKs())

		items, ok := cat.Table("order_items")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"10000", "10001"}, items.NeedTransferPKs())

		// countries has no key column and no direct tenant relationship, but
		// tenant 1's customers reference both of them, so the forward pass
		// from customers must pull both in even though tenant 2 also uses
		// country 10.
		countries, ok := cat.Table("countries")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"10", "11"}, countries.NeedTransferPKs())

		// categories has no relationship to tenants at all; the
		// dependency-sorted sweep must still give it a defined subset
		// (falling back to every row, since nothing scoped it).
		categories, ok := cat.Table("categories")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"1", "2", "3"}, categories.NeedTransferPKs())
	})
}

func TestEngine_Run_FullTransferTableIsUnscoped(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		fixtureSchema(t, src)

		ctx := context.Background()
		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:       "tenants",
			KeyColumnNames:     []string{"tenant_id"},
			KeyValues:          []string{"1"},
			FullTransferTables: map[string]bool{"countries": true},
			Concurrency:        4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		countries, ok := cat.Table("countries")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"10", "11"}, countries.NeedTransferPKs())
		assert.True(t, countries.FullTransfer)
	})
}

func TestEngine_Run_ExcludedTableNeverPopulated(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		fixtureSchema(t, src)

		ctx := context.Background()
		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
			KeyValues:      []string{"1"},
			ExcludedTables: map[string]bool{"order_items": true},
			Concurrency:    4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		items, ok := cat.Table("order_items")
		require.True(t, ok)
		assert.Equal(t, 0, items.NeedTransferCount())
	})
}

// TestEngine_Run_KeyColumnTableWithNoMatchingRowsStaysEmpty covers a
// key-column table with zero rows for the requested tenant: before a
// key-column table was promoted to ready at the end of
// CollectKeyColumnClosure, CollectDependencySorted's prepareUnreadyTable
// would re-resolve it via its own highest-priority foreign key, find
// nothing, and fall back to selecting every row — silently pulling in
// other tenants' data. invoices here has no rows at all for tenant 1, so
// its need-transfer set must stay empty rather than falling back to
// "every invoice".
func TestEngine_Run_KeyColumnTableWithNoMatchingRowsStaysEmpty(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		ctx := context.Background()

		stmts := []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY, name text)`,
			`CREATE TABLE invoices (
				id integer PRIMARY KEY,
				tenant_id integer NOT NULL REFERENCES tenants(id)
			)`,
			`INSERT INTO tenants (id, name) VALUES (1, 'acme'), (2, 'globex')`,
			`INSERT INTO invoices (id, tenant_id) VALUES (900, 2), (901, 2)`,
		}
		for _, stmt := range stmts {
			_, err := src.ExecContext(ctx, stmt)
			require.NoError(t, err, stmt)
		}

		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
			KeyValues:      []string{"1"},
			Concurrency:    4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		invoices, ok := cat.Table("invoices")
		require.True(t, ok)
		assert.Equal(t, 0, invoices.NeedTransferCount(), "tenant 2's invoices must not leak in via the select-all fallback")
	})
}

// TestEngine_Run_SeedIncludesRowsWithNullKeyColumn covers spec.md §4.2
// bullet 1: a key-column table's seed predicate must include rows whose
// key column is NULL alongside rows matching the requested tenant, not
// just the latter.
func TestEngine_Run_SeedIncludesRowsWithNullKeyColumn(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		ctx := context.Background()

		stmts := []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY, name text)`,
			`CREATE TABLE notes (
				id integer PRIMARY KEY,
				tenant_id integer REFERENCES tenants(id)
			)`,
			`INSERT INTO tenants (id, name) VALUES (1, 'acme'), (2, 'globex')`,
			`INSERT INTO notes (id, tenant_id) VALUES (1, 1), (2, NULL), (3, 2)`,
		}
		for _, stmt := range stmts {
			_, err := src.ExecContext(ctx, stmt)
			require.NoError(t, err, stmt)
		}

		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
			KeyValues:      []string{"1"},
			Concurrency:    4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		notes, ok := cat.Table("notes")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"1", "2"}, notes.NeedTransferPKs())
	})
}

// TestEngine_Run_ReverseClosureIgnoresLowerPriorityForeignKey covers the
// reverseChunk priority-tier gate: archives has two outgoing foreign
// keys, one into a key-column table (customers, its highest-priority
// tier) and one into an unrelated lookup table (regions, notSelf tier
// only). Tenant 2's archive happens to point at the same region as
// tenant 1's. Once regions is pulled into scope through the forward pass
// from tenant 1's own archive row, the reverse pass back out of regions
// must not also pull in tenant 2's archive row through the lower-priority
// region_id relationship.
func TestEngine_Run_ReverseClosureIgnoresLowerPriorityForeignKey(t *testing.T) {
	t.Parallel()

	testutils.WithSourceAndDestination(t, func(src, _ *sql.DB) {
		ctx := context.Background()

		stmts := []string{
			`CREATE TABLE tenants (id integer PRIMARY KEY, name text)`,
			`CREATE TABLE customers (
				id integer PRIMARY KEY,
				tenant_id integer NOT NULL REFERENCES tenants(id)
			)`,
			`CREATE TABLE regions (id integer PRIMARY KEY, name text)`,
			`CREATE TABLE archives (
				id integer PRIMARY KEY,
				customer_id integer NOT NULL REFERENCES customers(id),
				region_id integer NOT NULL REFERENCES regions(id)
			)`,
			`INSERT INTO tenants (id, name) VALUES (1, 'acme'), (2, 'globex')`,
			`INSERT INTO customers (id, tenant_id) VALUES (100, 1), (200, 2)`,
			`INSERT INTO regions (id, name) VALUES (10, 'emea')`,
			`INSERT INTO archives (id, customer_id, region_id) VALUES (1, 100, 10), (2, 200, 10)`,
		}
		for _, stmt := range stmts {
			_, err := src.ExecContext(ctx, stmt)
			require.NoError(t, err, stmt)
		}

		cat, err := schema.Load(ctx, src, testutils.TestSchema(), []string{"tenant_id"}, "tenants")
		require.NoError(t, err)

		e := New(cat, src, dblog.NoopLogger{}, Config{
			KeyTableName:   "tenants",
			KeyColumnNames: []string{"tenant_id"},
			KeyValues:      []string{"1"},
			Concurrency:    4,
		})

		require.NoError(t, e.Run(ctx, stats.New()))

		archives, ok := cat.Table("archives")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"1"}, archives.NeedTransferPKs(), "tenant 2's archive must not leak in through the shared region")

		regions, ok := cat.Table("regions")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"10"}, regions.NeedTransferPKs())
	})
}
