// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// Catalog is the full set of tables the closure engine knows about, indexed
// for fast lookup and with each table's foreign-key priority buckets
// precomputed once after load.
type Catalog struct {
	// Tables is kept in a stable order (as returned by information_schema)
	// so that iteration order — and therefore log output and generated SQL
	// ordering — is deterministic across runs.
	Tables []*Table

	byName map[string]*Table

	// priority buckets, computed once by computePriorityBuckets after all
	// tables and foreign keys have been loaded. Keyed by table name.
	priority map[string]*priorityBucket
}

// priorityBucket groups a table's outgoing foreign keys the way
// db_entities.DBTable.highest_priority_fk_columns does: callers prefer the
// most selective bucket that is non-empty, falling back tier by tier.
type priorityBucket struct {
	// uniqueWithKeyColumn holds FKs that are unique (so at most one row per
	// parent row) and whose parent table carries a key column directly.
	uniqueWithKeyColumn []ForeignKey
	// uniqueTablesWithFKKeyColumn holds FKs that are unique and whose parent
	// table itself has an FK into a table with a key column.
	uniqueTablesWithFKKeyColumn []ForeignKey
	// withKeyColumn holds any (non-unique) FK whose parent table carries a
	// key column directly.
	withKeyColumn []ForeignKey
	// tablesWithFKKeyColumn holds any FK whose parent table has an FK into a
	// table with a key column.
	tablesWithFKKeyColumn []ForeignKey
	// notSelf is the fallback: every non-self-referencing FK, used when
	// none of the more selective tiers produced anything.
	notSelf []ForeignKey
}

// NewCatalog constructs an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byName: make(map[string]*Table)}
}

// Add registers t with the catalog. The caller is responsible for loading
// t's foreign keys before calling Build.
func (c *Catalog) Add(t *Table) {
	c.Tables = append(c.Tables, t)
	c.byName[t.Name] = t
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// MustTable looks up a table by name, panicking if absent. Used only where
// the caller has already validated the name came from the loaded schema.
func (c *Catalog) MustTable(name string) *Table {
	t, ok := c.byName[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown table %q", name))
	}
	return t
}

// Build finalizes the catalog after all tables and their forward foreign
// keys have been added: it populates each table's ReferencedBy slice and
// precomputes the priority buckets used by the dependency-sorted closure
// stage to pick the best available FK to filter on.
//
// Build corresponds to the point at which db_entities.BaseDatabase calls
// clear_cache() after a schema-loading batch: our buckets are computed once
// here rather than memoized lazily per property access, since Go has no
// direct analogue to Python's lru_cache and recomputing them per call would
// be wasteful given how often they're read during the closure walk.
func (c *Catalog) Build() {
	for _, t := range c.Tables {
		for _, fk := range t.ForeignKeys {
			if parent, ok := c.byName[fk.ReferencedTable]; ok {
				parent.ReferencedBy = append(parent.ReferencedBy, fk)
			}
		}
	}

	c.priority = make(map[string]*priorityBucket, len(c.Tables))
	for _, t := range c.Tables {
		c.priority[t.Name] = c.computePriorityBucket(t)
	}
}

func (c *Catalog) computePriorityBucket(t *Table) *priorityBucket {
	b := &priorityBucket{}

	for _, fk := range t.ForeignKeys {
		if fk.Self() {
			continue
		}
		b.notSelf = append(b.notSelf, fk)

		parent, ok := c.byName[fk.ReferencedTable]
		if !ok {
			continue
		}

		parentHasKeyColumn := parent.HasKeyColumn()
		parentHasFKToKeyColumnTable := c.hasFKToKeyColumnTable(parent)

		switch {
		case fk.IsUnique && parentHasKeyColumn:
			b.uniqueWithKeyColumn = append(b.uniqueWithKeyColumn, fk)
		case fk.IsUnique && parentHasFKToKeyColumnTable:
			b.uniqueTablesWithFKKeyColumn = append(b.uniqueTablesWithFKKeyColumn, fk)
		case parentHasKeyColumn:
			b.withKeyColumn = append(b.withKeyColumn, fk)
		case parentHasFKToKeyColumnTable:
			b.tablesWithFKKeyColumn = append(b.tablesWithFKKeyColumn, fk)
		}
	}

	return b
}

func (c *Catalog) hasFKToKeyColumnTable(t *Table) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Self() {
			continue
		}
		if parent, ok := c.byName[fk.ReferencedTable]; ok && parent.HasKeyColumn() {
			return true
		}
	}
	return false
}

// HighestPriorityForeignKeys returns the most selective non-empty bucket of
// t's outgoing foreign keys, in the tier order: unique+key-column,
// unique+tables-with-key-column, key-column, tables-with-key-column,
// not-self. An empty slice means t has no non-self-referencing foreign key
// at all.
func (c *Catalog) HighestPriorityForeignKeys(t *Table) []ForeignKey {
	b, ok := c.priority[t.Name]
	if !ok {
		return nil
	}

	for _, tier := range [][]ForeignKey{
		b.uniqueWithKeyColumn,
		b.uniqueTablesWithFKKeyColumn,
		b.withKeyColumn,
		b.tablesWithFKKeyColumn,
		b.notSelf,
	} {
		if len(tier) > 0 {
			return tier
		}
	}
	return nil
}

// Load reads the table, column, and foreign-key structure of schemaName
// from conn's information_schema and constructs a Catalog. A table's key
// column is the first of its columns whose name appears in
// keyColumnNames, or — when none does — the first of its foreign-key
// columns that references keyTableName directly (e.g. an owner_id FK into
// the key table, even though "owner_id" itself is never in
// keyColumnNames).
func Load(ctx context.Context, conn *sql.DB, schemaName string, keyColumnNames []string, keyTableName string) (*Catalog, error) {
	cat := NewCatalog()

	tableRows, err := conn.QueryContext(ctx, selectTableNamesSQL, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: listing tables: %w", err)
	}
	defer tableRows.Close()

	var names []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schema: scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err := tableRows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)

	for _, name := range names {
		t := NewTable(name)

		colRows, err := conn.QueryContext(ctx, selectColumnsSQL, schemaName, name)
		if err != nil {
			return nil, fmt.Errorf("schema: listing columns of %s: %w", name, err)
		}
		for colRows.Next() {
			var col Column
			if err := colRows.Scan(&col.Name, &col.DataType); err != nil {
				colRows.Close()
				return nil, fmt.Errorf("schema: scanning column of %s: %w", name, err)
			}
			col.DataType = normalizeDataType(col.DataType)
			t.Columns = append(t.Columns, col)
			for _, key := range keyColumnNames {
				if col.Name == key && t.KeyColumn == "" {
					t.KeyColumn = key
				}
			}
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, err
		}

		pk, err := loadPrimaryKey(ctx, conn, schemaName, name)
		if err != nil {
			return nil, err
		}
		t.PrimaryKey = pk

		if pk != "" {
			count, maxPK, err := loadCountAndMaxPK(ctx, conn, schemaName, t)
			if err != nil {
				return nil, err
			}
			t.FullCount = count
			t.MaxPK = maxPK
		}

		cat.Add(t)
	}

	for _, t := range cat.Tables {
		fks, err := loadForeignKeys(ctx, conn, schemaName, t.Name)
		if err != nil {
			return nil, err
		}
		t.ForeignKeys = fks

		if t.KeyColumn == "" && keyTableName != "" {
			for _, fk := range fks {
				if fk.ReferencedTable == keyTableName {
					t.KeyColumn = fk.Columns[0]
					break
				}
			}
		}
	}

	cat.Build()
	return cat, nil
}

// normalizeDataType mirrors db_entities.DBTable.append_column's ARRAY
// normalization: Postgres reports array column types as e.g. "ARRAY" via
// some drivers' information_schema views; we fold that to the conventional
// "<base> array" form used when rendering values back into SQL.
func normalizeDataType(dataType string) string {
	if dataType == "ARRAY" {
		return "integer array"
	}
	return dataType
}

func loadPrimaryKey(ctx context.Context, conn *sql.DB, schemaName, table string) (string, error) {
	rows, err := conn.QueryContext(ctx, selectPrimaryKeySQL, schemaName, table)
	if err != nil {
		return "", fmt.Errorf("schema: loading primary key of %s: %w", table, err)
	}
	defer rows.Close()

	var pk string
	if rows.Next() {
		if err := rows.Scan(&pk); err != nil {
			return "", err
		}
	}
	return pk, rows.Err()
}

// loadCountAndMaxPK reports t's total row count and, for a numeric primary
// key, its maximum value (used by dbaction.SequenceBumper; for a
// non-numeric primary key the max is meaningless, so the count is reused in
// its place, matching get_count_table_records's own fallback). Populating
// this once at load time, rather than on first use, is what lets
// Table.IsFullPrepared short-circuit the dependency-sorted closure stage
// for a table already fully selected.
func loadCountAndMaxPK(ctx context.Context, conn *sql.DB, schemaName string, t *Table) (int64, int64, error) {
	numeric := false
	for _, col := range t.Columns {
		if col.Name == t.PrimaryKey {
			numeric = col.IsNumeric()
			break
		}
	}

	maxExpr := "count(*)"
	if numeric {
		maxExpr = fmt.Sprintf(`max(%s)`, pq.QuoteIdentifier(t.PrimaryKey))
	}

	query := fmt.Sprintf(
		`SELECT count(*), %s FROM %s.%s`,
		maxExpr, pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(t.Name),
	)

	var count, maxPK sql.NullInt64
	if err := conn.QueryRowContext(ctx, query).Scan(&count, &maxPK); err != nil {
		return 0, 0, fmt.Errorf("schema: counting %s: %w", t.Name, err)
	}
	return count.Int64, maxPK.Int64, nil
}

func loadForeignKeys(ctx context.Context, conn *sql.DB, schemaName, table string) ([]ForeignKey, error) {
	rows, err := conn.QueryContext(ctx, selectForeignKeysSQL, schemaName, table)
	if err != nil {
		return nil, fmt.Errorf("schema: loading foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var column, refColumn string
		if err := rows.Scan(&fk.ConstraintName, &column, &fk.ReferencedTable, &refColumn, &fk.IsUnique); err != nil {
			return nil, err
		}
		fk.Table = table
		fk.Columns = []string{column}
		fk.ReferencedColumns = []string{refColumn}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

const selectTableNamesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
  AND table_type = 'BASE TABLE'
ORDER BY table_name
`

const selectColumnsSQL = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
ORDER BY ordinal_position
`

const selectPrimaryKeySQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.columns c
  ON c.table_schema = kcu.table_schema
 AND c.table_name = kcu.table_name
 AND c.column_name = kcu.column_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1
  AND tc.table_name = $2
  AND c.data_type != 'date'
LIMIT 1
`

const selectForeignKeysSQL = `
SELECT
  tc.constraint_name,
  kcu.column_name,
  ccu.table_name AS referenced_table,
  ccu.column_name AS referenced_column,
  EXISTS (
    SELECT 1
    FROM information_schema.table_constraints utc
    JOIN information_schema.key_column_usage ukcu
      ON utc.constraint_name = ukcu.constraint_name
     AND utc.table_schema = ukcu.table_schema
    WHERE utc.table_schema = tc.table_schema
      AND utc.table_name = tc.table_name
      AND ukcu.column_name = kcu.column_name
      AND utc.constraint_type IN ('UNIQUE', 'PRIMARY KEY')
  ) AS is_unique
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name
 AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = $1
  AND tc.table_name = $2
`
