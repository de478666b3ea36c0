// SPDX-License-Identifier: Apache-2.0

// Package schema models the subset of a Postgres database's
// information_schema that the closure engine needs to reason about: tables,
// columns, and the foreign-key edges between them.
package schema

import "sync"

// NumericDataTypes are the Postgres data types treated as numeric primary
// keys; a numeric primary key is rendered unquoted in generated SQL while
// every other type is rendered as a quoted, doubled-quote-escaped literal.
var NumericDataTypes = map[string]bool{
	"smallint":    true,
	"integer":     true,
	"bigint":      true,
	"smallserial": true,
	"serial":      true,
	"bigserial":   true,
}

// Column describes a single column of a table.
type Column struct {
	Name     string
	DataType string
}

// IsNumeric reports whether values of this column should be rendered
// unquoted in generated SQL.
func (c Column) IsNumeric() bool {
	return NumericDataTypes[c.DataType]
}

// ForeignKey describes a single foreign-key constraint. Columns and
// ReferencedColumns are positionally paired; composite foreign keys are
// rare in practice but representable.
type ForeignKey struct {
	ConstraintName    string
	Table             string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	// IsUnique is true when the FK's source columns are also covered by a
	// unique or primary-key constraint on Table, i.e. the edge is
	// effectively one-to-one rather than one-to-many.
	IsUnique bool
}

// Self reports whether the foreign key references its own table.
func (fk ForeignKey) Self() bool {
	return fk.Table == fk.ReferencedTable
}

// Table is a single table's schema plus the closure engine's mutable
// bookkeeping about which of its rows have been selected for transfer.
//
// The mutable fields are guarded by mu because multiple goroutines walk
// disjoint parts of the dependency graph concurrently and may discover that
// the same table needs the same (or overlapping) primary keys pulled in.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey string // empty if the table has no single-column primary key

	// ForeignKeys are the edges pointing away from this table (this table
	// is the child, ReferencedTable is the parent).
	ForeignKeys []ForeignKey

	// ReferencedBy are the edges pointing at this table from other tables
	// (this table is the parent). Populated once, after the whole catalog
	// has been loaded, so every table's ForeignKeys have been seen.
	ReferencedBy []ForeignKey

	// KeyColumn is the name of the tenant-scoping column on this table, if
	// any (e.g. "organization_id"). Empty when the table carries no direct
	// tenant key.
	KeyColumn string

	// FullTransfer marks a table whose rows are copied in their entirety,
	// bypassing the closure walk.
	FullTransfer bool

	FullCount int64
	MaxPK     int64

	mu               sync.Mutex
	needTransferPKs  map[string]struct{}
	transferredCount int64
	ready            bool
	checked          bool
}

// NewTable constructs an empty table named name.
func NewTable(name string) *Table {
	return &Table{
		Name:            name,
		needTransferPKs: make(map[string]struct{}),
	}
}

// HasKeyColumn reports whether this table carries a direct tenant key
// column.
func (t *Table) HasKeyColumn() bool {
	return t.KeyColumn != ""
}

// AddNeedTransferPKs merges pks into the table's pending-transfer set and
// returns only the subset that was not already present. Collectors recurse
// only into that subset, which is what keeps the forward/reverse closure
// walk from visiting the same row twice.
func (t *Table) AddNeedTransferPKs(pks []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	fresh := make([]string, 0, len(pks))
	for _, pk := range pks {
		if _, ok := t.needTransferPKs[pk]; !ok {
			t.needTransferPKs[pk] = struct{}{}
			fresh = append(fresh, pk)
		}
	}
	return fresh
}

// NeedTransferPKs returns a snapshot of the table's pending-transfer set.
func (t *Table) NeedTransferPKs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.needTransferPKs))
	for pk := range t.needTransferPKs {
		out = append(out, pk)
	}
	return out
}

// NeedTransferCount returns the size of the pending-transfer set without
// copying it.
func (t *Table) NeedTransferCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.needTransferPKs)
}

// MarkReady flags the table as fully resolved for the dependency-sorted
// closure stage, so later passes don't redo its WHERE-clause construction.
func (t *Table) MarkReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
}

func (t *Table) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Table) MarkChecked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checked = true
}

func (t *Table) IsChecked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checked
}

// fullPreparedSlack is the tolerance used by IsFullPrepared: a table is
// treated as fully selected once its pending-transfer set is within this
// many rows of its total row count, since a handful of rows are typically
// inserted or deleted between the row-count probe and the closure walk.
const fullPreparedSlack = 100

// IsFullPrepared reports whether the pending-transfer set already covers
// (within fullPreparedSlack) every row in the table, in which case the
// sqlbuilder can skip the WHERE clause entirely and select all rows.
//
// A table with nothing selected yet is never reported as full, even for a
// table whose total row count is itself smaller than fullPreparedSlack
// (common for small lookup tables) — without that guard, 0 pending rows
// would trivially satisfy "within 100 of the total" for any table under
// 100 rows, and the dependency-sorted stage would mark it ready without
// ever selecting a single row.
func (t *Table) IsFullPrepared() bool {
	count := int64(t.NeedTransferCount())
	if t.FullCount == 0 || count == 0 {
		return false
	}
	return count >= t.FullCount-fullPreparedSlack
}
