// SPDX-License-Identifier: Apache-2.0

// Package sqlbuilder assembles the SELECT statements the closure engine
// issues against the source database: chunked IN-list lookups over one or
// more foreign-key columns, combined so that no single query exceeds
// Postgres' practical limits on IN-list size.
package sqlbuilder

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// DefaultChunkSize is the maximum number of literal values placed in a
// single IN (...) list. 60000 keeps generated queries comfortably under
// Postgres' parameter and statement-size limits for the wide tables this
// engine is typically pointed at.
const DefaultChunkSize = 60000

// Builder renders SELECT statements. ChunkSize is a field rather than a
// package constant so tests can exercise the chunking and Cartesian
// combination logic with small values.
type Builder struct {
	ChunkSize int
}

// New returns a Builder using DefaultChunkSize.
func New() *Builder {
	return &Builder{ChunkSize: DefaultChunkSize}
}

// Condition is a single `column IN (values...)` restriction (or, with
// Nullable set, `column IN (values...) OR column IS NULL`). Values must
// already be rendered as SQL literals; use RenderValue/RenderValues.
type Condition struct {
	Column   string
	Values   []string
	Nullable bool
}

// chunk splits values into groups of at most size, preserving order.
func chunk(values []string, size int) [][]string {
	if size <= 0 || len(values) <= size {
		if len(values) == 0 {
			return nil
		}
		return [][]string{values}
	}

	var chunks [][]string
	for len(values) > 0 {
		n := size
		if n > len(values) {
			n = len(values)
		}
		chunks = append(chunks, values[:n])
		values = values[n:]
	}
	return chunks
}

// RenderValue renders a single column value as a SQL literal: numeric
// columns are rendered bare, every other column is single-quoted with
// embedded single quotes doubled.
func RenderValue(value string, numeric bool) string {
	if numeric {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// RenderValues renders a slice of column values as SQL literals.
func RenderValues(values []string, numeric bool) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = RenderValue(v, numeric)
	}
	return out
}

// QuoteIdentifier quotes name as a Postgres identifier.
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// conditionFragment renders a single column's predicate fragment
// (`col IN (...)`, optionally `OR col IS NULL`), or the empty string for a
// tautological condition with no values — such fragments are dropped
// entirely rather than emitted as `IN ()`, which Postgres rejects.
func conditionFragment(column string, values []string, nullable bool) string {
	if len(values) == 0 {
		return ""
	}

	frag := QuoteIdentifier(column) + " IN (" + strings.Join(values, ", ") + ")"
	if nullable {
		frag = "(" + frag + " OR " + QuoteIdentifier(column) + " IS NULL)"
	}
	return frag
}

// SelectByConditions builds one or more `SELECT columns FROM table WHERE
// ...` statements selecting rows matching every condition in conditions
// (ANDed together). When a condition's value list exceeds ChunkSize, it is
// split into chunks and the statement is split too, producing the
// Cartesian product of chunk combinations across every condition that
// needed chunking; conditions that fit in a single chunk are ANDed onto
// every resulting statement unchanged.
//
// This mirrors SQLRepository.get_table_column_values_sql's separation of
// "single" and "multiple" chunked conditions: chunking more than one column
// independently and then pairing chunk 1 of column A with chunk 1 of column
// B (etc.) would silently drop rows whose A-match and B-match fall in
// different chunk indices, so instead every combination of chunks across
// the multi-chunk conditions is issued as its own statement.
func (b *Builder) SelectByConditions(table string, columns []string, conditions []Condition) []string {
	size := b.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	type chunkedCondition = struct {
		column   string
		nullable bool
		chunks   [][]string
	}

	var single []chunkedCondition
	var multiple []chunkedCondition

	for _, c := range conditions {
		chunks := chunk(c.Values, size)
		if len(chunks) == 0 {
			continue
		}
		cc := chunkedCondition{column: c.Column, nullable: c.Nullable, chunks: chunks}
		if len(chunks) > 1 {
			multiple = append(multiple, cc)
		} else {
			single = append(single, cc)
		}
	}

	singleFragments := make([]string, 0, len(single))
	for _, s := range single {
		if frag := conditionFragment(s.column, s.chunks[0], s.nullable); frag != "" {
			singleFragments = append(singleFragments, frag)
		}
	}

	if len(multiple) == 0 {
		return []string{b.selectSQL(table, columns, singleFragments)}
	}

	combinations := cartesianIndices(multiple)

	queries := make([]string, 0, len(combinations))
	for _, combo := range combinations {
		fragments := append([]string{}, singleFragments...)
		for i, idx := range combo {
			m := multiple[i]
			if frag := conditionFragment(m.column, m.chunks[idx], m.nullable); frag != "" {
				fragments = append(fragments, frag)
			}
		}
		queries = append(queries, b.selectSQL(table, columns, fragments))
	}
	return queries
}

// cartesianIndices returns every combination of chunk indices across conds,
// one index per condition, e.g. for conditions with 2 and 3 chunks
// respectively it returns [0 0] [0 1] [0 2] [1 0] [1 1] [1 2].
func cartesianIndices(conds []struct {
	column   string
	nullable bool
	chunks   [][]string
}) [][]int {
	combos := [][]int{{}}
	for _, c := range conds {
		var next [][]int
		for _, combo := range combos {
			for i := range c.chunks {
				nc := append(append([]int{}, combo...), i)
				next = append(next, nc)
			}
		}
		combos = next
	}
	return combos
}

func (b *Builder) selectSQL(table string, columns []string, fragments []string) string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if len(columns) == 0 {
		sb.WriteString("*")
	} else {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = QuoteIdentifier(c)
		}
		sb.WriteString(strings.Join(quoted, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdentifier(table))

	if len(fragments) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(fragments, " AND "))
	}

	return sb.String()
}

// SelectAll builds a statement selecting every row of table, used once a
// table is fully prepared and the WHERE clause can be elided entirely.
func (b *Builder) SelectAll(table string, columns []string) string {
	return b.selectSQL(table, columns, nil)
}

// SelectCount builds a `SELECT count(*)` statement.
func (b *Builder) SelectCount(table string) string {
	return "SELECT count(*) FROM " + QuoteIdentifier(table)
}

// SelectMaxPK builds a `SELECT max(pk)` statement.
func (b *Builder) SelectMaxPK(table, pkColumn string) string {
	return "SELECT max(" + QuoteIdentifier(pkColumn) + ") FROM " + QuoteIdentifier(table)
}

// FormatInt renders an int64 as a bare numeric literal for use as a
// Condition value.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
