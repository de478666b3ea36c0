// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"
	"fmt"

	"github.com/ustyuzhaniniv/databaser/internal/topsort"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/sqlbuilder"
)

// CollectDependencySorted resolves every table the key-column and
// full-transfer stages left untouched: reference and lookup tables with no
// direct tenant relationship, processed in an order that guarantees a
// table's parents (by its highest-priority foreign key) have already had
// their own need-transfer set computed before this stage needs to read it.
// It is grounded on SortedByDependencyTablesCollector.collect: build a
// dependency graph over every non-excluded, non-generic-FK table,
// topologically sort it, and walk the
// result sequentially — deliberately not in parallel, since a table's
// WHERE clause depends on its parent's need-transfer set already being
// final.
func (e *Engine) CollectDependencySorted(ctx context.Context) error {
	order := e.dependencyOrder()

	for _, name := range order {
		t, ok := e.Catalog.Table(name)
		if !ok || e.excluded(name) {
			continue
		}
		if err := e.prepareUnreadyTable(ctx, t); err != nil {
			return fmt.Errorf("closure: preparing %s: %w", name, err)
		}
	}
	return nil
}

// dependencyOrder returns every non-excluded, non-generic-FK table in an
// order where a table always appears after every table it has a
// non-self foreign key into, with isolated tables (no foreign keys in
// either direction) first and cyclic tables immediately after them.
func (e *Engine) dependencyOrder() []string {
	var edges []topsort.Edge
	var isolated []string

	for _, t := range e.Catalog.Tables {
		if e.excluded(t.Name) || e.Config.TablesWithGenericForeignKey[t.Name] {
			continue
		}

		hasEdge := false
		for _, fk := range t.ForeignKeys {
			if fk.Self() {
				continue
			}
			if _, ok := e.Catalog.Table(fk.ReferencedTable); !ok {
				continue
			}
			if e.excluded(fk.ReferencedTable) {
				continue
			}
			edges = append(edges, topsort.Edge{Head: fk.ReferencedTable, Tail: t.Name})
			hasEdge = true
		}

		hasIncoming := false
		for _, fk := range t.ReferencedBy {
			if fk.Self() || e.excluded(fk.Table) || e.Config.TablesWithGenericForeignKey[fk.Table] {
				continue
			}
			hasIncoming = true
			break
		}

		// A table with only self-referencing foreign keys (a hierarchy with
		// no other relationship) contributes no edge in either direction,
		// so it would otherwise never appear in topsort's output at all.
		if !hasEdge && !hasIncoming {
			isolated = append(isolated, t.Name)
		}
	}

	result := topsort.Sort(edges)

	order := make([]string, 0, len(isolated)+len(result.Cyclic)+len(result.Ordered))
	order = append(order, isolated...)
	order = append(order, result.Cyclic...)
	order = append(order, result.Ordered...)
	return order
}

// prepareUnreadyTable resolves t's need-transfer set from whichever of its
// foreign keys the schema ranks highest priority (see
// schema.Catalog.HighestPriorityForeignKeys), unions in rows pulled by
// already-resolved child tables pointing at t, and falls back to
// selecting every row of t if that still leaves nothing — every table
// must end up with a defined subset, even if that subset turns out to be
// "everything", the way small unrelated lookup tables end up in the
// original.
func (e *Engine) prepareUnreadyTable(ctx context.Context, t *schema.Table) error {
	if t.IsReady() || t.FullTransfer {
		return nil
	}
	if t.PrimaryKey == "" {
		t.MarkReady()
		return nil
	}
	if t.IsFullPrepared() {
		t.MarkReady()
		return nil
	}

	for _, fk := range e.Catalog.HighestPriorityForeignKeys(t) {
		parent, ok := e.Catalog.Table(fk.ReferencedTable)
		if !ok {
			continue
		}
		parentPKs := parent.NeedTransferPKs()
		if len(parentPKs) == 0 {
			continue
		}

		cond := sqlbuilder.Condition{Column: fk.Columns[0], Values: parentPKs}
		for _, q := range e.Builder.SelectByConditions(t.Name, []string{t.PrimaryKey}, []sqlbuilder.Condition{cond}) {
			vals, ran, err := e.Runner.Values(ctx, q)
			if err != nil {
				return err
			}
			if ran {
				t.AddNeedTransferPKs(vals)
			}
		}
	}

	revertVals, err := e.revertTableValues(ctx, t)
	if err != nil {
		return err
	}
	if len(revertVals) > 0 {
		t.AddNeedTransferPKs(revertVals)
	}

	if t.NeedTransferCount() == 0 {
		query := e.Builder.SelectAll(t.Name, []string{t.PrimaryKey})
		vals, ran, err := e.Runner.Values(ctx, query)
		if err != nil {
			return err
		}
		if ran {
			t.AddNeedTransferPKs(vals)
		}
	}

	t.MarkReady()
	return nil
}

// revertTableValues gathers the values of t's primary key that
// already-resolved child tables reference through their own foreign keys,
// so that a lookup table doesn't miss a row that an unrelated closure
// stage already decided a child needs. Tables that carry their own key
// column are skipped as a source here unless t itself also carries one:
// a key-column child's need-transfer set reflects that child's own
// tenant scope, not a dependency t should inherit.
func (e *Engine) revertTableValues(ctx context.Context, t *schema.Table) ([]string, error) {
	var all []string

	for _, fk := range t.ReferencedBy {
		if fk.Self() {
			continue
		}

		child, ok := e.Catalog.Table(fk.Table)
		if !ok || e.excluded(child.Name) {
			continue
		}
		if child.HasKeyColumn() && !t.HasKeyColumn() {
			continue
		}

		childPKs := child.NeedTransferPKs()
		if len(childPKs) == 0 || child.PrimaryKey == "" {
			continue
		}

		cond := sqlbuilder.Condition{Column: child.PrimaryKey, Values: childPKs}
		for _, q := range e.Builder.SelectByConditions(child.Name, []string{fk.Columns[0]}, []sqlbuilder.Condition{cond}) {
			vals, ran, err := e.Runner.Values(ctx, q)
			if err != nil {
				return nil, err
			}
			if ran {
				all = append(all, vals...)
			}
		}
	}

	return all, nil
}
