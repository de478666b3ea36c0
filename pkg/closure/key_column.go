// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/sqlbuilder"
)

// CollectKeyColumnClosure walks the foreign-key graph outward from every
// table that carries the tenant key column, in both directions: forward
// along each table's own foreign keys (a row needs its referenced parent
// rows too) and in reverse along the foreign keys of every table that
// points at it (pulling a parent row in means the child rows that already
// pointed at it are now in scope too). It is grounded on
// TablesWithKeyColumnSiblingsCollector, the most involved collector in the
// original: _direct_recursively_preparing_* for the forward pass and
// _revert_recursively_preparing_* for the reverse pass.
//
// Self-referencing foreign keys (a category table with a parent_id column
// pointing at its own primary key) need no special case here: the forward
// pass recurses into the referenced table regardless of whether that table
// is the same one it started from, and recursion only continues while
// fresh primary keys keep showing up, which is exactly the condition a
// self-referencing hierarchy needs to climb to its root and then stop. The
// original's explicit stack_tables visited set (reused, but with the
// current table removed, specifically to allow the self case) is
// reproduced here implicitly by schema.Table.AddNeedTransferPKs: a table
// can only ever contribute a finite number of fresh primary keys, so every
// recursive chain is guaranteed to terminate without needing a separate
// per-path visited set.
func (e *Engine) CollectKeyColumnClosure(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Concurrency)

	keyTable, ok := e.Catalog.Table(e.Config.KeyTableName)
	if !ok {
		return schema.TableNotFoundError{Name: e.Config.KeyTableName}
	}

	seed := keyTable.NeedTransferPKs()
	g.Go(func() error { return e.forwardPass(gctx, g, keyTable, seed) })
	g.Go(func() error { return e.reversePass(gctx, g, keyTable, seed) })

	for _, t := range e.Catalog.Tables {
		if t.Name == keyTable.Name || !t.HasKeyColumn() || e.excluded(t.Name) {
			continue
		}
		t := t
		g.Go(func() error { return e.seedKeyColumnTable(gctx, g, t) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Every table carrying the key column (the key table itself is marked
	// ready in CollectKeyTable already) is now finalized: forward/reverse
	// propagation across the whole stage has quiesced, since every
	// recursive call shares this same errgroup and g.Wait only returns
	// once all of it has settled. Marking them ready here, rather than
	// per-table as soon as each is seeded, matters because a key-column
	// table can still receive rows from a sibling key-column table's
	// forward pass (e.g. invoices.workspace_id pulling its workspace row
	// in) after its own seed has finished. Without this, the
	// dependency-sorted stage would treat an untouched or legitimately
	// empty key-column table as unready and fall back to selecting every
	// row, pulling in out-of-scope tenants.
	for _, t := range e.Catalog.Tables {
		if t.HasKeyColumn() && !e.excluded(t.Name) {
			t.MarkReady()
		}
	}

	return nil
}

// seedKeyColumnTable selects t's own primary keys directly, by its key
// column, and starts forward/reverse passes from the fresh rows. This
// mirrors _prepare_tables_with_key_column seeding every table that carries
// the key column directly, not just the designated key table.
func (e *Engine) seedKeyColumnTable(ctx context.Context, g *errgroup.Group, t *schema.Table) error {
	if t.PrimaryKey == "" {
		return nil
	}

	cond := sqlbuilder.Condition{
		Column:   t.KeyColumn,
		Values:   e.Config.KeyValues,
		Nullable: true,
	}
	query := e.Builder.SelectByConditions(t.Name, []string{t.PrimaryKey}, []sqlbuilder.Condition{cond})

	var fresh []string
	for _, q := range query {
		vals, ran, err := e.Runner.Values(ctx, q)
		if err != nil {
			return fmt.Errorf("closure: seeding %s: %w", t.Name, err)
		}
		if !ran {
			continue
		}
		fresh = append(fresh, t.AddNeedTransferPKs(vals)...)
	}
	if len(fresh) == 0 {
		return nil
	}

	g.Go(func() error { return e.forwardPass(ctx, g, t, fresh) })
	g.Go(func() error { return e.reversePass(ctx, g, t, fresh) })
	return nil
}

// forwardPass chunks newPKs and, for every foreign key t declares, pulls in
// the referenced parent rows those chunk's values point at.
func (e *Engine) forwardPass(ctx context.Context, g *errgroup.Group, t *schema.Table, newPKs []string) error {
	if len(newPKs) == 0 || t.PrimaryKey == "" {
		return nil
	}

	for _, chunk := range chunkStrings(newPKs, e.Builder.ChunkSize) {
		chunk := chunk
		if err := e.forwardChunk(ctx, g, t, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) forwardChunk(ctx context.Context, g *errgroup.Group, t *schema.Table, chunk []string) error {
	for _, fk := range t.ForeignKeys {
		parent, ok := e.Catalog.Table(fk.ReferencedTable)
		if !ok || e.excluded(parent.Name) || parent.PrimaryKey == "" {
			continue
		}

		cond := sqlbuilder.Condition{Column: t.PrimaryKey, Values: chunk}
		queries := e.Builder.SelectByConditions(t.Name, []string{fk.Columns[0]}, []sqlbuilder.Condition{cond})

		for _, q := range queries {
			q := q
			parent := parent
			vals, ran, err := e.Runner.Values(ctx, q)
			if err != nil {
				return fmt.Errorf("closure: forward %s -> %s: %w", t.Name, parent.Name, err)
			}
			if !ran {
				continue
			}

			fresh := parent.AddNeedTransferPKs(vals)
			if len(fresh) == 0 {
				continue
			}
			g.Go(func() error { return e.forwardPass(ctx, g, parent, fresh) })
			g.Go(func() error { return e.reversePass(ctx, g, parent, fresh) })
		}
	}
	return nil
}

// reversePass chunks newPKs and, for every table with a foreign key
// pointing at t, pulls in the child rows that reference those chunk's
// values. Newly-pulled child rows trigger both another reverse pass
// (their own children) and a forward pass (their own parents other than
// t), since being pulled in as a sibling doesn't exempt a row from needing
// its own referential closure.
func (e *Engine) reversePass(ctx context.Context, g *errgroup.Group, t *schema.Table, newPKs []string) error {
	if len(newPKs) == 0 {
		return nil
	}

	for _, chunk := range chunkStrings(newPKs, e.Builder.ChunkSize) {
		chunk := chunk
		if err := e.reverseChunk(ctx, g, t, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reverseChunk(ctx context.Context, g *errgroup.Group, t *schema.Table, chunk []string) error {
	for _, fk := range t.ReferencedBy {
		if fk.Self() {
			continue
		}

		child, ok := e.Catalog.Table(fk.Table)
		if !ok || e.excluded(child.Name) || child.PrimaryKey == "" {
			continue
		}
		// Tables with their own key column are seeded directly by
		// seedKeyColumnTable; pulling them in here too would just
		// re-derive the same rows through a slower path.
		if child.HasKeyColumn() {
			continue
		}
		// Only walk back through child's highest-priority foreign keys,
		// mirroring _revert_recursively_preparing_revert_table's
		// "revert_column in revert_table.highest_priority_fk_columns"
		// gate: a table with several outgoing FKs only has its most
		// selective tier honoured for reverse closure, the same tier
		// dependency_sorted.go falls back on, so a low-priority back-edge
		// can't pull rows into t that a higher-priority edge didn't scope.
		if !fkInTier(e.Catalog.HighestPriorityForeignKeys(child), fk) {
			continue
		}

		cond := sqlbuilder.Condition{Column: fk.Columns[0], Values: chunk}
		queries := e.Builder.SelectByConditions(child.Name, []string{child.PrimaryKey}, []sqlbuilder.Condition{cond})

		for _, q := range queries {
			q := q
			child := child
			vals, ran, err := e.Runner.Values(ctx, q)
			if err != nil {
				return fmt.Errorf("closure: reverse %s -> %s: %w", t.Name, child.Name, err)
			}
			if !ran {
				continue
			}

			fresh := child.AddNeedTransferPKs(vals)
			if len(fresh) == 0 {
				continue
			}
			g.Go(func() error { return e.reversePass(ctx, g, child, fresh) })
			g.Go(func() error { return e.forwardPass(ctx, g, child, fresh) })
		}
	}
	return nil
}

// fkInTier reports whether fk appears in tier, matched by constraint name.
func fkInTier(tier []schema.ForeignKey, fk schema.ForeignKey) bool {
	for _, candidate := range tier {
		if candidate.ConstraintName == fk.ConstraintName {
			return true
		}
	}
	return false
}

// chunkStrings splits values into groups of at most size.
func chunkStrings(values []string, size int) [][]string {
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
