// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ustyuzhaniniv/databaser/pkg/schema"
)

// CollectFullTransfer seeds every table named in Config.FullTransferTables
// with its complete set of primary keys, so later stages treat the table as
// already resolved rather than trying to compute a subset of it. Grounded
// on FullTransferCollector.collect / _prepare_full_transfer_table, which
// selects every row of a full-transfer table up front instead of letting
// the dependency-sorted stage discover it lazily through foreign keys.
func (e *Engine) CollectFullTransfer(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Concurrency)

	for name := range e.Config.FullTransferTables {
		name := name
		g.Go(func() error {
			return e.prepareFullTransferTable(gctx, name)
		})
	}

	return g.Wait()
}

func (e *Engine) prepareFullTransferTable(ctx context.Context, name string) error {
	table, ok := e.Catalog.Table(name)
	if !ok {
		return schema.TableNotFoundError{Name: name}
	}
	if table.PrimaryKey == "" {
		return schema.NoPrimaryKeyError{Table: name}
	}

	table.FullTransfer = true

	query := e.Builder.SelectAll(table.Name, []string{table.PrimaryKey})
	values, ran, err := e.Runner.Values(ctx, query)
	if err != nil {
		return fmt.Errorf("closure: full-transfer %s: %w", name, err)
	}
	if !ran {
		return nil
	}

	added := table.AddNeedTransferPKs(values)
	e.Logger.Info("full-transfer table prepared", "table", name, "count", len(added))
	return nil
}
