// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"

	"github.com/ustyuzhaniniv/databaser/pkg/schema"
)

// CollectKeyTable seeds the key table's own need-transfer set with the
// primary keys matching Config.KeyValues directly. Every other closure
// stage starts from this seed: the key-column closure walks foreign keys
// outward from here. It is grounded on KeyTableCollector.collect /
// _prepare_key_table_values, which selects the key table's primary keys
// where its own primary key (not a separate key column — the key table's
// PK is a tenant's identity) is in the configured key values.
func (e *Engine) CollectKeyTable(ctx context.Context) error {
	table, ok := e.Catalog.Table(e.Config.KeyTableName)
	if !ok {
		return schema.TableNotFoundError{Name: e.Config.KeyTableName}
	}
	if table.PrimaryKey == "" {
		return schema.NoPrimaryKeyError{Table: table.Name}
	}

	pks := table.AddNeedTransferPKs(e.Config.KeyValues)
	e.Logger.Info("seeded key table", "table", table.Name, "count", len(pks))

	// The key table's transfer set is exactly the configured tenant set
	// (P1 Seed fidelity) — nothing later may add to or replace it, so it
	// is marked ready immediately rather than left for the
	// dependency-sorted sweep to reselect via a FK condition with no
	// tenant predicate.
	table.MarkReady()

	return nil
}
