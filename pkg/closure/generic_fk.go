// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"
	"fmt"

	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/sqlbuilder"
)

// defaultContentTypeTable, defaultContentTypeColumn, and
// defaultObjectIDColumn follow Django's conventions for GenericForeignKey: a shared
// content-type table mapping (app_label, model) pairs to numeric IDs, and
// a (content_type_id, object_id) column pair on any table that wants to
// point at a row of an arbitrary other table instead of a single fixed
// one.
const (
	defaultContentTypeTable  = "django_content_type"
	defaultContentTypeColumn = "content_type_id"
	defaultObjectIDColumn    = "object_id"
)

// CollectGenericForeignKeys resolves every table configured in
// Config.TablesWithGenericForeignKey: a table with a (content_type_id,
// object_id) column pair pointing at an arbitrary other table rather than
// one fixed by a regular foreign key constraint. It is grounded on
// GenericTablesCollector: first resolve the content-type table into a
// table-name -> content-type-id map, then for every already-resolved
// target table whose primary key's data type matches object_id's, pull in
// the generic table's rows whose (content_type_id, object_id) pair points
// at one of that target's need-transfer primary keys.
func (e *Engine) CollectGenericForeignKeys(ctx context.Context) error {
	if len(e.Config.TablesWithGenericForeignKey) == 0 {
		return nil
	}

	contentTypeIDs, err := e.loadContentTypeIDs(ctx)
	if err != nil {
		return fmt.Errorf("closure: loading content types: %w", err)
	}

	for name := range e.Config.TablesWithGenericForeignKey {
		generic, ok := e.Catalog.Table(name)
		if !ok || e.excluded(name) || generic.PrimaryKey == "" {
			continue
		}

		objectIDType := ""
		for _, col := range generic.Columns {
			if col.Name == defaultObjectIDColumn {
				objectIDType = col.DataType
			}
		}

		for _, target := range e.Catalog.Tables {
			if target.Name == generic.Name || e.excluded(target.Name) {
				continue
			}
			targetPKType := ""
			for _, col := range target.Columns {
				if col.Name == target.PrimaryKey {
					targetPKType = col.DataType
				}
			}
			if targetPKType != objectIDType {
				continue
			}
			contentTypeID, ok := contentTypeIDs[target.Name]
			if !ok {
				continue
			}

			targetPKs := target.NeedTransferPKs()
			if len(targetPKs) == 0 {
				continue
			}

			if err := e.collectGenericRows(ctx, generic, contentTypeID, targetPKs); err != nil {
				return fmt.Errorf("closure: generic %s -> %s: %w", generic.Name, target.Name, err)
			}
		}
	}

	return nil
}

func (e *Engine) collectGenericRows(ctx context.Context, generic *schema.Table, contentTypeID string, objectIDs []string) error {
	conditions := []sqlbuilder.Condition{
		{Column: defaultContentTypeColumn, Values: []string{contentTypeID}},
		{Column: defaultObjectIDColumn, Values: objectIDs},
	}

	for _, q := range e.Builder.SelectByConditions(generic.Name, []string{generic.PrimaryKey}, conditions) {
		vals, ran, err := e.Runner.Values(ctx, q)
		if err != nil {
			return err
		}
		if ran {
			generic.AddNeedTransferPKs(vals)
		}
	}
	return nil
}

// loadContentTypeIDs maps every catalog table name to its Django
// content-type ID, by joining the table name against
// "<app_label>_<model>", Django's default table-naming convention. Tables
// with no matching content-type row are simply absent from the map.
func (e *Engine) loadContentTypeIDs(ctx context.Context) (map[string]string, error) {
	query := fmt.Sprintf(
		"SELECT id, app_label, model FROM %s",
		sqlbuilder.QuoteIdentifier(defaultContentTypeTable),
	)

	rows, ran, err := e.Runner.Rows(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ran {
		return map[string]string{}, nil
	}

	known := make(map[string]bool, len(e.Catalog.Tables))
	for _, t := range e.Catalog.Tables {
		known[t.Name] = true
	}

	ids := make(map[string]string)
	for _, row := range rows {
		if len(row) != 3 {
			continue
		}
		id, appLabel, model := row[0], row[1], row[2]
		candidate := appLabel + "_" + model
		if known[candidate] {
			ids[candidate] = id
		}
	}
	return ids, nil
}
