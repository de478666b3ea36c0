// SPDX-License-Identifier: Apache-2.0

// Package closure computes, for a tenant-scoped subset of a Postgres
// database, the full set of rows across every table that must be copied to
// preserve referential integrity: the key table's own rows, every row
// reachable by following foreign keys outward from the tenant (the
// key-column closure), every row of tables configured for full transfer,
// every row reachable through Django-style generic foreign keys, and
// finally every remaining table in dependency order so that tables with no
// direct tenant relationship still end up populated (reference/lookup
// tables), falling back to the whole table when nothing else scopes it.
package closure

import (
	"context"
	"database/sql"

	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
	"github.com/ustyuzhaniniv/databaser/pkg/queryrunner"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
	"github.com/ustyuzhaniniv/databaser/pkg/sqlbuilder"
)

// Config scopes a single closure run: which table carries the tenant key,
// which column(s) identify a tenant, which tables are excluded or fully
// transferred, and how much fan-out concurrency is allowed.
type Config struct {
	KeyTableName   string
	KeyColumnNames []string
	KeyValues      []string

	ExcludedTables              map[string]bool
	FullTransferTables          map[string]bool
	TablesWithGenericForeignKey map[string]bool

	// Concurrency bounds the number of goroutines any single fan-out stage
	// runs at once (errgroup.SetLimit).
	Concurrency int
}

// Engine ties together the loaded catalog, the SQL builder, the query
// runner, and a run's Config to perform the closure stages.
type Engine struct {
	Catalog *schema.Catalog
	Builder *sqlbuilder.Builder
	Runner  *queryrunner.Runner
	Logger  dblog.Logger
	Config  Config
}

// New constructs an Engine ready to run the closure stages against src.
func New(cat *schema.Catalog, src *sql.DB, logger dblog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = dblog.NoopLogger{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Engine{
		Catalog: cat,
		Builder: sqlbuilder.New(),
		Runner:  queryrunner.New(src, logger),
		Logger:  logger,
		Config:  cfg,
	}
}

// excluded reports whether table should be skipped entirely by every
// closure stage.
func (e *Engine) excluded(table string) bool {
	return e.Config.ExcludedTables[table]
}
