// SPDX-License-Identifier: Apache-2.0

package closure

import (
	"context"

	"github.com/ustyuzhaniniv/databaser/internal/stats"
)

// Run executes every closure stage in the fixed order the original
// orchestrator uses: seed the key table, resolve full-transfer tables,
// walk the key-column closure outward from every tenant-scoped table,
// resolve generic foreign keys against whatever the key-column closure
// already pulled in, and finally sweep every remaining table in
// dependency order. Each stage is wrapped in report.Sample so a run's
// timing and memory profile can be inspected afterward.
func (e *Engine) Run(ctx context.Context, report *stats.Report) error {
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{stats.StageKeyTable, e.CollectKeyTable},
		{stats.StageFullTransfer, e.CollectFullTransfer},
		{stats.StageKeyColumnClosure, e.CollectKeyColumnClosure},
		{stats.StageGenericFKClosure, e.CollectGenericForeignKeys},
		{stats.StageDependencySort, e.CollectDependencySorted},
	}

	for _, s := range stages {
		s := s
		if err := report.Sample(s.name, func() error { return s.fn(ctx) }); err != nil {
			return err
		}
		e.Logger.Info("stage complete", "stage", s.name)
	}

	for _, t := range e.Catalog.Tables {
		report.RecordTable(t.Name, 0, int64(t.NeedTransferCount()))
	}

	return nil
}
