// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ustyuzhaniniv/databaser/cmd/flags"
	"github.com/ustyuzhaniniv/databaser/internal/connstr"
	"github.com/ustyuzhaniniv/databaser/internal/stats"
	"github.com/ustyuzhaniniv/databaser/pkg/closure"
	"github.com/ustyuzhaniniv/databaser/pkg/config"
	"github.com/ustyuzhaniniv/databaser/pkg/dbaction"
	"github.com/ustyuzhaniniv/databaser/pkg/dbconn"
	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve and transfer a tenant-scoped subset of the source database",
		RunE:  runRun,
	}

	flags.KeyValues(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := dblog.NewPtermLogger(dblog.ParseLevel(cfg.LogLevel))

	sourceDSN, err := connstr.AppendSearchPathOption(cfg.SourceDSN, cfg.Schema)
	if err != nil {
		return fmt.Errorf("parsing source connection string: %w", err)
	}
	srcPool, err := dbconn.Open(sourceDSN, 0)
	if err != nil {
		return fmt.Errorf("connecting to source: %w", err)
	}
	defer srcPool.Close()
	src := srcPool.RawConn()

	destinationDSN, err := connstr.AppendSearchPathOption(cfg.DestinationDSN, cfg.Schema)
	if err != nil {
		return fmt.Errorf("parsing destination connection string: %w", err)
	}
	dstPool, err := dbconn.Open(destinationDSN, 0)
	if err != nil {
		return fmt.Errorf("connecting to destination: %w", err)
	}
	defer dstPool.Close()
	dst := dstPool.RawConn()

	cat, err := schema.Load(ctx, src, cfg.Schema, cfg.KeyColumnNames, cfg.KeyTableName)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	keyValues, _ := cmd.Flags().GetStringSlice("key-values")

	toSet := func(names []string) map[string]bool {
		m := make(map[string]bool, len(names))
		for _, n := range names {
			m[n] = true
		}
		return m
	}

	engine := closure.New(cat, src, logger, closure.Config{
		KeyTableName:                cfg.KeyTableName,
		KeyColumnNames:              cfg.KeyColumnNames,
		KeyValues:                   keyValues,
		ExcludedTables:              toSet(cfg.ExcludedTables),
		FullTransferTables:          toSet(cfg.FullTransferTables),
		TablesWithGenericForeignKey: toSet(cfg.TablesWithGenericForeignKey),
	})

	report := stats.New()
	if err := engine.Run(ctx, report); err != nil {
		return fmt.Errorf("computing closure: %w", err)
	}

	logger.Info(report.String())

	action := dbaction.NewSQLAction(dst)
	if cfg.IsTruncateTables {
		if err := action.Truncate(ctx, truncateTargets(cfg, cat)); err != nil {
			return fmt.Errorf("truncating destination: %w", err)
		}
	}

	for _, t := range cat.Tables {
		pks := t.NeedTransferPKs()
		if len(pks) == 0 {
			continue
		}

		if err := action.DisableTriggers(ctx, t.Name); err != nil {
			return fmt.Errorf("disabling triggers on %s: %w", t.Name, err)
		}

		_, transferErr := action.Transfer(ctx, t, pks)

		if err := action.EnableTriggers(ctx, t.Name); err != nil {
			return fmt.Errorf("re-enabling triggers on %s: %w", t.Name, err)
		}
		if transferErr != nil {
			return fmt.Errorf("transferring %s: %w", t.Name, transferErr)
		}

		if maxPK, ok := maxNumericPK(pks); ok {
			if err := action.BumpSequence(ctx, t.Name, t.PrimaryKey, maxPK); err != nil {
				return fmt.Errorf("bumping sequence for %s: %w", t.Name, err)
			}
		}
	}

	return nil
}

// maxNumericPK returns the largest value in pks when every entry parses as
// an integer. Tables with a non-numeric (e.g. UUID) primary key have
// nothing for SequenceBumper to advance, so ok is false.
func maxNumericPK(pks []string) (int64, bool) {
	var max int64
	found := false
	for _, pk := range pks {
		n, err := strconv.ParseInt(pk, 10, 64)
		if err != nil {
			return 0, false
		}
		if !found || n > max {
			max = n
		}
		found = true
	}
	return max, found
}

// truncateTargets returns the set of destination tables to truncate before
// a run: every table named in TablesTruncateIncluded, or (when that list is
// empty) every catalog table minus TablesTruncateExcluded.
func truncateTargets(cfg *config.Config, cat *schema.Catalog) []string {
	if len(cfg.TablesTruncateIncluded) > 0 {
		return cfg.TablesTruncateIncluded
	}

	excluded := make(map[string]bool, len(cfg.TablesTruncateExcluded))
	for _, t := range cfg.TablesTruncateExcluded {
		excluded[t] = true
	}

	var out []string
	for _, t := range cat.Tables {
		if !excluded[t.Name] {
			out = append(out, t.Name)
		}
	}
	return out
}
