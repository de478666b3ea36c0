// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ustyuzhaniniv/databaser/cmd/flags"
	"github.com/ustyuzhaniniv/databaser/internal/connstr"
	"github.com/ustyuzhaniniv/databaser/pkg/config"
	"github.com/ustyuzhaniniv/databaser/pkg/dbaction"
	"github.com/ustyuzhaniniv/databaser/pkg/dbconn"
	"github.com/ustyuzhaniniv/databaser/pkg/dblog"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every tenant-keyed table in the destination only contains the expected tenants",
		RunE:  runValidate,
	}

	flags.KeyValues(cmd)
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := dblog.NewPtermLogger(dblog.ParseLevel(cfg.LogLevel))

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

	cat, err := schema.Load(ctx, dst, cfg.Schema, cfg.KeyColumnNames, cfg.KeyTableName)
	if err != nil {
		return fmt.Errorf("loading destination schema: %w", err)
	}

	keyValues, _ := cmd.Flags().GetStringSlice("key-values")
	validator := dbaction.NewKeyColumnValidator(dst, cat, keyValues)

	ok, report, err := validator.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}

	if !ok {
		logger.Error("validation found unexpected tenant data", "report", report)
		return fmt.Errorf("destination validation failed")
	}

	logger.Info("destination validation passed")
	return nil
}
