// SPDX-License-Identifier: Apache-2.0

// Package flags defines the CLI flags shared by databaser's subcommands
// and binds each to its viper key, the same pattern pgroll's cmd/flags
// package uses for its Postgres connection flags.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SourceDSN registers the --source flag (the tenant-scoped database being
// read from) on cmd and binds it to the source_dsn viper key.
func SourceDSN(cmd *cobra.Command) {
	cmd.PersistentFlags().String("source", "", "connection string for the source database")
	viper.BindPFlag("source_dsn", cmd.PersistentFlags().Lookup("source"))
}

// DestinationDSN registers the --destination flag (the database being
// written to) on cmd and binds it to the destination_dsn viper key.
func DestinationDSN(cmd *cobra.Command) {
	cmd.PersistentFlags().String("destination", "", "connection string for the destination database")
	viper.BindPFlag("destination_dsn", cmd.PersistentFlags().Lookup("destination"))
}

// Schema registers the --schema flag and binds it to the schema viper key.
func Schema(cmd *cobra.Command) {
	cmd.PersistentFlags().String("schema", "public", "schema to read the source catalog from")
	viper.BindPFlag("schema", cmd.PersistentFlags().Lookup("schema"))
}

// ConfigFile registers the --config flag used to point at an optional
// on-disk YAML or JSON configuration file.
func ConfigFile(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "path to an optional YAML/JSON configuration file")
}

// KeyValues registers the --key-values flag listing the tenant primary
// keys a run is scoped to.
func KeyValues(cmd *cobra.Command) {
	cmd.Flags().StringSlice("key-values", nil, "primary keys of the key table to scope the transfer to")
	viper.BindPFlag("key_values", cmd.Flags().Lookup("key-values"))
}
