// SPDX-License-Identifier: Apache-2.0

// Package cmd wires databaser's cobra command tree: `databaser run` drives
// a full closure-and-transfer, `databaser validate` checks a destination's
// tenant scoping without transferring anything.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ustyuzhaniniv/databaser/cmd/flags"
)

// Prepare constructs the root command. Called from main.go.
func Prepare() *cobra.Command {
	root := &cobra.Command{
		Use:          "databaser",
		Short:        "Copy a tenant-scoped subset of a Postgres database into another",
		SilenceUsage: true,
	}

	flags.SourceDSN(root)
	flags.DestinationDSN(root)
	flags.Schema(root)
	flags.ConfigFile(root)

	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())

	return root
}

// Execute runs the root command, reading os.Args.
func Execute() error {
	return Prepare().Execute()
}
