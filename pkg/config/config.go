// SPDX-License-Identifier: Apache-2.0

// Package config loads the closure engine's configuration from environment
// variables (and, optionally, a YAML or JSON config file), the way pgroll's
// cmd package binds flags through viper. Every setting can be given as a
// DATABASER_-prefixed environment variable; an on-disk config file, when
// present, supplies defaults that environment variables override.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every setting the closure engine reads before starting a
// run. Field names mirror the environment variables named in the original
// project, translated to Go's exported-field convention.
type Config struct {
	SourceDSN      string
	DestinationDSN string
	Schema         string

	KeyTableName  string
	KeyColumnNames []string

	ExcludedTables              []string
	FullTransferTables          []string
	TablesWithGenericForeignKey []string

	TablesTruncateIncluded []string
	TablesTruncateExcluded []string
	IsTruncateTables       bool

	TablesLimitPerTransaction int

	LogLevel string
}

// Load reads configuration from environment variables, optionally layered
// on top of a config file at configPath (empty to skip). Environment
// variables always win over file values.
func Load(configPath string) (*Config, error) {
	v := viper.GetViper()
	v.SetEnvPrefix("DATABASER")
	v.AutomaticEnv()

	v.SetDefault("tables_limit_per_transaction", 5000)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("is_truncate_tables", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		SourceDSN:      v.GetString("source_dsn"),
		DestinationDSN: v.GetString("destination_dsn"),
		Schema:         v.GetString("schema"),

		KeyTableName:   v.GetString("key_table_name"),
		KeyColumnNames: splitList(v.GetString("key_column_names")),

		ExcludedTables:              splitList(v.GetString("excluded_tables")),
		FullTransferTables:          splitList(v.GetString("full_transfer_tables")),
		TablesWithGenericForeignKey: splitList(v.GetString("tables_with_generic_foreign_key")),

		TablesTruncateIncluded: splitList(v.GetString("tables_truncate_included")),
		TablesTruncateExcluded: splitList(v.GetString("tables_truncate_excluded")),
		IsTruncateTables:       v.GetBool("is_truncate_tables"),

		TablesLimitPerTransaction: v.GetInt("tables_limit_per_transaction"),

		LogLevel: v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the settings required to run at all are present.
func (c *Config) Validate() error {
	var missing []string

	if c.SourceDSN == "" {
		missing = append(missing, "SOURCE_DSN")
	}
	if c.DestinationDSN == "" {
		missing = append(missing, "DESTINATION_DSN")
	}
	if c.Schema == "" {
		missing = append(missing, "SCHEMA")
	}
	if c.KeyTableName == "" {
		missing = append(missing, "KEY_TABLE_NAME")
	}
	if len(c.KeyColumnNames) == 0 {
		missing = append(missing, "KEY_COLUMN_NAMES")
	}

	if len(missing) > 0 {
		return MissingSettingsError{Names: missing}
	}
	return nil
}

// splitList parses a comma-separated environment variable value into a
// trimmed, empty-entry-filtered slice, the same parsing
// get_extensible_iterable_environ_parameter applies to list-valued
// settings.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	raw = strings.ReplaceAll(raw, " ", "")
	parts := strings.Split(raw, ",")

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MissingSettingsError is returned by Validate when required settings are
// absent.
type MissingSettingsError struct {
	Names []string
}

func (e MissingSettingsError) Error() string {
	return "config: missing required settings: " + strings.Join(e.Names, ", ")
}

// ParseBool is exposed for flags that accept the same truthy strings
// strtobool does ('y', 'yes', 't', 'true', 'on', '1').
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "t", "true", "on", "1":
		return true
	default:
		return false
	}
}

// ParseInt parses s as an int, returning def on failure.
func ParseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
