// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ustyuzhaniniv/databaser/pkg/config"
	"github.com/ustyuzhaniniv/databaser/pkg/schema"
)

func TestMaxNumericPK(t *testing.T) {
	max, ok := maxNumericPK([]string{"5", "12", "3"})
	assert.True(t, ok)
	assert.Equal(t, int64(12), max)

	_, ok = maxNumericPK([]string{"5", "not-a-number"})
	assert.False(t, ok)

	_, ok = maxNumericPK(nil)
	assert.False(t, ok)
}

func TestTruncateTargets_DefaultsToEveryTableMinusExcluded(t *testing.T) {
	cat := schema.NewCatalog()
	cat.Add(schema.NewTable("tenants"))
	cat.Add(schema.NewTable("customers"))
	cat.Add(schema.NewTable("audit_log"))
	cat.Build()

	cfg := &config.Config{TablesTruncateExcluded: []string{"audit_log"}}

	targets := truncateTargets(cfg, cat)
	assert.ElementsMatch(t, []string{"tenants", "customers"}, targets)
}

func TestTruncateTargets_ExplicitIncludedListWins(t *testing.T) {
	cat := schema.NewCatalog()
	cat.Add(schema.NewTable("tenants"))
	cat.Add(schema.NewTable("customers"))
	cat.Build()

	cfg := &config.Config{
		TablesTruncateIncluded: []string{"tenants"},
		TablesTruncateExcluded: []string{"customers"},
	}

	targets := truncateTargets(cfg, cat)
	assert.Equal(t, []string{"tenants"}, targets)
}
