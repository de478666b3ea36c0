// SPDX-License-Identifier: Apache-2.0

// Package stats records per-stage timing and memory usage for a single
// transfer run, and renders a final report. It is a port of loggers.py's
// StatisticManager and statistic_indexer context manager: each stage of the
// orchestrator is wrapped in a Sample call that records wall-clock time
// (and, where available, RSS) on entry and exit.
package stats

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// Stage names mirror enums.StagesEnum; they're used only as report labels,
// never branched on, so plain strings are enough.
const (
	StageSchemaLoad        = "load schema"
	StageKeyTable          = "key table"
	StageFullTransfer      = "full-transfer tables"
	StageKeyColumnClosure  = "key-column closure"
	StageGenericFKClosure  = "generic foreign key closure"
	StageDependencySort    = "dependency-sorted closure"
	StageValidate          = "validate"
	StageTransfer          = "transfer"
	StageSequenceBump      = "bump sequences"
)

type sample struct {
	start, end     time.Time
	startRSS       uint64
	endRSS         uint64
}

// Report accumulates stage samples and per-table transfer counts over the
// lifetime of a run.
type Report struct {
	stages      map[string]*sample
	stageOrder  []string
	tableCounts map[string]tableCount
}

type tableCount struct {
	transferred int64
	needed      int64
}

// New returns an empty Report.
func New() *Report {
	return &Report{
		stages:      make(map[string]*sample),
		tableCounts: make(map[string]tableCount),
	}
}

// Sample runs f while recording wall-clock time and resident memory for the
// named stage, the same way statistic_indexer wraps each stage of the
// Python orchestrator.
func (r *Report) Sample(stage string, f func() error) error {
	s := &sample{start: time.Now(), startRSS: currentRSS()}
	if _, ok := r.stages[stage]; !ok {
		r.stageOrder = append(r.stageOrder, stage)
	}

	err := f()

	s.end = time.Now()
	s.endRSS = currentRSS()
	r.stages[stage] = s

	return err
}

// RecordTable records how many of a table's rows were selected for
// transfer versus how many were actually transferred, for the final
// per-table report.
func (r *Report) RecordTable(table string, transferred, needed int64) {
	r.tableCounts[table] = tableCount{transferred: transferred, needed: needed}
}

func currentRSS() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// String renders a pterm table summarizing stage durations followed by a
// table summarizing per-table transfer counts, sorted by transferred count
// ascending.
func (r *Report) String() string {
	var sb strings.Builder

	stageData := [][]string{{"stage", "duration", "rss delta"}}
	for _, stage := range r.stageOrder {
		s := r.stages[stage]
		var rssDelta int64
		if s.endRSS >= s.startRSS {
			rssDelta = int64(s.endRSS - s.startRSS)
		}
		stageData = append(stageData, []string{
			stage,
			s.end.Sub(s.start).Round(time.Millisecond).String(),
			fmt.Sprintf("%d bytes", rssDelta),
		})
	}
	stageTable, _ := pterm.DefaultTable.WithHasHeader().WithData(stageData).Srender()
	sb.WriteString(stageTable)
	sb.WriteString("\n")

	names := make([]string, 0, len(r.tableCounts))
	for name := range r.tableCounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.tableCounts[names[i]].transferred < r.tableCounts[names[j]].transferred
	})

	tableData := [][]string{{"table", "transferred", "needed"}}
	for _, name := range names {
		tc := r.tableCounts[name]
		tableData = append(tableData, []string{name, fmt.Sprintf("%d", tc.transferred), fmt.Sprintf("%d", tc.needed)})
	}
	countsTable, _ := pterm.DefaultTable.WithHasHeader().WithData(tableData).Srender()
	sb.WriteString(countsTable)

	return sb.String()
}
