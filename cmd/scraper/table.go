package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"mangacatalog/internal/pipeline"
)

type kv [2]string

// renderKeyValues draws a two-column table. Each group after the first is
// set off by a separator line.
func renderKeyValues(header kv, valueAlign text.Align, groups ...[]kv) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{header[0], header[1]})
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		if i > 0 {
			tw.AppendSeparator()
		}
		for _, row := range group {
			tw.AppendRow(table.Row{row[0], row[1]})
		}
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: valueAlign, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func renderSummary(sum *pipeline.Summary) string {
	counts := []kv{
		{"Run", sum.RunID},
		{"Pages", fmt.Sprint(sum.Pages)},
		{"Pages failed", fmt.Sprint(sum.PagesFailed)},
		{"Items processed", fmt.Sprint(sum.Processed)},
		{"Volumes created", fmt.Sprint(sum.Created)},
		{"Volumes updated", fmt.Sprint(sum.Updated)},
		{"Items failed", fmt.Sprint(sum.Failed)},
		{"Warnings", fmt.Sprint(sum.Warnings)},
		{"Canceled", yesNo(sum.Canceled)},
		{"Duration", sum.Duration().Round(1e6).String()},
	}
	return renderKeyValues(kv{"Metric", "Value"}, text.AlignRight, counts, failureRows(sum.Failures))
}

// failureRows lists failure counts by kind, sorted by kind.
func failureRows(failures map[pipeline.FailureKind]int64) []kv {
	kinds := make([]string, 0, len(failures))
	for k := range failures {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	rows := make([]kv, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, kv{"Failures: " + k, fmt.Sprint(failures[pipeline.FailureKind(k)])})
	}
	return rows
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
