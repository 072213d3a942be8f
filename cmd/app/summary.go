package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/ingest"
)

// summaryTable renders the counts of one ingestion batch.
func summaryTable(sum *ingest.Summary) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.SetTitle("Ingest run " + sum.RunID)
	w.AppendHeader(table.Row{"Metric", "Count"})
	w.AppendRows([]table.Row{
		{"Files", sum.Files},
		{"Skipped files", sum.SkippedFiles},
		{"Failed files", sum.FailedFiles},
		{"Ingested", sum.Ingested},
		{"Inserted", sum.Inserted},
		{"Merged", sum.Merged},
		{"Unchanged", sum.Unchanged},
		{"Conflicts", sum.Conflicts},
		{"Rejected", sum.Rejected},
	})
	status := "committed"
	if sum.Aborted {
		status = "aborted"
	}
	w.AppendFooter(table.Row{"Status", status})
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	return w.Render() + "\n"
}

// rejectionTable lists rejected records with their reason.
func rejectionTable(rejs []*apperr.Rejection) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Source", "Kind", "Field", "Detail"})
	for _, r := range rejs {
		w.AppendRow(table.Row{r.Source, string(r.Kind), r.Field, r.Detail})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60},
	})
	return w.Render() + "\n"
}
