package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bindery/internal/job"
	"bindery/internal/registry"
)

var (
	statusCaser = cases.Title(language.English)
	colorOutput = isatty.IsTerminal(os.Stdout.Fd())
)

// renderJobsTable formats registry records for the jobs listing. The detail
// column shows the current stage, or the error message for failed jobs.
func renderJobsTable(records []registry.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Attempt", "Detail"})

	for _, rec := range records {
		detail := rec.Stage
		if rec.Status == job.StatusError && rec.ErrorMessage != "" {
			detail = rec.ErrorMessage
		}
		tw.AppendRow(table.Row{
			rec.ID.String()[:8],
			rec.Title,
			statusCell(rec.Status),
			fmt.Sprintf("%d%%", int(rec.Fraction*100)),
			rec.Attempt,
			detail,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func statusCell(status job.Status) string {
	label := statusCaser.String(string(status))
	if !colorOutput {
		return label
	}
	switch status {
	case job.StatusCompleted:
		return text.FgGreen.Sprint(label)
	case job.StatusError:
		return text.FgRed.Sprint(label)
	case job.StatusProcessing:
		return text.FgCyan.Sprint(label)
	default:
		return label
	}
}
