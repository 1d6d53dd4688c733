// Package report renders run results for humans.
package report

import (
	"fmt"
	"io"
	"strings"

	"checkin-backend/lib/engine"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Render writes one rounded table per run: a row per account with its
// outcome, plus a footer with the aggregate count.
func Render(w io.Writer, run engine.RunReport) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)

	t.SetTitle(fmt.Sprintf("%s (run %s)", run.Site, run.RunId))
	t.AppendHeader(table.Row{"Account", "Outcome", "Detail"})
	for _, r := range run.Results {
		symbol := "ok"
		if !r.Ok {
			symbol = "FAILED"
		}
		t.AppendRow(table.Row{r.Identity, fmt.Sprintf("%s (%s)", r.Status, symbol), r.Detail})
	}
	t.AppendFooter(table.Row{"", "succeeded", fmt.Sprintf("%d/%d", run.Succeeded, run.Total)})
	t.Render()
}

// Summarize produces the plain-text body used in notification emails.
func Summarize(runs []engine.RunReport) string {
	var b strings.Builder
	for _, run := range runs {
		fmt.Fprintf(&b, "%s: %d/%d succeeded (run %s)\n", run.Site, run.Succeeded, run.Total, run.RunId)
		for _, r := range run.Results {
			symbol := "ok"
			if !r.Ok {
				symbol = "FAILED"
			}
			fmt.Fprintf(&b, "  %s: %s (%s)", r.Identity, r.Status, symbol)
			if r.Detail != "" {
				fmt.Fprintf(&b, " %s", r.Detail)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
