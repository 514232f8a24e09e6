package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	colorOK   = color.New(color.FgGreen).SprintfFunc()
	colorWarn = color.New(color.FgYellow).SprintfFunc()
	colorFail = color.New(color.FgRed).SprintfFunc()
)

// printSuccess prints a status line followed by a green [OK]
func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "%-60s%s\n", msg, colorOK("[OK]"))
}

// printWarn prints a status line followed by a yellow [WARN]
func printWarn(w io.Writer, msg string) {
	fmt.Fprintf(w, "%-60s%s\n", msg, colorWarn("[WARN]"))
}

// printFail prints a status line followed by a red [FAIL]
func printFail(w io.Writer, msg string) {
	fmt.Fprintf(w, "%-60s%s\n", msg, colorFail("[FAIL]"))
}

// renderTable lays data out in borderless columns.
func renderTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
	)

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// statusColor paints a deploy or container state.
func statusColor(state string) string {
	switch state {
	case "success", "running", "succeeded":
		return colorOK("%s", state)
	case "failed", "dead", "exited":
		return colorFail("%s", state)
	default:
		return colorWarn("%s", state)
	}
}
