package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/florianilch/graphauth/internal/graph"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newTable returns a bordered table for terminals and a borderless,
// tab-separated one for pipes.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	if !isTerminal(w) {
		table.SetAutoFormatHeaders(false)
		table.SetBorder(false)
		table.SetHeaderLine(false)
		table.SetColumnSeparator("")
		table.SetTablePadding("\t")
		table.SetNoWhiteSpace(true)
	}
	return table
}

func renderDriveItems(w io.Writer, items []graph.DriveItem) {
	table := newTable(w, "Name", "Type", "Size", "Link")
	for _, item := range items {
		kind, size := "file", formatSize(item.Size)
		if item.IsFolder {
			kind, size = "folder", ""
		}
		table.Append([]string{item.Name, kind, size, item.WebURL})
	}
	table.Render()
}

// formatSize renders a byte count with a binary unit.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
