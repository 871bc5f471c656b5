package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/wolfeidau/webbuild/internal/assets"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	sizeStyle   = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// printReport renders the files of a build as a table, one row per file.
func printReport(w io.Writer, out *assets.Output) {
	owner := map[*assets.File]string{}
	for _, entry := range out.Entries {
		for _, f := range out.Chunks[entry.Name] {
			owner[f] = entry.Name
		}
	}

	rows := make([][]string, 0, len(out.Files))
	for _, f := range out.Files {
		rel, err := filepath.Rel(out.Dir, f.Path)
		if err != nil {
			rel = f.Name()
		}
		rows = append(rows, []string{rel, f.Kind.String(), owner[f], formatBytes(int64(len(f.Contents)))})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("FILE", "KIND", "ENTRY", "SIZE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3:
				return sizeStyle
			default:
				return cellStyle
			}
		})

	footer := footerStyle.Render(fmt.Sprintf("%d files, %s, fingerprint %s",
		len(out.Files), formatBytes(out.Size()), out.Fingerprint))

	fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, t.String(), footer))
}

func formatBytes(n int64) string {
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

