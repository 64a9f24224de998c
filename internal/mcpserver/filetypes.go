package mcpserver

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/starford/resultbox/internal/classify"
)

// FileTypesMarkdown renders the classifier table as a Markdown document.
func FileTypesMarkdown() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Extension", "Description", "Viewer"})
	for _, e := range classify.Table() {
		viewer := "-"
		if e.Visualizable {
			viewer = string(e.VisualizationType)
		}
		t.AppendRow(table.Row{"`" + e.Extension + "`", e.Description, viewer})
	}

	var b strings.Builder
	b.WriteString("# pVAC-Seq file types\n\n")
	b.WriteString("Files are classified by everything after the first dot of their name. ")
	b.WriteString("Names that match no entry are reported as \"Unknown File\"; ")
	b.WriteString("IEDB chunk files (`*.tsv_1-50`) and `*key` files are recognised by pattern.\n\n")
	b.WriteString(t.RenderMarkdown())
	b.WriteString("\n")
	return b.String()
}
