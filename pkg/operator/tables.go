package operator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"dev/bravebird/mar-export/pkg/consolidate"
	"dev/bravebird/mar-export/pkg/models"
)

// previewItems is how many names of each chunk the plan shows
const previewItems = 3

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(out)
	return t
}

// RenderPlan prints the chunks a run will process
func RenderPlan(out io.Writer, chunks []models.Chunk) {
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("CHUNKING PLAN: %d chunks, %d reports", len(chunks), len(chunks)))
	t.AppendHeader(table.Row{"Chunk", "Items", "Size", "First", "Last"})
	for i, c := range chunks {
		first, last := "", ""
		if c.Size > 0 {
			first, last = c.Items[0], c.Items[c.Size-1]
		}
		t.AppendRow(table.Row{i + 1, fmt.Sprintf("%d-%d", c.StartIndex, c.EndIndex), c.Size, first, last})
	}
	t.Render()
}

// RenderChunk prints the first names of a chunk about to be processed
func RenderChunk(out io.Writer, num, total int, c models.Chunk) {
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("CHUNK %d OF %d: items %d-%d", num, total, c.StartIndex, c.EndIndex))
	t.AppendHeader(table.Row{"#", "Name"})
	for i, name := range c.Items {
		if i == previewItems {
			t.AppendFooter(table.Row{"", fmt.Sprintf("... and %d more", c.Size-previewItems)})
			break
		}
		t.AppendRow(table.Row{c.StartIndex + i, name})
	}
	t.Render()
}

// RenderSummary prints per-chunk results and totals of a run
func RenderSummary(out io.Writer, s *models.RunSummary) {
	t := newTable(out)
	t.SetTitle("RUN SUMMARY " + string(s.Status))
	t.AppendHeader(table.Row{"Chunk", "Selected", "Failed", "Report", "Duration"})
	for _, c := range s.Chunks {
		selected := fmt.Sprintf("%d/%d", c.Selected, c.Size)
		if c.SelectedAll {
			selected += " (Select All)"
		}
		t.AppendRow(table.Row{
			c.ChunkNum,
			selected,
			failedPreview(c.Failed),
			c.Report.Status,
			(time.Duration(c.Duration) * time.Millisecond).Round(time.Second),
		})
	}
	t.AppendFooter(table.Row{
		"Total",
		s.TotalSelected,
		s.TotalFailed,
		fmt.Sprintf("%d ok / %d failed", s.SuccessfulReports, s.FailedReports),
		"",
	})
	t.Render()
}

// RenderRuns prints run history
func RenderRuns(out io.Writer, runs []models.RunRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Run", "Mode", "Status", "Items", "Chunks", "Region", "Started", "Completed"})
	for _, r := range runs {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Local().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{
			r.ID,
			r.Mode,
			r.Status,
			r.TotalItems,
			r.TotalChunks,
			r.RegionFilter,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			completed,
		})
	}
	t.Render()
}

// RenderChunkRecords prints stored chunk results of one run
func RenderChunkRecords(out io.Writer, chunks []models.ChunkRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Chunk", "Size", "Selected", "Failed", "Report", "File"})
	for _, c := range chunks {
		t.AppendRow(table.Row{c.ChunkNum, c.Size, c.Selected, failedPreview(c.Failed), c.ReportStatus, c.DownloadPath})
	}
	t.Render()
}

// topRegions is how many regions the consolidation summary lists
const topRegions = 5

// RenderConsolidation prints where the merged file went and how its rows map
// to regions.
func RenderConsolidation(out io.Writer, r *consolidate.Result) {
	t := newTable(out)
	t.SetTitle(fmt.Sprintf("CONSOLIDATED %d FILES INTO %d ROWS", len(r.Files), r.Rows))
	t.AppendHeader(table.Row{"Region", "Rows"})
	for _, rc := range r.TopRegions(topRegions) {
		t.AppendRow(table.Row{rc.Region, rc.Count})
	}
	t.AppendFooter(table.Row{"Mapped", fmt.Sprintf("%d/%d", r.Mapped, r.Rows)})
	t.Render()

	fmt.Fprintf(out, "Output: %s\n", r.OutputPath)
	for _, s := range r.Skipped {
		fmt.Fprintf(out, "Skipped %s: %s\n", s.Name, s.Error)
	}
	if len(r.Unmapped) > 0 {
		fmt.Fprintf(out, "Unmapped care services: %s\n", failedPreview(r.Unmapped))
	}
	if r.Warning != "" {
		fmt.Fprintf(out, "WARNING: %s\n", r.Warning)
	}
}

func failedPreview(failed []string) string {
	if len(failed) == 0 {
		return ""
	}
	if len(failed) <= previewItems {
		return strings.Join(failed, ", ")
	}
	return fmt.Sprintf("%s ... and %d more", strings.Join(failed[:previewItems], ", "), len(failed)-previewItems)
}
