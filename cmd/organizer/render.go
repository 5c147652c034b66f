package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
)

func isTTY(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func progressLine(job domain.Job) string {
	line := fmt.Sprintf("[%5.1f%%] %s %d/%d", job.Progress, job.Phase, job.ProcessedItems, job.TotalItems)
	if job.CurrentItem != "" {
		line += " " + filepath.Base(job.CurrentItem)
	}
	return line
}

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, column := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: column, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func writeSummary(w io.Writer, job domain.Job) {
	fmt.Fprintf(w, "job %s %s\n", job.ID, job.Status)
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", job.ErrorMessage)
	}
	if job.Result == nil {
		return
	}
	result := job.Result

	rows := make([][]string, 0, len(result.Groups))
	for _, group := range result.Groups {
		folder := ""
		if len(group.Files) > 0 {
			folder = filepath.Dir(group.Files[0].DestinationPath)
		}
		rows = append(rows, []string{group.CanonicalName, strconv.Itoa(len(group.Files)), folder})
	}
	fmt.Fprintln(w, renderTable([]string{"Group", "Files", "Folder"}, rows, 2))

	if len(result.Skipped) > 0 {
		skipped := make([][]string, 0, len(result.Skipped))
		for _, item := range result.Skipped {
			skipped = append(skipped, []string{filepath.Base(item.Path), string(item.Stage), strings.TrimSpace(item.Reason)})
		}
		fmt.Fprintln(w, renderTable([]string{"Skipped", "Stage", "Reason"}, skipped))
	}

	stats := result.Stats
	fmt.Fprintf(w, "%d images, %d organized into %d groups, %d skipped\n",
		stats.TotalImages, stats.OrganizedImages, stats.GroupsCreated, len(result.Skipped))
}
