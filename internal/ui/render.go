// Package ui renders pipeline results for the terminal.
package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

var (
	ColorPass  = lipgloss.Color("42")
	ColorWarn  = lipgloss.Color("214")
	ColorFail  = lipgloss.Color("196")
	ColorMuted = lipgloss.Color("243")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Align(lipgloss.Center)

	passStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	borderStyle = lipgloss.NewStyle().Foreground(ColorMuted)
)

// RenderRunSummary renders the per-stage result table for a finished run.
func RenderRunSummary(result *types.PipelineResult) string {
	rows := [][]string{}
	for _, s := range result.Stages {
		rows = append(rows, []string{
			s.Stage,
			fmt.Sprintf("%d", s.Passed),
			fmt.Sprintf("%d", s.Rejected),
			s.Duration.Round(time.Millisecond).String(),
		})
	}

	t := table.New().
		Headers("STAGE", "PASSED", "REJECTED", "DURATION").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	status := passStyle.Render("completed")
	if !result.Success {
		status = failStyle.Render("failed")
	}
	summary := fmt.Sprintf("batch %s %s: %d raw, %d canonical in %s",
		result.BatchID, status, result.RawCount, result.FinalCount,
		result.Duration().Round(time.Millisecond))

	out := t.String() + "\n" + summary
	for _, e := range result.Errors {
		out += "\n" + failStyle.Render("error: "+e)
	}
	return out
}

// RenderStatus renders the pipeline status singleton plus the last batch.
func RenderStatus(status storage.PipelineStatusRow, last *types.PipelineBatch) string {
	state := mutedStyle.Render("idle")
	if status.IsRunning {
		state = passStyle.Render(fmt.Sprintf("running (%s, batch %s)", status.CurrentStage, status.BatchID))
	}
	out := "pipeline: " + state

	if last != nil {
		line := fmt.Sprintf("last batch: %s %s, started %s", last.BatchID, last.Status,
			last.StartedAt.Format(time.RFC3339))
		if last.Status == types.BatchFailed && last.ErrorMessage != "" {
			line += " (" + last.ErrorMessage + ")"
		}
		out += "\n" + line
	}
	return out
}
