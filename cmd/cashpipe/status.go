package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
	"github.com/ratecurve/cashpipe/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state and the most recent batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		status, err := store.GetPipelineStatus(ctx)
		if err != nil {
			return err
		}
		last, err := store.LastBatch(ctx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if jsonOutput {
			outputJSON(statusJSON(status, last))
			return nil
		}
		fmt.Println(ui.RenderStatus(status, last))
		return nil
	},
}

type statusOut struct {
	Running      bool       `json:"running"`
	CurrentStage string     `json:"currentStage,omitempty"`
	BatchID      string     `json:"batchId,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	LastBatch    *batchOut  `json:"lastBatch,omitempty"`
}

type batchOut struct {
	BatchID     string     `json:"batchId"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func statusJSON(status storage.PipelineStatusRow, last *types.PipelineBatch) statusOut {
	out := statusOut{Running: status.IsRunning}
	if status.IsRunning {
		out.CurrentStage = status.CurrentStage
		out.BatchID = status.BatchID
		started := status.StartedAt
		out.StartedAt = &started
	}
	if last != nil {
		b := &batchOut{
			BatchID:   last.BatchID,
			Status:    string(last.Status),
			StartedAt: last.StartedAt,
			Error:     last.ErrorMessage,
		}
		if last.CompletedAt != nil {
			b.CompletedAt = last.CompletedAt
		}
		out.LastBatch = b
	}
	return out
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
