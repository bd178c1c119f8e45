package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/config"
	"github.com/ratecurve/cashpipe/internal/pipeline"
	"github.com/ratecurve/cashpipe/internal/types"
	"github.com/ratecurve/cashpipe/internal/ui"
)

var (
	runFiles       []string
	runStopAfter   string
	runAtomic      bool
	runRequestID   string
	runRebuildOnly bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline over normalized scraper files",
	Long: `Run ingests the given normalized JSON files, then rebuilds the canonical
product table: FRN matching, FSCS deduplication, and optional data quality
analysis. File arguments accept shell-style globs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateStopAfter(runStopAfter); err != nil {
			return err
		}
		files, err := expandGlobs(append(runFiles, args...))
		if err != nil {
			return err
		}
		if len(files) == 0 && !runRebuildOnly {
			return fmt.Errorf("no input files: pass paths or --files globs")
		}
		if cmd.Flags().Changed("atomic") {
			config.Set("atomic", runAtomic)
		}
		return executeRun(cmd, pipeline.RunOptions{
			Files:       files,
			RequestID:   runRequestID,
			RebuildOnly: runRebuildOnly,
		}, runStopAfter)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runFiles, "files", nil, "Normalized JSON files to ingest (globs allowed)")
	runCmd.Flags().StringVar(&runStopAfter, "stop-after", "", "Stop after a stage (json_ingestion|frn_matching|deduplication)")
	runCmd.Flags().BoolVar(&runAtomic, "atomic", true, "Run all stages in one transaction")
	runCmd.Flags().StringVar(&runRequestID, "request-id", "", "Correlation ID attached to progress events")
	runCmd.Flags().BoolVar(&runRebuildOnly, "rebuild-only", false, "Skip ingestion and reprocess the existing raw table")
	rootCmd.AddCommand(runCmd)
}

// validateStopAfter rejects unknown stage names up front: an unrecognized
// value would downgrade the run to incremental and then never stop it.
func validateStopAfter(stage string) error {
	switch stage {
	case "", types.StageIngestion, types.StageFRNMatching, types.StageDedup:
		return nil
	}
	return fmt.Errorf("unknown --stop-after stage %q (valid: %s, %s, %s)",
		stage, types.StageIngestion, types.StageFRNMatching, types.StageDedup)
}

// executeRun is shared by run and rebuild: open the store, recover stale
// state, run the engine, render the result.
func executeRun(cmd *cobra.Command, runOpts pipeline.RunOptions, stopAfter string) error {
	ctx := cmd.Context()
	log := newLogger()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var emitter pipeline.Emitter
	if config.GetBool("verbose") && !jsonOutput {
		emitter = func(ev pipeline.Event) {
			if ev.Type == pipeline.EventProgress || ev.Type == pipeline.EventStageStarted {
				fmt.Printf("[%3d%%] %s %s\n", ev.TotalProgress, ev.Stage, ev.Message)
			}
		}
	}

	engine := pipeline.New(store, engineOptions(stopAfter, emitter), log)
	if err := engine.Recover(ctx); err != nil {
		return err
	}

	result, runErr := engine.Run(ctx, runOpts)
	if jsonOutput {
		outputJSON(runResultJSON(result, runErr))
	} else {
		fmt.Println(ui.RenderRunSummary(result))
	}
	return runErr
}

type runJSON struct {
	BatchID    string             `json:"batchId"`
	Success    bool               `json:"success"`
	RawCount   int                `json:"rawCount"`
	FinalCount int                `json:"finalCount"`
	DurationMS int64              `json:"durationMs"`
	Stages     []types.StageResult `json:"stages"`
	Errors     []string           `json:"errors,omitempty"`
	ErrorCode  string             `json:"errorCode,omitempty"`
}

func runResultJSON(result *types.PipelineResult, runErr error) runJSON {
	out := runJSON{
		BatchID:    result.BatchID,
		Success:    result.Success,
		RawCount:   result.RawCount,
		FinalCount: result.FinalCount,
		DurationMS: result.Duration().Milliseconds(),
		Stages:     result.Stages,
		Errors:     result.Errors,
	}
	if runErr != nil {
		out.ErrorCode = string(types.CodeOf(runErr))
	}
	return out
}
