package main

import (
	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/pipeline"
)

var rebuildStopAfter string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the canonical table from the raw table without ingesting",
	Long: `Rebuild skips ingestion and re-runs FRN matching and deduplication over
everything already in the raw table. Input files on disk are left alone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateStopAfter(rebuildStopAfter); err != nil {
			return err
		}
		return executeRun(cmd, pipeline.RunOptions{RebuildOnly: true}, rebuildStopAfter)
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildStopAfter, "stop-after", "", "Stop after a stage (frn_matching|deduplication)")
	rootCmd.AddCommand(rebuildCmd)
}
