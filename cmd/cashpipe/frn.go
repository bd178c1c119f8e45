package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/frn"
)

var overrideConfidence float64

var frnCmd = &cobra.Command{
	Use:   "frn",
	Short: "FRN lookup cache and research queue operations",
}

var frnResearchCmd = &cobra.Command{
	Use:   "research",
	Short: "List bank names queued for manual FRN research",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := store.ListResearchQueue(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			fmt.Println("research queue is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-40s %-12s %-12s %s\n", e.BankName, e.Platform, e.Source,
				e.FirstSeen.Format(time.RFC3339))
		}
		fmt.Printf("%d queued\n", len(entries))
		return nil
	},
}

var frnOverrideCmd = &cobra.Command{
	Use:   "override <bank-name> <frn>",
	Short: "Record a manual FRN override and rebuild the lookup cache",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := newLogger()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		bankName, frnNumber := args[0], args[1]
		if err := store.AddManualOverride(ctx, bankName, frnNumber, overrideConfidence); err != nil {
			return err
		}

		params, err := frn.LoadParams(ctx, store)
		if err != nil {
			return err
		}
		count, err := frn.RebuildCache(ctx, store, params.Norm, log)
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"bankName":     bankName,
				"frn":          frnNumber,
				"confidence":   overrideConfidence,
				"cacheEntries": count,
			})
			return nil
		}
		fmt.Printf("override recorded: %s -> %s (cache rebuilt, %d entries)\n", bankName, frnNumber, count)
		return nil
	},
}

var frnRebuildCacheCmd = &cobra.Command{
	Use:   "rebuild-cache",
	Short: "Rebuild the lookup cache from the FRN source tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := newLogger()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		params, err := frn.LoadParams(ctx, store)
		if err != nil {
			return err
		}
		count, err := frn.RebuildCache(ctx, store, params.Norm, log)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]any{"cacheEntries": count})
			return nil
		}
		fmt.Printf("lookup cache rebuilt: %d entries\n", count)
		return nil
	},
}

func init() {
	frnOverrideCmd.Flags().Float64Var(&overrideConfidence, "confidence", 1.0, "Override confidence")
	frnCmd.AddCommand(frnResearchCmd)
	frnCmd.AddCommand(frnOverrideCmd)
	frnCmd.AddCommand(frnRebuildCacheCmd)
	rootCmd.AddCommand(frnCmd)
}
