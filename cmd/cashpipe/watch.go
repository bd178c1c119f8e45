package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/config"
	"github.com/ratecurve/cashpipe/internal/pipeline"
	"github.com/ratecurve/cashpipe/internal/reprocess"
)

var (
	watchDir     string
	watchTimeout time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for scraper output and reprocess automatically",
	Long: `Watch runs the reprocessing controller as a foreground service: scraper
completions detected in the watch directory trigger a rebuild, guarded by a
circuit breaker, a store-level lock, and a fallback copy-through path.
A failsafe timer catches anything the watcher misses. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := watchDir
		if dir == "" {
			dir = config.GetString("watch-dir")
		}
		if dir == "" {
			return fmt.Errorf("no watch directory: pass --dir or set watch-dir")
		}

		ctx := cmd.Context()
		log := newLogger()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		engine := pipeline.New(store, engineOptions("", nil), log)
		if err := engine.Recover(ctx); err != nil {
			return err
		}

		processor := func(runCtx context.Context) error {
			_, err := engine.Run(runCtx, pipeline.RunOptions{RebuildOnly: true})
			return err
		}
		controller := reprocess.NewController(store, processor, reprocess.Options{
			Timeout: watchTimeout,
		}, log)
		defer controller.Shutdown()

		watcher := reprocess.NewWatcher(dir, controller, log)
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case s := <-sig:
			log.Infof("received %s; shutting down", s)
		case <-ctx.Done():
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "Directory to watch for normalized scraper output")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Per-invocation reprocessing timeout (default 30s)")
	rootCmd.AddCommand(watchCmd)
}
