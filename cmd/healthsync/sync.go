package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/kaiwenho/healthsync/internal/sync"
	"github.com/kaiwenho/healthsync/internal/sync/scheduler"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization round now",
	Long: `Run a single gather/push/resolve/finalize round against the server.

The round is all-or-nothing up to the push: a failure while gathering or
pushing leaves local state untouched. Conflicts returned by the server are
applied one at a time and reported back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		source, _ := cmd.Flags().GetString("source")
		if source != "" {
			a.engine = syncpkg.NewEngine(a.store, a.client, a.deviceID(), syncpkg.PushSource(source))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		result, err := a.engine.Sync(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Sync completed in %s\n", result.Duration.Round(time.Millisecond))
		fmt.Printf("  pushed:    %d messages, %d advice, %d diet records\n",
			result.Pushed.Messages, result.Pushed.Advice, result.Pushed.DietRecords)
		if result.Conflicts > 0 {
			fmt.Printf("  conflicts: %d (resolved %d, skipped %d)\n",
				result.Conflicts, result.Resolved, result.SkippedConflicts)
		}
		if result.ReportFailures > 0 {
			fmt.Printf("  warning: %d resolution reports failed\n", result.ReportFailures)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		sched := scheduler.New(a.engine, &scheduler.Config{
			Interval:     a.cfg.SyncInterval,
			RoundTimeout: 5 * time.Minute,
		})

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sched.Start(ctx)
		defer sched.Stop()

		fmt.Printf("Syncing every %s. Press Ctrl+C to stop.\n", a.cfg.SyncInterval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("Stopping...")
		return nil
	},
}

func init() {
	syncCmd.Flags().String("source", "", `push payload source: "ledger" or "server_unsynced"`)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}
